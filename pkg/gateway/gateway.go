// Package gateway handles participant requests: validates them, calls
// the room registry or the signaling relay and tells the room about changes.
package gateway

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/com"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/relay"
	"github.com/giongto35/cloud-meet/pkg/room"
)

// Conn is a participant socket.
type Conn interface {
	Id() com.Uid
	Send(packet api.Out) error
}

// CredentialIssuer gives out TURN credentials.
type CredentialIssuer interface {
	Issue(participantId string) api.RelayCredential
}

type Gateway struct {
	rooms *room.Registry
	relay *relay.Relay
	creds CredentialIssuer
	conns com.Map[string, Conn]
	log   *logger.Logger
}

func New(rooms *room.Registry, creds CredentialIssuer, log *logger.Logger) *Gateway {
	g := &Gateway{
		rooms: rooms,
		creds: creds,
		conns: com.Map[string, Conn]{},
		log:   log.Extend(log.With().Str(logger.ModuleField, "gate")),
	}
	g.relay = relay.New(rooms, g)
	rooms.OnExpire(g.onExpire)
	return g
}

// Connect registers a new socket. The token is the last reconnection token
// the participant had, it may be empty.
func (g *Gateway) Connect(c Conn, token string) {
	g.conns.Put(c.Id().String(), c)
	connections.Inc()
	g.log.Debug().Str(logger.ClientField, c.Id().Short()).Msg("Connected")

	if token == "" {
		return
	}
	roomId, left, err := g.rooms.ReconnectWindow(token)
	if err != nil {
		return
	}
	_ = c.Send(api.Out{T: api.ReconnectionAvailable, Payload: api.ReconnectionAvailableMessage{
		RoomId: roomId, TimeLeft: left.Milliseconds(),
	}})
}

// Disconnect forgets the socket. Its participant stays in the room
// for the grace window.
func (g *Gateway) Disconnect(c Conn) {
	id := c.Id().String()
	if !g.conns.CompareAndRemove(id, func(v Conn) bool { return v == c }) {
		return
	}
	connections.Dec()
	g.log.Debug().Str(logger.ClientField, c.Id().Short()).Msg("Disconnected")

	res, err := g.rooms.RemoveParticipant(id, false)
	if err != nil {
		return
	}
	g.broadcast(res.Snapshot, api.EventDisconnected, &res.Participant, "")
	g.push(res.Participants, res.Participant.Id, api.PeerDisconnected,
		api.PeerDisconnectedMessage{RoomId: res.Room.Id, ParticipantId: res.Participant.Id})
}

func (g *Gateway) onExpire(res room.Removed) {
	g.broadcast(res.Snapshot, api.EventLeft, nil, res.Participant.Id)
	g.updateRooms()
}

// Push sends a packet without an id to the socket.
func (g *Gateway) Push(socketId string, t api.PT, payload any) error {
	c, err := g.conns.Find(socketId)
	if err != nil {
		return err
	}
	return c.Send(api.Out{T: t, Payload: payload})
}

// Handle processes one request packet and replies to it.
func (g *Gateway) Handle(c Conn, in api.In) {
	log := g.log.Extend(g.log.With().Str(logger.ClientField, c.Id().Short()).Str(logger.DirectionField, "←"))
	log.Debug().Str("t", string(in.T)).Msg("Packet")

	var out any
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("t", string(in.T)).Msgf("Handler panic: %v\n%s", r, debug.Stack())
			out = api.Fail(api.ErrInternal)
		}
		if in.Id == "" {
			return
		}
		if err := c.Send(api.Out{Id: in.Id, T: in.T, Payload: out}); err != nil {
			log.Debug().Err(err).Msg("Reply fail")
		}
	}()

	var err error
	out, err = g.dispatch(c.Id().String(), in)
	result := "ok"
	if err != nil {
		result = api.AsError(err).Code
		var typed *api.Error
		if !errors.As(err, &typed) || typed.Class == api.ClassInternal {
			log.Error().Err(err).Str("t", string(in.T)).Msg("Request fail")
		} else {
			log.Debug().Err(err).Str("t", string(in.T)).Msg("Request rejected")
		}
		out = errorReply(in.T, err)
	}
	commandsTotal.WithLabelValues(string(in.T), result).Inc()
}

func (g *Gateway) dispatch(sid string, in api.In) (any, error) {
	switch in.T {
	case api.CreateRoom:
		return handle(in, sid, g.createRoom)
	case api.JoinRoom:
		return handle(in, sid, g.joinRoom)
	case api.ReconnectRoom:
		return handle(in, sid, g.reconnectRoom)
	case api.LeaveRoom:
		return handle(in, sid, g.leaveRoom)
	case api.GetRoomInfo:
		return handle(in, sid, g.roomInfo)
	case api.CloseRoom:
		return handle(in, sid, g.closeRoom)
	case api.UpdateMediaStatus:
		return handle(in, sid, g.updateMedia)
	case api.GetRelayCredentials:
		return g.relayCredentials(sid)
	case api.WebrtcOffer, api.WebrtcAnswer, api.WebrtcIceCandidate:
		rq, err := api.UnwrapChecked[api.SignalRequest](in.Payload)
		if err != nil {
			return nil, err
		}
		if err = rq.Validate(in.T); err != nil {
			return nil, err
		}
		return g.signal(sid, in.T, *rq)
	default:
		return nil, api.ErrValidation.With(fmt.Sprintf("unknown kind [%v]", in.T))
	}
}

type validated interface{ Validate() error }

// handle decodes and checks the payload before it reaches the handler.
func handle[T any, PT interface {
	*T
	validated
}](in api.In, sid string, fn func(sid string, rq T) (any, error)) (any, error) {
	rq, err := api.UnwrapChecked[T](in.Payload)
	if err != nil {
		return nil, err
	}
	if err = PT(rq).Validate(); err != nil {
		return nil, err
	}
	return fn(sid, *rq)
}

// errorReply builds the failed reply of the same shape as the success one.
func errorReply(t api.PT, err error) any {
	r := api.Fail(err)
	switch t {
	case api.CreateRoom:
		return api.CreateRoomResponse{Response: r}
	case api.JoinRoom, api.ReconnectRoom:
		return api.JoinRoomResponse{Response: r}
	case api.GetRoomInfo:
		return api.RoomInfoResponse{Response: r}
	case api.GetRelayCredentials:
		return api.RelayCredentialsResponse{Response: r}
	default:
		return r
	}
}

// broadcast sends room-updated to every connected member of the room.
func (g *Gateway) broadcast(s room.Snapshot, event string, p *api.Participant, leftId string) {
	g.push(s.Participants, "", api.RoomUpdated, api.RoomUpdate{
		RoomId:            s.Room.Id,
		Participants:      s.Participants,
		Event:             event,
		Participant:       p,
		LeftParticipantId: leftId,
	})
}

// push sends the packet to every connected participant except one.
func (g *Gateway) push(to []api.Participant, except string, t api.PT, payload any) {
	for _, p := range to {
		if p.SocketId == nil || p.Id == except {
			continue
		}
		if err := g.Push(*p.SocketId, t, payload); err != nil {
			g.log.Debug().Err(err).Str("pid", p.Id).Str("t", string(t)).Msg("Push fail")
		}
	}
}

// Sweep forgets old empty rooms and expired tokens.
func (g *Gateway) Sweep() {
	rooms, tokens := g.rooms.Sweep()
	if rooms > 0 || tokens > 0 {
		g.log.Debug().Int("rooms", rooms).Int("tokens", tokens).Msg("Sweep")
	}
	g.updateRooms()
}

// Rooms returns the number of rooms.
func (g *Gateway) Rooms() int { return g.rooms.Rooms() }

// Connections returns the number of open sockets.
func (g *Gateway) Connections() int { return g.conns.Len() }

func (g *Gateway) updateRooms() { roomsActive.Set(float64(g.rooms.Rooms())) }

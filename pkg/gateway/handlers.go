package gateway

import (
	"errors"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/room"
)

func (g *Gateway) createRoom(sid string, rq api.CreateRoomRequest) (any, error) {
	prev, _ := g.rooms.RoomOf(sid)

	profile := room.Profile{UserName: rq.UserName}
	j, err := g.rooms.CreateRoom(rq.EventId, sid, profile)
	event := api.EventJoined
	// the creator is back after a page reload
	if errors.Is(err, api.ErrRoomAlreadyActive) && rq.ReconnectionToken != "" {
		if rj, rerr := g.rooms.Reconnect(rq.EventId, sid, rq.ReconnectionToken); rerr == nil {
			j, err, event = rj, nil, api.EventReconnected
		}
	}
	if err != nil {
		return nil, err
	}
	g.moveOut(sid, prev, j)
	if !j.Unchanged {
		g.broadcast(j.Snapshot, event, &j.Participant, "")
		g.updateRooms()
	}
	rm := j.Room
	return api.CreateRoomResponse{
		Response:          api.Ok(),
		Room:              &rm,
		Participant:       &j.Participant,
		ReconnectionToken: j.Token,
	}, nil
}

func (g *Gateway) joinRoom(sid string, rq api.JoinRoomRequest) (any, error) {
	prev, _ := g.rooms.RoomOf(sid)

	j, err := g.rooms.AddParticipant(rq.RoomId, sid, room.Profile{UserName: rq.UserName}, rq.ReconnectionToken)
	if err != nil {
		return nil, err
	}
	g.moveOut(sid, prev, j)
	event := api.EventJoined
	if j.IsReconnection {
		event = api.EventReconnected
	}
	if !j.Unchanged {
		g.broadcast(j.Snapshot, event, &j.Participant, "")
	}
	return joined(j), nil
}

func (g *Gateway) reconnectRoom(sid string, rq api.ReconnectRoomRequest) (any, error) {
	prev, _ := g.rooms.RoomOf(sid)

	j, err := g.rooms.Reconnect(rq.RoomId, sid, rq.ReconnectionToken)
	if err != nil {
		return nil, err
	}
	g.moveOut(sid, prev, j)
	if !j.Unchanged {
		g.broadcast(j.Snapshot, api.EventReconnected, &j.Participant, "")
	}
	return joined(j), nil
}

func joined(j room.Joined) api.JoinRoomResponse {
	rm := j.Room
	return api.JoinRoomResponse{
		Response:          api.Ok(),
		Room:              &rm,
		Participant:       &j.Participant,
		Participants:      j.Participants,
		ReconnectionToken: j.Token,
		IsReconnection:    j.IsReconnection,
	}
}

// moveOut takes the socket out of the room it was in before a successful
// create, join or reconnect into another one.
func (g *Gateway) moveOut(sid, prev string, j room.Joined) {
	if prev == "" || prev == j.Room.Id {
		return
	}
	if res, err := g.rooms.Detach(prev, sid); err == nil {
		g.afterLeave(res)
	}
}

func (g *Gateway) leaveRoom(sid string, rq api.LeaveRoomRequest) (any, error) {
	if err := g.member(sid, rq.RoomId); err != nil {
		return nil, err
	}
	res, err := g.rooms.RemoveParticipant(sid, true)
	if err != nil {
		return nil, err
	}
	g.afterLeave(res)
	return api.Ok(), nil
}

func (g *Gateway) afterLeave(res room.Removed) {
	g.broadcast(res.Snapshot, api.EventLeft, nil, res.Participant.Id)
	if res.Emptied {
		g.updateRooms()
	}
}

func (g *Gateway) roomInfo(sid string, rq api.GetRoomInfoRequest) (any, error) {
	if err := g.member(sid, rq.RoomId); err != nil {
		return nil, err
	}
	s, err := g.rooms.GetRoomById(rq.RoomId)
	if err != nil {
		return nil, err
	}
	return api.RoomInfoResponse{Response: api.Ok(), Room: &s.Room, Participants: s.Participants}, nil
}

func (g *Gateway) closeRoom(sid string, rq api.CloseRoomRequest) (any, error) {
	roomId, p, err := g.rooms.Participant(sid)
	if err != nil || roomId != rq.RoomId {
		return nil, api.ErrNotInRoom
	}
	if !p.IsCreator {
		return nil, api.ErrForbidden.With("only the creator can close the room")
	}
	s, err := g.rooms.CloseRoom(rq.RoomId)
	if err != nil {
		return nil, err
	}
	g.broadcast(s, api.EventRoomClosed, &p, "")
	g.updateRooms()
	return api.Ok(), nil
}

func (g *Gateway) updateMedia(sid string, rq api.MediaStatusRequest) (any, error) {
	s, p, err := g.rooms.UpdateMedia(sid, rq.RoomId, rq.MediaStatus)
	if err != nil {
		return nil, err
	}
	g.broadcast(s, api.EventMediaChanged, &p, "")
	return api.Ok(), nil
}

func (g *Gateway) signal(sid string, kind api.PT, rq api.SignalRequest) (any, error) {
	if err := g.relay.Relay(sid, kind, rq); err != nil {
		return nil, err
	}
	relayedTotal.WithLabelValues(string(kind)).Inc()
	return api.Ok(), nil
}

func (g *Gateway) relayCredentials(sid string) (any, error) {
	_, p, err := g.rooms.Participant(sid)
	if err != nil {
		return nil, err
	}
	c := g.creds.Issue(p.Id)
	return api.RelayCredentialsResponse{Response: api.Ok(), Credential: &c}, nil
}

// member checks that the socket is in the room.
func (g *Gateway) member(sid, roomId string) error {
	if id, ok := g.rooms.RoomOf(sid); !ok || id != roomId {
		return api.ErrNotInRoom
	}
	return nil
}

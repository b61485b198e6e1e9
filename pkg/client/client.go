// Package client is a meeting participant: it talks to the coordinator
// over a websocket and negotiates WebRTC connections with other participants.
package client

import (
	"context"
	"net/url"
	"sync"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/com"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/goccy/go-json"
)

type Client struct {
	conn *com.Client
	log  *logger.Logger

	mu       sync.Mutex
	handlers map[api.PT]func(api.In)
	token    string
	roomId   string
}

// Dial connects to the coordinator websocket endpoint.
// The token is the last known reconnection token, it may be empty.
func Dial(address url.URL, token string, log *logger.Logger) (*Client, error) {
	if token != "" {
		q := address.Query()
		q.Set("token", token)
		address.RawQuery = q.Encode()
	}
	conn, err := com.NewConnector().NewClient(address, log)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:     conn,
		log:      log.Extend(log.With().Str(logger.ModuleField, "cli")),
		handlers: make(map[api.PT]func(api.In)),
		token:    token,
	}
	conn.OnPacket(c.handle)
	conn.Listen()
	return c, nil
}

func (c *Client) Close()                { c.conn.Close() }
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Token returns the last reconnection token.
func (c *Client) Token() string { c.mu.Lock(); defer c.mu.Unlock(); return c.token }

// Room returns the room id from the last successful join.
func (c *Client) Room() string { c.mu.Lock(); defer c.mu.Unlock(); return c.roomId }

// On sets the handler of pushes of the kind t, nil removes it.
func (c *Client) On(t api.PT, fn func(api.In)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.handlers, t)
		return
	}
	c.handlers[t] = fn
}

func (c *Client) handle(in api.In) {
	c.mu.Lock()
	fn := c.handlers[in.T]
	c.mu.Unlock()
	if fn == nil {
		c.log.Debug().Str(logger.DirectionField, "←").Msgf("Unhandled %v", in.T)
		return
	}
	fn(in)
}

// errResponse is any response with the success flag.
type errResponse interface{ Err() error }

// call sends the request and decodes its reply into T.
// Failed replies become their typed errors.
func call[T any, PT interface {
	*T
	errResponse
}](c *Client, t api.PT, rq any) (*T, error) {
	raw, err := c.conn.Call(t, rq)
	if err != nil {
		return nil, err
	}
	out, err := api.UnwrapChecked[T](raw)
	if err != nil {
		return nil, err
	}
	if err = PT(out).Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) joined(roomId, token string) {
	c.mu.Lock()
	c.roomId = roomId
	if token != "" {
		c.token = token
	}
	c.mu.Unlock()
}

// CreateRoom creates a new room, an empty id makes a random one.
func (c *Client) CreateRoom(roomId, userName string) (*api.CreateRoomResponse, error) {
	res, err := call[api.CreateRoomResponse](c, api.CreateRoom, api.CreateRoomRequest{
		EventId: roomId, UserName: userName, ReconnectionToken: c.Token(),
	})
	if err != nil {
		return nil, err
	}
	if res.Room != nil {
		c.joined(res.Room.Id, res.ReconnectionToken)
	}
	return res, nil
}

// JoinRoom joins the room, with the token the old identity is restored
// if possible.
func (c *Client) JoinRoom(roomId, userName, token string) (*api.JoinRoomResponse, error) {
	res, err := call[api.JoinRoomResponse](c, api.JoinRoom, api.JoinRoomRequest{
		RoomId: roomId, UserName: userName, ReconnectionToken: token,
	})
	if err != nil {
		return nil, err
	}
	c.joined(roomId, res.ReconnectionToken)
	return res, nil
}

func (c *Client) ReconnectRoom(roomId, token string) (*api.ReconnectRoomResponse, error) {
	res, err := call[api.ReconnectRoomResponse](c, api.ReconnectRoom, api.ReconnectRoomRequest{
		RoomId: roomId, ReconnectionToken: token,
	})
	if err != nil {
		return nil, err
	}
	c.joined(roomId, res.ReconnectionToken)
	return res, nil
}

// Resume returns into the room with the token or joins it
// as a new participant when the token is no good.
func (c *Client) Resume(roomId, userName, token string) (*api.JoinRoomResponse, error) {
	if token != "" {
		res, err := c.ReconnectRoom(roomId, token)
		if err == nil {
			return res, nil
		}
		if !api.IsClass(err, api.ClassToken) {
			return nil, err
		}
		c.log.Info().Err(err).Str("room", roomId).Msg("Can't reconnect, joining again")
	}
	return c.JoinRoom(roomId, userName, "")
}

func (c *Client) LeaveRoom(roomId string) error {
	_, err := call[api.Response](c, api.LeaveRoom, api.LeaveRoomRequest{RoomId: roomId})
	if err == nil {
		// the token is revoked on explicit leave
		c.mu.Lock()
		c.roomId, c.token = "", ""
		c.mu.Unlock()
	}
	return err
}

func (c *Client) GetRoomInfo(roomId string) (*api.RoomInfoResponse, error) {
	return call[api.RoomInfoResponse](c, api.GetRoomInfo, api.GetRoomInfoRequest{RoomId: roomId})
}

func (c *Client) CloseRoom(roomId string) error {
	_, err := call[api.Response](c, api.CloseRoom, api.CloseRoomRequest{RoomId: roomId})
	return err
}

func (c *Client) UpdateMediaStatus(roomId string, status api.MediaStatus) error {
	_, err := call[api.Response](c, api.UpdateMediaStatus, api.MediaStatusRequest{RoomId: roomId, MediaStatus: status})
	return err
}

func (c *Client) RelayCredentials() (api.RelayCredential, error) {
	res, err := call[api.RelayCredentialsResponse](c, api.GetRelayCredentials, struct{}{})
	if err != nil {
		return api.RelayCredential{}, err
	}
	if res.Credential == nil {
		return api.RelayCredential{}, api.ErrInternal.With("no credential")
	}
	return *res.Credential, nil
}

// Fetch gets relay credentials for the negotiation.
func (c *Client) Fetch(ctx context.Context) (api.RelayCredential, error) {
	type result struct {
		cred api.RelayCredential
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cred, err := c.RelayCredentials()
		done <- result{cred, err}
	}()
	select {
	case r := <-done:
		return r.cred, r.err
	case <-ctx.Done():
		return api.RelayCredential{}, ctx.Err()
	}
}

// Signal sends an offer, an answer or a candidate to a participant of the room.
// Any of sdp or candidate is sent as is.
func (c *Client) Signal(t api.PT, roomId, to string, sdp, candidate any) error {
	rq := api.SignalRequest{RoomId: roomId, TargetParticipantId: to}
	var err error
	if sdp != nil {
		if rq.Sdp, err = json.Marshal(sdp); err != nil {
			return err
		}
	}
	if candidate != nil {
		if rq.Candidate, err = json.Marshal(candidate); err != nil {
			return err
		}
	}
	_, err = call[api.Response](c, t, rq)
	return err
}

package client

import (
	"context"
	"errors"
	"sync"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/negotiation"
)

// Session is a participant inside one room. It keeps a WebRTC connection
// with every other connected participant of the room.
type Session struct {
	client *Client
	peers  negotiation.PeerFactory
	ice    negotiation.IceSource
	conf   negotiation.Config
	log    *logger.Logger

	onUpdate    func(api.RoomUpdate)
	onClosed    func()
	onConnected func(remote string)

	// dmu keeps pushes in order, the ones before the join reply wait in early
	dmu    sync.Mutex
	early  []api.In
	joined bool

	mu      sync.Mutex
	roomId  string
	self    api.Participant
	members []api.Participant
	nego    *negotiation.Coordinator
	closed  bool
}

var ErrSessionClosed = errors.New("session is closed")

var pushes = []api.PT{api.RoomUpdated, api.WebrtcOffer, api.WebrtcAnswer, api.WebrtcIceCandidate, api.PeerDisconnected}

type SessionOption func(*Session)

// OnUpdate sets the handler of room updates.
func OnUpdate(fn func(api.RoomUpdate)) SessionOption { return func(s *Session) { s.onUpdate = fn } }

// OnClosed sets the handler called when the room is closed by its creator.
func OnClosed(fn func()) SessionOption { return func(s *Session) { s.onClosed = fn } }

// OnConnected sets the handler called when a peer connection is up.
func OnConnected(fn func(remote string)) SessionOption {
	return func(s *Session) { s.onConnected = fn }
}

func NewSession(c *Client, peers negotiation.PeerFactory, ice negotiation.IceSource, conf negotiation.Config,
	log *logger.Logger, opts ...SessionOption) *Session {
	s := &Session{client: c, peers: peers, ice: ice, conf: conf, log: log}
	for _, opt := range opts {
		opt(s)
	}
	for _, t := range pushes {
		c.On(t, s.dispatch)
	}
	return s
}

// Create creates a new room and enters it as its creator.
func (s *Session) Create(roomId, userName string) error {
	res, err := s.client.CreateRoom(roomId, userName)
	if err != nil {
		return err
	}
	return s.start(*res.Room, *res.Participant, []api.Participant{*res.Participant})
}

// Join enters the room. With a token it tries to be the same participant
// as before, otherwise joins as a new one.
func (s *Session) Join(roomId, userName, token string) error {
	res, err := s.client.Resume(roomId, userName, token)
	if err != nil {
		return err
	}
	return s.start(*res.Room, *res.Participant, res.Participants)
}

func (s *Session) start(room api.Room, self api.Participant, members []api.Participant) error {
	s.dmu.Lock()
	defer s.dmu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.roomId, s.self, s.members = room.Id, self, members
	s.log = s.log.Extend(s.log.With().Str("room", room.Id).Str("pid", self.Id))
	s.nego = negotiation.NewCoordinator(self.Id, s.conf, s.peers, s, s.ice, s.log)
	s.nego.OnFailure(func(remote string, err error) {
		s.log.Error().Err(err).Str("remote", remote).Msg("No connection")
	})
	if s.onConnected != nil {
		s.nego.OnConnected(s.onConnected)
	}
	s.mu.Unlock()

	s.joined = true
	s.nego.Sync(connected(members))
	for _, in := range s.early {
		s.handle(in)
	}
	s.early = nil
	return nil
}

func (s *Session) RoomId() string        { s.mu.Lock(); defer s.mu.Unlock(); return s.roomId }
func (s *Session) Self() api.Participant { s.mu.Lock(); defer s.mu.Unlock(); return s.self }

// Negotiation returns the negotiation coordinator, nil before joining.
func (s *Session) Negotiation() *negotiation.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nego
}

// Members returns the last known room members.
func (s *Session) Members() []api.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Participant(nil), s.members...)
}

// Leave leaves the room and closes all the connections.
func (s *Session) Leave() error {
	roomId := s.RoomId()
	s.Close()
	if roomId == "" {
		return nil
	}
	return s.client.LeaveRoom(roomId)
}

// Close closes all the connections but stays in the room.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	nego := s.nego
	s.mu.Unlock()

	for _, t := range pushes {
		s.client.On(t, nil)
	}
	if nego != nil {
		nego.Close()
	}
}

func (s *Session) dispatch(in api.In) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if !s.joined {
		s.early = append(s.early, in)
		return
	}
	s.handle(in)
}

func (s *Session) handle(in api.In) {
	switch in.T {
	case api.RoomUpdated:
		s.handleRoomUpdate(in)
	case api.WebrtcOffer, api.WebrtcAnswer, api.WebrtcIceCandidate:
		s.handleSignal(in)
	case api.PeerDisconnected:
		s.handlePeerDisconnected(in)
	}
}

func (s *Session) handleRoomUpdate(in api.In) {
	up := api.Unwrap[api.RoomUpdate](in.Payload)
	if up == nil || up.RoomId != s.RoomId() {
		return
	}
	s.mu.Lock()
	s.members = up.Participants
	s.mu.Unlock()

	s.log.Debug().Str("event", up.Event).Int("n", len(up.Participants)).Msg("Room update")
	if up.Event == api.EventRoomClosed {
		s.Close()
		if s.onClosed != nil {
			s.onClosed()
		}
	} else {
		s.nego.Sync(connected(up.Participants))
	}
	if s.onUpdate != nil {
		s.onUpdate(*up)
	}
}

func (s *Session) handleSignal(in api.In) {
	m := api.Unwrap[api.SignalMessage](in.Payload)
	if m == nil || m.RoomId != s.RoomId() || m.From == "" {
		s.log.Warn().Msgf("Malformed %v", in.T)
		return
	}
	switch in.T {
	case api.WebrtcOffer, api.WebrtcAnswer:
		d := api.Unwrap[negotiation.Description](m.Sdp)
		if d == nil {
			s.log.Warn().Str("remote", m.From).Msg("Malformed sdp")
			return
		}
		if in.T == api.WebrtcOffer {
			s.nego.HandleOffer(m.From, *d)
		} else {
			s.nego.HandleAnswer(m.From, *d)
		}
	case api.WebrtcIceCandidate:
		c := api.Unwrap[negotiation.Candidate](m.Candidate)
		if c == nil {
			s.log.Warn().Str("remote", m.From).Msg("Malformed candidate")
			return
		}
		s.nego.HandleCandidate(m.From, *c)
	}
}

func (s *Session) handlePeerDisconnected(in api.In) {
	m := api.Unwrap[api.PeerDisconnectedMessage](in.Payload)
	if m == nil || m.RoomId != s.RoomId() {
		return
	}
	s.nego.PeerLeft(m.ParticipantId)
}

func (s *Session) SendOffer(ctx context.Context, to string, d negotiation.Description) error {
	return s.signal(ctx, api.WebrtcOffer, to, d, nil)
}

func (s *Session) SendAnswer(ctx context.Context, to string, d negotiation.Description) error {
	return s.signal(ctx, api.WebrtcAnswer, to, d, nil)
}

func (s *Session) SendCandidate(ctx context.Context, to string, c negotiation.Candidate) error {
	return s.signal(ctx, api.WebrtcIceCandidate, to, nil, c)
}

func (s *Session) signal(ctx context.Context, t api.PT, to string, sdp, candidate any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.Signal(t, s.RoomId(), to, sdp, candidate)
}

func connected(members []api.Participant) []string {
	ids := make([]string, 0, len(members))
	for _, p := range members {
		if p.IsConnected {
			ids = append(ids, p.Id)
		}
	}
	return ids
}

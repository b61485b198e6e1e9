package client

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/config"
	"github.com/giongto35/cloud-meet/pkg/coordinator"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/negotiation"
)

// peer connects as soon as it has the remote description and a remote candidate.
type peer struct {
	name string
	ev   negotiation.PeerEvents

	mu         sync.Mutex
	remote     bool
	candidates int
	connected  bool
}

func (p *peer) local(t string) (negotiation.Description, error) {
	go p.ev.OnCandidate(negotiation.Candidate{Candidate: "candidate:" + p.name})
	return negotiation.Description{Type: t, Sdp: t + "-" + p.name}, nil
}

func (p *peer) CreateOffer() (negotiation.Description, error)  { return p.local("offer") }
func (p *peer) CreateAnswer() (negotiation.Description, error) { return p.local("answer") }

func (p *peer) SetRemoteDescription(negotiation.Description) error {
	p.mu.Lock()
	p.remote = true
	p.mu.Unlock()
	p.check()
	return nil
}

func (p *peer) AddCandidate(negotiation.Candidate) error {
	p.mu.Lock()
	if !p.remote {
		p.mu.Unlock()
		return errors.New("no remote description")
	}
	p.candidates++
	p.mu.Unlock()
	p.check()
	return nil
}

func (p *peer) check() {
	p.mu.Lock()
	ok := p.remote && p.candidates > 0 && !p.connected
	if ok {
		p.connected = true
	}
	p.mu.Unlock()
	if ok {
		go p.ev.OnConnected()
	}
}

func (p *peer) Close() error { return nil }

type peers struct{ name string }

func (f peers) NewPeer(_ negotiation.IceConfig, ev negotiation.PeerEvents) (negotiation.Peer, error) {
	return &peer{name: f.name, ev: ev}, nil
}

func newServer(t *testing.T) url.URL {
	t.Helper()
	var conf config.MeetConfig
	conf.Meet.Server.Address = "127.0.0.1:0"
	conf.Rooms = config.Rooms{MaxParticipants: 10, Grace: time.Minute, TokenTtl: time.Minute, Timeout: time.Hour}
	conf.Turn = config.Turn{Ttl: time.Hour, Urls: []string{"stun:stun.example.com:3478"}}
	c, err := coordinator.New(conf, logger.Nop())
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	c.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return url.URL{Scheme: "ws", Host: c.Addr(), Path: "/ws"}
}

func dial(t *testing.T, u url.URL, token string) *Client {
	t.Helper()
	var (
		c   *Client
		err error
	)
	// the server may not accept yet
	deadline := time.Now().Add(2 * time.Second)
	for {
		if c, err = Dial(u, token, logger.Nop()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(c.Close)
	return c
}

func eventually(t *testing.T, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !fn() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout: %v", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientRequests(t *testing.T) {
	u := newServer(t)
	alice, bob := dial(t, u, ""), dial(t, u, "")

	updates := make(chan api.RoomUpdate, 10)
	alice.On(api.RoomUpdated, func(in api.In) {
		if up := api.Unwrap[api.RoomUpdate](in.Payload); up != nil {
			updates <- *up
		}
	})

	if _, err := alice.CreateRoom("", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	roomId := alice.Room()
	if roomId == "" || alice.Token() == "" {
		t.Fatalf("no room or token")
	}
	if _, err := bob.JoinRoom(roomId, "bob", ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	select {
	case up := <-updates:
		if up.Event != api.EventJoined || len(up.Participants) != 2 {
			t.Errorf("update: %+v", up)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no room update")
	}

	if err := bob.UpdateMediaStatus(roomId, api.MediaStatus{HasAudio: true}); err != nil {
		t.Fatalf("media: %v", err)
	}
	info, err := alice.GetRoomInfo(roomId)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Room.ParticipantCount != 2 {
		t.Errorf("count: %v", info.Room.ParticipantCount)
	}

	cred, err := bob.RelayCredentials()
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if cred.Ttl != 0 || len(cred.Servers) != 1 {
		t.Errorf("credentials without secret: %+v", cred)
	}

	if err = bob.Signal(api.WebrtcOffer, roomId, "nobody", negotiation.Description{Type: "offer", Sdp: "x"}, nil); !errors.Is(err, api.ErrTargetNotFound) {
		t.Errorf("signal to nobody: %v", err)
	}

	if err = bob.LeaveRoom(roomId); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if bob.Token() != "" || bob.Room() != "" {
		t.Errorf("token is kept after leave")
	}
	if _, err = bob.GetRoomInfo(roomId); !errors.Is(err, api.ErrNotInRoom) {
		t.Errorf("info after leave: %v", err)
	}
}

func TestResume(t *testing.T) {
	u := newServer(t)
	alice := dial(t, u, "")
	if _, err := alice.CreateRoom("", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	bob := dial(t, u, "")

	// a made up token falls back to a fresh join
	res, err := bob.Resume(alice.Room(), "bob", "not-a-token")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.IsReconnection {
		t.Errorf("should be a fresh join")
	}
}

func TestSessionsConnect(t *testing.T) {
	u := newServer(t)
	conf := negotiation.Config{Deadline: 2 * time.Second, RetryBase: 100 * time.Millisecond, MaxAttempts: 3}

	var mu sync.Mutex
	up := map[string]int{}
	onConnected := func(name string) SessionOption {
		return OnConnected(func(string) { mu.Lock(); up[name]++; mu.Unlock() })
	}
	count := func(name string) int { mu.Lock(); defer mu.Unlock(); return up[name] }

	closed := make(chan struct{})
	alice := NewSession(dial(t, u, ""), peers{"alice"}, nil, conf, logger.Nop(), onConnected("alice"))
	bob := NewSession(dial(t, u, ""), peers{"bob"}, nil, conf, logger.Nop(), onConnected("bob"),
		OnClosed(func() { close(closed) }))
	defer alice.Close()
	defer bob.Close()

	if err := alice.Create("", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := bob.Join(alice.RoomId(), "bob", ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	eventually(t, "connected", func() bool { return count("alice") == 1 && count("bob") == 1 })

	for _, s := range []*Session{alice, bob} {
		remote := bob.Self().Id
		if s == bob {
			remote = alice.Self().Id
		}
		st, ok := s.Negotiation().State(remote)
		if !ok || st != negotiation.Connected {
			t.Errorf("%v: state %v", s.Self().UserName, st)
		}
	}

	if err := alice.client.CloseRoom(alice.RoomId()); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("room is not closed for bob")
	}
	if peers := bob.Negotiation().Peers(); len(peers) != 0 {
		t.Errorf("peers after close: %v", peers)
	}
	if err := bob.Join(alice.RoomId(), "bob", ""); !errors.Is(err, api.ErrRoomInactive) && !errors.Is(err, ErrSessionClosed) {
		t.Errorf("join after close: %v", err)
	}
}

func TestSessionLeave(t *testing.T) {
	u := newServer(t)
	conf := negotiation.DefaultConfig

	left := make(chan string, 1)
	alice := NewSession(dial(t, u, ""), peers{"alice"}, nil, conf, logger.Nop(), OnUpdate(func(up api.RoomUpdate) {
		if up.Event == api.EventLeft {
			left <- up.LeftParticipantId
		}
	}))
	bob := NewSession(dial(t, u, ""), peers{"bob"}, nil, conf, logger.Nop())
	defer alice.Close()

	if err := alice.Create("", "alice"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := bob.Join(alice.RoomId(), "bob", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	id := bob.Self().Id
	eventually(t, "peer", func() bool { _, ok := alice.Negotiation().State(id); return ok })

	if err := bob.Leave(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	select {
	case pid := <-left:
		if pid != id {
			t.Errorf("left: %v", pid)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no leave update")
	}
	eventually(t, "peer is gone", func() bool { _, ok := alice.Negotiation().State(id); return !ok })
	if n := len(alice.Members()); n != 1 {
		t.Errorf("members: %v", n)
	}
}

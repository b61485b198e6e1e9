package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/com"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/room"
	"github.com/giongto35/cloud-meet/pkg/token"
	"github.com/goccy/go-json"
)

type conn struct {
	id  com.Uid
	mu  sync.Mutex
	out []api.In
}

func newConn() *conn { return &conn{id: com.NewUid()} }

func (c *conn) Id() com.Uid { return c.id }

// Send keeps packets as they would come from the wire.
func (c *conn) Send(p api.Out) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var in api.In
	if err = json.Unmarshal(b, &in); err != nil {
		return err
	}
	c.mu.Lock()
	c.out = append(c.out, in)
	c.mu.Unlock()
	return nil
}

func (c *conn) pushes(t api.PT) (out []api.In) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.out {
		if p.Id == "" && p.T == t {
			out = append(out, p)
		}
	}
	return
}

func (c *conn) reply(id string) (api.In, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.out {
		if p.Id == id {
			return p, true
		}
	}
	return api.In{}, false
}

type creds struct{ panics bool }

func (cr creds) Issue(pid string) api.RelayCredential {
	if cr.panics {
		panic("no secret")
	}
	return api.RelayCredential{Identity: "1:meet:" + pid, Secret: "x", Ttl: 60}
}

func newGateway(cr creds) *Gateway {
	reg := room.NewRegistry(room.Config{MaxParticipants: 3, Grace: time.Minute, Timeout: time.Hour},
		token.New(10*time.Minute), logger.Nop())
	return New(reg, cr, logger.Nop())
}

func connect(g *Gateway, token string) *conn {
	c := newConn()
	g.Connect(c, token)
	return c
}

// call handles the request and decodes its reply into T.
func call[T any](t *testing.T, g *Gateway, c *conn, kind api.PT, payload any) T {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	in := api.In{Id: com.NewUid().String(), T: kind, Payload: b}
	g.Handle(c, in)
	rep, ok := c.reply(in.Id)
	if !ok {
		t.Fatalf("no reply to %v", kind)
	}
	if rep.T != kind {
		t.Errorf("reply kind %v != %v", rep.T, kind)
	}
	var out T
	if err = json.Unmarshal(rep.Payload, &out); err != nil {
		t.Fatalf("bad reply %s: %v", rep.Payload, err)
	}
	return out
}

func lastUpdate(t *testing.T, c *conn) api.RoomUpdate {
	t.Helper()
	u := c.pushes(api.RoomUpdated)
	if len(u) == 0 {
		t.Fatalf("no room updates")
	}
	var out api.RoomUpdate
	_ = json.Unmarshal(u[len(u)-1].Payload, &out)
	return out
}

func TestBobReconnects(t *testing.T) {
	g := newGateway(creds{})
	alice, bob := connect(g, ""), connect(g, "")

	cr := call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	if !cr.Success || cr.Room.Id != "R" || !cr.Participant.IsCreator || cr.ReconnectionToken == "" {
		t.Fatalf("create: %+v", cr)
	}
	jr := call[api.JoinRoomResponse](t, g, bob, api.JoinRoom, api.JoinRoomRequest{RoomId: "R", UserName: "bob"})
	if !jr.Success || len(jr.Participants) != 2 || jr.IsReconnection {
		t.Fatalf("join: %+v", jr)
	}
	if u := lastUpdate(t, alice); u.Event != api.EventJoined || u.Participant.Id != jr.Participant.Id {
		t.Errorf("alice should see bob joined: %+v", u)
	}

	g.Disconnect(bob)
	if u := lastUpdate(t, alice); u.Event != api.EventDisconnected || len(u.Participants) != 2 {
		t.Errorf("alice should see bob disconnected: %+v", u)
	}
	if pd := alice.pushes(api.PeerDisconnected); len(pd) != 1 {
		t.Errorf("expected a peer-disconnected push, got %v", len(pd))
	}

	bob2 := connect(g, jr.ReconnectionToken)
	ra := bob2.pushes(api.ReconnectionAvailable)
	if len(ra) != 1 {
		t.Fatalf("expected reconnection-available")
	}
	msg := api.Unwrap[api.ReconnectionAvailableMessage](ra[0].Payload)
	if msg.RoomId != "R" || msg.TimeLeft <= 0 || msg.TimeLeft > time.Minute.Milliseconds() {
		t.Errorf("bad reconnection window %+v", msg)
	}

	back := call[api.JoinRoomResponse](t, g, bob2, api.JoinRoom,
		api.JoinRoomRequest{RoomId: "R", UserName: "bob", ReconnectionToken: jr.ReconnectionToken})
	if !back.Success || !back.IsReconnection || back.Participant.Id != jr.Participant.Id {
		t.Fatalf("rejoin: %+v", back)
	}

	u := lastUpdate(t, alice)
	if u.Event != api.EventReconnected {
		t.Errorf("expected reconnected event, got %v", u.Event)
	}
	bobs := 0
	for _, p := range u.Participants {
		if p.UserName == "bob" {
			bobs++
			if !p.IsConnected || p.SocketId == nil || *p.SocketId != bob2.id.String() {
				t.Errorf("bob should be connected on the new socket: %+v", p)
			}
		}
	}
	if bobs != 1 {
		t.Errorf("expected one bob, got %v", bobs)
	}
}

func TestOfferToLeftPeer(t *testing.T) {
	g := newGateway(creds{})
	alice, bob := connect(g, ""), connect(g, "")
	call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	jr := call[api.JoinRoomResponse](t, g, bob, api.JoinRoom, api.JoinRoomRequest{RoomId: "R", UserName: "bob"})

	offer := api.SignalRequest{RoomId: "R", TargetParticipantId: jr.Participant.Id, Sdp: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
	if r := call[api.Response](t, g, alice, api.WebrtcOffer, offer); !r.Success {
		t.Fatalf("offer: %+v", r)
	}
	relayed := bob.pushes(api.WebrtcOffer)
	if len(relayed) != 1 {
		t.Fatalf("bob didn't get the offer")
	}
	sm := api.Unwrap[api.SignalMessage](relayed[0].Payload)
	if sm.From == "" || sm.RoomId != "R" || string(sm.Sdp) != string(offer.Sdp) {
		t.Errorf("bad relayed offer %+v", sm)
	}

	if r := call[api.Response](t, g, bob, api.LeaveRoom, api.LeaveRoomRequest{RoomId: "R"}); !r.Success {
		t.Fatalf("leave: %+v", r)
	}
	if u := lastUpdate(t, alice); u.Event != api.EventLeft || u.LeftParticipantId != jr.Participant.Id {
		t.Errorf("alice should see bob left: %+v", u)
	}

	updates := len(alice.pushes(api.RoomUpdated))
	r := call[api.Response](t, g, alice, api.WebrtcOffer, offer)
	if r.Success || r.Error != "TargetNotFound" {
		t.Errorf("expected TargetNotFound, got %+v", r)
	}
	if len(alice.pushes(api.RoomUpdated)) != updates {
		t.Errorf("a failed relay must not broadcast")
	}
}

func TestRejects(t *testing.T) {
	g := newGateway(creds{})
	alice, eve := connect(g, ""), connect(g, "")
	call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	before := len(alice.pushes(api.RoomUpdated))

	tests := []struct {
		name    string
		c       *conn
		kind    api.PT
		payload any
		err     string
	}{
		{name: "no name", c: eve, kind: api.JoinRoom, payload: api.JoinRoomRequest{RoomId: "R"}, err: "ValidationError"},
		{name: "no payload", c: eve, kind: api.JoinRoom, payload: nil, err: "ValidationError"},
		{name: "unknown kind", c: eve, kind: "dance", payload: struct{}{}, err: "ValidationError"},
		{name: "no room", c: eve, kind: api.JoinRoom, payload: api.JoinRoomRequest{RoomId: "X", UserName: "eve"}, err: "RoomNotFound"},
		{name: "info of a stranger room", c: eve, kind: api.GetRoomInfo, payload: api.GetRoomInfoRequest{RoomId: "R"}, err: "NotInRoom"},
		{name: "leave a stranger room", c: eve, kind: api.LeaveRoom, payload: api.LeaveRoomRequest{RoomId: "R"}, err: "NotInRoom"},
		{name: "media of a stranger room", c: eve, kind: api.UpdateMediaStatus, payload: api.MediaStatusRequest{RoomId: "R"}, err: "NotInRoom"},
		{name: "offer without sdp", c: alice, kind: api.WebrtcOffer, payload: api.SignalRequest{RoomId: "R", TargetParticipantId: "x"}, err: "ValidationError"},
		{name: "offer from a stranger", c: eve, kind: api.WebrtcOffer, payload: api.SignalRequest{RoomId: "R", TargetParticipantId: "x", Sdp: json.RawMessage(`"x"`)}, err: "NotInRoom"},
		{name: "reconnect with garbage", c: eve, kind: api.ReconnectRoom, payload: api.ReconnectRoomRequest{RoomId: "R", ReconnectionToken: "nope"}, err: "TokenInvalid"},
		{name: "credentials of a stranger", c: eve, kind: api.GetRelayCredentials, payload: struct{}{}, err: "NotInRoom"},
		{name: "same room twice", c: eve, kind: api.CreateRoom, payload: api.CreateRoomRequest{EventId: "R", UserName: "eve"}, err: "RoomAlreadyActive"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := call[api.Response](t, g, test.c, test.kind, test.payload)
			if r.Success || r.Error != test.err {
				t.Errorf("expected %v, got %+v", test.err, r)
			}
		})
	}
	if len(alice.pushes(api.RoomUpdated)) != before {
		t.Errorf("rejected requests must not broadcast")
	}
}

func TestRoomInfoIsReadOnly(t *testing.T) {
	g := newGateway(creds{})
	alice := connect(g, "")
	call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	pushes := len(alice.pushes(api.RoomUpdated))

	a := call[api.RoomInfoResponse](t, g, alice, api.GetRoomInfo, api.GetRoomInfoRequest{RoomId: "R"})
	b := call[api.RoomInfoResponse](t, g, alice, api.GetRoomInfo, api.GetRoomInfoRequest{RoomId: "R"})
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !a.Success || string(ja) != string(jb) {
		t.Errorf("room info differs: %s vs %s", ja, jb)
	}
	if len(alice.pushes(api.RoomUpdated)) != pushes {
		t.Errorf("room info must not broadcast")
	}
}

func TestMediaStatus(t *testing.T) {
	g := newGateway(creds{})
	alice, bob := connect(g, ""), connect(g, "")
	call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	call[api.JoinRoomResponse](t, g, bob, api.JoinRoom, api.JoinRoomRequest{RoomId: "R", UserName: "bob"})

	r := call[api.Response](t, g, bob, api.UpdateMediaStatus,
		api.MediaStatusRequest{RoomId: "R", MediaStatus: api.MediaStatus{HasAudio: true, IsScreenSharing: true}})
	if !r.Success {
		t.Fatalf("media: %+v", r)
	}
	u := lastUpdate(t, alice)
	if u.Event != api.EventMediaChanged || u.Participant == nil || !u.Participant.MediaStatus.IsScreenSharing {
		t.Errorf("bad media update %+v", u)
	}
}

func TestCloseRoom(t *testing.T) {
	g := newGateway(creds{})
	alice, bob := connect(g, ""), connect(g, "")
	call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	call[api.JoinRoomResponse](t, g, bob, api.JoinRoom, api.JoinRoomRequest{RoomId: "R", UserName: "bob"})

	if r := call[api.Response](t, g, bob, api.CloseRoom, api.CloseRoomRequest{RoomId: "R"}); r.Error != "Forbidden" {
		t.Errorf("expected Forbidden, got %+v", r)
	}
	if r := call[api.Response](t, g, alice, api.CloseRoom, api.CloseRoomRequest{RoomId: "R"}); !r.Success {
		t.Fatalf("close: %+v", r)
	}
	if u := lastUpdate(t, bob); u.Event != api.EventRoomClosed {
		t.Errorf("bob should see the room closed, got %v", u.Event)
	}
	if r := call[api.Response](t, g, bob, api.GetRoomInfo, api.GetRoomInfoRequest{RoomId: "R"}); r.Error != "NotInRoom" {
		t.Errorf("closed room members are out, got %+v", r)
	}
	carol := connect(g, "")
	if r := call[api.Response](t, g, carol, api.JoinRoom, api.JoinRoomRequest{RoomId: "R", UserName: "carol"}); r.Error != "RoomInactive" {
		t.Errorf("expected RoomInactive, got %+v", r)
	}
}

func TestSwitchRooms(t *testing.T) {
	g := newGateway(creds{})
	alice, bob := connect(g, ""), connect(g, "")
	call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	call[api.JoinRoomResponse](t, g, bob, api.JoinRoom, api.JoinRoomRequest{RoomId: "R", UserName: "bob"})
	call[api.CreateRoomResponse](t, g, bob, api.CreateRoom, api.CreateRoomRequest{EventId: "Q", UserName: "bob"})

	if u := lastUpdate(t, alice); u.Event != api.EventLeft || len(u.Participants) != 1 {
		t.Errorf("bob should leave R: %+v", u)
	}
	info := call[api.RoomInfoResponse](t, g, bob, api.GetRoomInfo, api.GetRoomInfoRequest{RoomId: "Q"})
	if !info.Success || len(info.Participants) != 1 {
		t.Errorf("bob should be in Q: %+v", info)
	}
}

func TestFailedSwitchKeepsRoom(t *testing.T) {
	g := newGateway(creds{})
	alice, bob := connect(g, ""), connect(g, "")
	call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	jr := call[api.JoinRoomResponse](t, g, bob, api.JoinRoom, api.JoinRoomRequest{RoomId: "R", UserName: "bob"})
	before := len(alice.pushes(api.RoomUpdated))

	tests := []struct {
		name    string
		kind    api.PT
		payload any
		err     string
	}{
		{name: "join nowhere", kind: api.JoinRoom, payload: api.JoinRoomRequest{RoomId: "NOPE", UserName: "bob"}, err: "RoomNotFound"},
		{name: "reconnect nowhere", kind: api.ReconnectRoom, payload: api.ReconnectRoomRequest{RoomId: "NOPE", ReconnectionToken: jr.ReconnectionToken}, err: "RoomNotFound"},
		{name: "create the same room", kind: api.CreateRoom, payload: api.CreateRoomRequest{EventId: "R", UserName: "bob"}, err: "RoomAlreadyActive"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := call[api.Response](t, g, bob, test.kind, test.payload)
			if r.Success || r.Error != test.err {
				t.Errorf("expected %v, got %+v", test.err, r)
			}
		})
	}

	if len(alice.pushes(api.RoomUpdated)) != before {
		t.Errorf("failed requests must not broadcast")
	}
	info := call[api.RoomInfoResponse](t, g, bob, api.GetRoomInfo, api.GetRoomInfoRequest{RoomId: "R"})
	if !info.Success || len(info.Participants) != 2 {
		t.Errorf("bob should stay in R: %+v", info)
	}
}

func TestSameRoomIsUnchanged(t *testing.T) {
	g := newGateway(creds{})
	alice := connect(g, "")
	cr := call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})
	pushes := len(alice.pushes(api.RoomUpdated))

	again := call[api.CreateRoomResponse](t, g, alice, api.CreateRoom,
		api.CreateRoomRequest{EventId: "R", UserName: "alice", ReconnectionToken: cr.ReconnectionToken})
	if !again.Success || again.Participant.Id != cr.Participant.Id || again.ReconnectionToken != cr.ReconnectionToken {
		t.Errorf("expected the same membership, got %+v", again)
	}
	jr := call[api.JoinRoomResponse](t, g, alice, api.JoinRoom, api.JoinRoomRequest{RoomId: "R", UserName: "alice"})
	if !jr.Success || jr.Participant.Id != cr.Participant.Id || len(jr.Participants) != 1 {
		t.Errorf("expected the same membership, got %+v", jr)
	}
	if len(alice.pushes(api.RoomUpdated)) != pushes {
		t.Errorf("a repeated request must not broadcast")
	}
	if g.Rooms() != 1 {
		t.Errorf("room R should stay active")
	}
}

func TestRelayCredentials(t *testing.T) {
	g := newGateway(creds{})
	alice := connect(g, "")
	cr := call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})

	r := call[api.RelayCredentialsResponse](t, g, alice, api.GetRelayCredentials, struct{}{})
	if !r.Success || r.Credential == nil || r.Credential.Identity != "1:meet:"+cr.Participant.Id {
		t.Errorf("bad credentials %+v", r)
	}
}

func TestPanicIsInternalError(t *testing.T) {
	g := newGateway(creds{panics: true})
	alice := connect(g, "")
	call[api.CreateRoomResponse](t, g, alice, api.CreateRoom, api.CreateRoomRequest{EventId: "R", UserName: "alice"})

	r := call[api.Response](t, g, alice, api.GetRelayCredentials, struct{}{})
	if r.Success || r.Error != "InternalError" {
		t.Errorf("expected InternalError, got %+v", r)
	}
	// still alive
	if r := call[api.RoomInfoResponse](t, g, alice, api.GetRoomInfo, api.GetRoomInfoRequest{RoomId: "R"}); !r.Success {
		t.Errorf("gateway is broken after a panic: %+v", r)
	}
}

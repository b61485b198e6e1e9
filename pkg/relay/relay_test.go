package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/giongto35/cloud-meet/pkg/api"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/room"
	"github.com/giongto35/cloud-meet/pkg/token"
	"github.com/goccy/go-json"
)

type push struct {
	socket string
	t      api.PT
	msg    api.SignalMessage
}

type transport struct {
	pushes []push
	closed map[string]bool
}

func (tr *transport) Push(socketId string, t api.PT, payload any) error {
	if tr.closed[socketId] {
		return errors.New("closed")
	}
	tr.pushes = append(tr.pushes, push{socket: socketId, t: t, msg: payload.(api.SignalMessage)})
	return nil
}

func setup(t *testing.T) (*room.Registry, *transport, *Relay, string, string) {
	reg := room.NewRegistry(room.Config{Grace: time.Minute, Timeout: time.Hour}, token.New(time.Minute), logger.Nop())
	a, err := reg.CreateRoom("R", "sa", room.Profile{UserName: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.AddParticipant("R", "sb", room.Profile{UserName: "bob"}, "")
	if err != nil {
		t.Fatal(err)
	}
	tr := &transport{closed: map[string]bool{}}
	return reg, tr, New(reg, tr), a.Participant.Id, b.Participant.Id
}

func TestRelayForwardsUnchanged(t *testing.T) {
	_, tr, r, alice, bob := setup(t)

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n..."}`)
	if err := r.Relay("sa", api.WebrtcOffer, api.SignalRequest{RoomId: "R", TargetParticipantId: bob, Sdp: sdp}); err != nil {
		t.Fatalf("relay: %v", err)
	}
	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 9 typ host","sdpMid":"0"}`)
	if err := r.Relay("sb", api.WebrtcIceCandidate, api.SignalRequest{RoomId: "R", TargetParticipantId: alice, Candidate: cand}); err != nil {
		t.Fatalf("relay: %v", err)
	}

	if len(tr.pushes) != 2 {
		t.Fatalf("expected 2 pushes, got %v", len(tr.pushes))
	}
	p := tr.pushes[0]
	if p.socket != "sb" || p.t != api.WebrtcOffer || p.msg.From != alice || string(p.msg.Sdp) != string(sdp) {
		t.Errorf("bad offer push %+v", p)
	}
	p = tr.pushes[1]
	if p.socket != "sa" || p.t != api.WebrtcIceCandidate || p.msg.From != bob || string(p.msg.Candidate) != string(cand) {
		t.Errorf("bad candidate push %+v", p)
	}
}

func TestRelayErrors(t *testing.T) {
	reg, tr, r, _, bob := setup(t)
	_, _ = reg.CreateRoom("Q", "sq", room.Profile{UserName: "quinn"})
	sdp := json.RawMessage(`"x"`)

	tests := []struct {
		name   string
		sender string
		kind   api.PT
		rq     api.SignalRequest
		err    error
	}{
		{name: "not a signal", sender: "sa", kind: api.JoinRoom, rq: api.SignalRequest{RoomId: "R", TargetParticipantId: bob}, err: api.ErrValidation},
		{name: "stranger", sender: "nobody", kind: api.WebrtcOffer, rq: api.SignalRequest{RoomId: "R", TargetParticipantId: bob, Sdp: sdp}, err: api.ErrNotInRoom},
		{name: "other room", sender: "sq", kind: api.WebrtcOffer, rq: api.SignalRequest{RoomId: "R", TargetParticipantId: bob, Sdp: sdp}, err: api.ErrNotInRoom},
		{name: "unknown target", sender: "sa", kind: api.WebrtcOffer, rq: api.SignalRequest{RoomId: "R", TargetParticipantId: "ghost", Sdp: sdp}, err: api.ErrTargetNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := r.Relay(test.sender, test.kind, test.rq); !errors.Is(err, test.err) {
				t.Errorf("expected %v, got %v", test.err, err)
			}
		})
	}
	if len(tr.pushes) != 0 {
		t.Errorf("failed relays must not push anything")
	}
}

// alice offers to bob who has already left
func TestRelayToLeftPeer(t *testing.T) {
	reg, tr, r, _, bob := setup(t)
	if _, err := reg.RemoveParticipant("sb", true); err != nil {
		t.Fatal(err)
	}
	err := r.Relay("sa", api.WebrtcOffer, api.SignalRequest{RoomId: "R", TargetParticipantId: bob, Sdp: json.RawMessage(`"x"`)})
	if !errors.Is(err, api.ErrTargetNotFound) {
		t.Errorf("expected TargetNotFound, got %v", err)
	}
	if !api.IsClass(err, api.ClassRelay) {
		t.Errorf("expected a relay error")
	}
	if len(tr.pushes) != 0 {
		t.Errorf("no push expected")
	}
}

func TestRelayToDisconnectedPeer(t *testing.T) {
	reg, tr, r, _, bob := setup(t)
	_, _ = reg.RemoveParticipant("sb", false)
	err := r.Relay("sa", api.WebrtcAnswer, api.SignalRequest{RoomId: "R", TargetParticipantId: bob, Sdp: json.RawMessage(`"x"`)})
	if !errors.Is(err, api.ErrTargetNotFound) {
		t.Errorf("expected TargetNotFound, got %v", err)
	}

	tr.closed["sa"] = true
	_, _ = reg.AddParticipant("R", "sc", room.Profile{UserName: "carol"}, "")
	_, alice, _ := reg.Participant("sa")
	err = r.Relay("sc", api.WebrtcOffer, api.SignalRequest{RoomId: "R", TargetParticipantId: alice.Id, Sdp: json.RawMessage(`"x"`)})
	if !errors.Is(err, api.ErrTargetNotFound) {
		t.Errorf("closing socket should be TargetNotFound, got %v", err)
	}
}

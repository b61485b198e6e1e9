// Package relay forwards WebRTC negotiation messages between two members of a room.
// It never looks into the payloads.
package relay

import (
	"github.com/giongto35/cloud-meet/pkg/api"
)

// Directory answers membership questions.
type Directory interface {
	Participant(socketId string) (roomId string, p api.Participant, err error)
	Member(roomId, participantId string) (api.Participant, error)
}

// Transport delivers a push to a socket.
type Transport interface {
	Push(socketId string, t api.PT, payload any) error
}

type Relay struct {
	dir Directory
	out Transport
}

func New(dir Directory, out Transport) *Relay { return &Relay{dir: dir, out: out} }

// Relay sends the signal from the sender socket to the target participant of the room.
// The target gets the message of the same kind tagged with the sender id.
func (r *Relay) Relay(senderSocketId string, kind api.PT, rq api.SignalRequest) error {
	if !kind.IsSignal() {
		return api.ErrValidation.With("not a signal")
	}
	roomId, from, err := r.dir.Participant(senderSocketId)
	if err != nil || roomId != rq.RoomId {
		return api.ErrNotInRoom
	}
	to, err := r.dir.Member(rq.RoomId, rq.TargetParticipantId)
	if err != nil || to.SocketId == nil || !to.IsConnected {
		return api.ErrTargetNotFound
	}
	msg := api.SignalMessage{RoomId: rq.RoomId, From: from.Id, Sdp: rq.Sdp, Candidate: rq.Candidate}
	if err = r.out.Push(*to.SocketId, kind, msg); err != nil {
		// the socket is closing
		return api.ErrTargetNotFound
	}
	return nil
}

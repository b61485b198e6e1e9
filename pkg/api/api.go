// Package api defines the wire protocol between meeting participants and the coordinator.
//
// Each message (request, reply or push) is a JSON-encoded "packet" of the following structure:
//
//	id - (optional) a unique packet id, replies carry the id of their request;
//	 t - (required) one of the predefined packet kinds;
//	 p - (optional) packet payload.
//
// Requests are sent by a participant with an id and always get exactly one reply
// with the same id and kind. Pushes are sent by the coordinator without an id.
//
// Example:
//
//	{"id":"cfv68irdrc3ifu3jn6bg","t":"join-room","p":{"roomId":"standup","userName":"bob"}}
//	{"id":"cfv68irdrc3ifu3jn6bg","t":"join-room","p":{"success":true,"room":{...},...}}
//	{"t":"room-updated","p":{"roomId":"standup","event":"participant-joined",...}}
package api

import (
	"github.com/goccy/go-json"
)

// PT is a packet kind.
type PT string

type In struct {
	Id      string          `json:"id,omitempty"`
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // should be json.RawMessage for 2-pass unmarshal
}

func (i In) GetId() string      { return i.Id }
func (i In) GetPayload() []byte { return i.Payload }
func (i In) GetType() PT        { return i.T }

type Out struct {
	Id      string `json:"id,omitempty"`
	T       PT     `json:"t"`
	Payload any    `json:"p,omitempty"`
}

// Requests (participant -> coordinator).
const (
	CreateRoom          PT = "create-room"
	JoinRoom            PT = "join-room"
	ReconnectRoom       PT = "reconnect-room"
	LeaveRoom           PT = "leave-room"
	GetRoomInfo         PT = "get-room-info"
	CloseRoom           PT = "close-room"
	WebrtcOffer         PT = "webrtc-offer"
	WebrtcAnswer        PT = "webrtc-answer"
	WebrtcIceCandidate  PT = "webrtc-ice-candidate"
	UpdateMediaStatus   PT = "update-media-status"
	GetRelayCredentials PT = "get-relay-credentials"
)

// Pushes (coordinator -> participant).
// Relayed WebRTC messages reuse the request kinds.
const (
	RoomUpdated           PT = "room-updated"
	ReconnectionAvailable PT = "reconnection-available"
	PeerDisconnected      PT = "peer-disconnected"
)

var requests = map[PT]struct{}{
	CreateRoom:          {},
	JoinRoom:            {},
	ReconnectRoom:       {},
	LeaveRoom:           {},
	GetRoomInfo:         {},
	CloseRoom:           {},
	WebrtcOffer:         {},
	WebrtcAnswer:        {},
	WebrtcIceCandidate:  {},
	UpdateMediaStatus:   {},
	GetRelayCredentials: {},
}

// IsRequest tells if the kind belongs to the closed set of requests.
func (p PT) IsRequest() bool { _, ok := requests[p]; return ok }

// IsSignal tells if the kind is a relayed WebRTC negotiation message.
func (p PT) IsSignal() bool {
	return p == WebrtcOffer || p == WebrtcAnswer || p == WebrtcIceCandidate
}

func (p PT) String() string { return string(p) }

// Unwrap decodes packet payload into T.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}

// UnwrapChecked decodes packet payload into T, empty payloads are malformed.
func UnwrapChecked[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, ErrValidation.With("empty payload")
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, ErrValidation.With(err.Error())
	}
	return out, nil
}

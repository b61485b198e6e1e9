package api

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const maxUserNameLen = 64

type (
	Response struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	MediaStatus struct {
		HasVideo        bool `json:"hasVideo"`
		HasAudio        bool `json:"hasAudio"`
		IsScreenSharing bool `json:"isScreenSharing"`
	}
	Participant struct {
		Id          string      `json:"id"`
		SocketId    *string     `json:"socketId"`
		UserName    string      `json:"userName"`
		IsCreator   bool        `json:"isCreator"`
		JoinedAt    time.Time   `json:"joinedAt"`
		LastSeen    time.Time   `json:"lastSeen"`
		IsConnected bool        `json:"isConnected"`
		MediaStatus MediaStatus `json:"mediaStatus"`
	}
	Room struct {
		Id               string    `json:"id"`
		CreatedAt        time.Time `json:"createdAt"`
		LastActivity     time.Time `json:"lastActivity"`
		ParticipantCount int       `json:"participantCount"`
		MaxParticipants  int       `json:"maxParticipants"`
		IsActive         bool      `json:"isActive"`
		TimeoutDuration  int64     `json:"timeoutDuration"` // ms
	}
)

func Ok() Response            { return Response{Success: true} }
func Fail(err error) Response { return Response{Error: AsError(err).Code} }

// Err restores the typed error of a failed response.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	return FromCode(r.Error)
}

type (
	CreateRoomRequest struct {
		EventId           string `json:"eventId,omitempty"`
		UserName          string `json:"userName"`
		ReconnectionToken string `json:"reconnectionToken,omitempty"`
	}
	CreateRoomResponse struct {
		Response
		Room              *Room        `json:"room,omitempty"`
		Participant       *Participant `json:"participant,omitempty"`
		ReconnectionToken string       `json:"reconnectionToken,omitempty"`
	}
	JoinRoomRequest struct {
		RoomId            string `json:"roomId"`
		UserName          string `json:"userName"`
		ReconnectionToken string `json:"reconnectionToken,omitempty"`
	}
	JoinRoomResponse struct {
		Response
		Room              *Room         `json:"room,omitempty"`
		Participant       *Participant  `json:"participant,omitempty"`
		Participants      []Participant `json:"participants,omitempty"`
		ReconnectionToken string        `json:"reconnectionToken,omitempty"`
		IsReconnection    bool          `json:"isReconnection,omitempty"`
	}
	ReconnectRoomRequest struct {
		RoomId            string `json:"roomId"`
		ReconnectionToken string `json:"reconnectionToken"`
	}
	ReconnectRoomResponse = JoinRoomResponse
	RoomRequest           struct {
		RoomId string `json:"roomId"`
	}
	LeaveRoomRequest   = RoomRequest
	GetRoomInfoRequest = RoomRequest
	CloseRoomRequest   = RoomRequest
	RoomInfoResponse   struct {
		Response
		Room         *Room         `json:"room,omitempty"`
		Participants []Participant `json:"participants,omitempty"`
	}
	MediaStatusRequest struct {
		RoomId string `json:"roomId"`
		MediaStatus
	}
)

// SignalRequest is an offer, an answer or an ICE candidate addressed to one room member.
// Sdp and Candidate are opaque for the coordinator.
type SignalRequest struct {
	RoomId              string          `json:"roomId"`
	TargetParticipantId string          `json:"targetParticipantId"`
	Sdp                 json.RawMessage `json:"sdp,omitempty"`
	Candidate           json.RawMessage `json:"candidate,omitempty"`
}

type (
	RelayCredential struct {
		Identity  string    `json:"identity"`
		Secret    string    `json:"secret"`
		Ttl       int64     `json:"ttl"` // seconds
		Servers   []string  `json:"servers"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	RelayCredentialsResponse struct {
		Response
		Credential *RelayCredential `json:"credential,omitempty"`
	}
)

// Room update event tags.
const (
	EventJoined       = "participant-joined"
	EventLeft         = "participant-left"
	EventReconnected  = "participant-reconnected"
	EventDisconnected = "participant-disconnected"
	EventMediaChanged = "media-status-changed"
	EventRoomClosed   = "room-closed"
)

type (
	RoomUpdate struct {
		RoomId            string        `json:"roomId"`
		Participants      []Participant `json:"participants"`
		Event             string        `json:"event"`
		Participant       *Participant  `json:"participant,omitempty"`
		LeftParticipantId string        `json:"leftParticipantId,omitempty"`
	}
	ReconnectionAvailableMessage struct {
		RoomId   string `json:"roomId"`
		TimeLeft int64  `json:"timeLeft"` // ms
	}
	SignalMessage struct {
		RoomId    string          `json:"roomId"`
		From      string          `json:"fromParticipantId"`
		Sdp       json.RawMessage `json:"sdp,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
	}
	PeerDisconnectedMessage struct {
		RoomId        string `json:"roomId"`
		ParticipantId string `json:"participantId"`
	}
)

func validName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrValidation.With("userName is required")
	}
	if len(name) > maxUserNameLen {
		return ErrValidation.With("userName is too long")
	}
	return nil
}

func validRoom(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrValidation.With("roomId is required")
	}
	return nil
}

func (r CreateRoomRequest) Validate() error { return validName(r.UserName) }

func (r JoinRoomRequest) Validate() error {
	if err := validRoom(r.RoomId); err != nil {
		return err
	}
	return validName(r.UserName)
}

func (r ReconnectRoomRequest) Validate() error {
	if err := validRoom(r.RoomId); err != nil {
		return err
	}
	if r.ReconnectionToken == "" {
		return ErrValidation.With("reconnectionToken is required")
	}
	return nil
}

func (r RoomRequest) Validate() error        { return validRoom(r.RoomId) }
func (r MediaStatusRequest) Validate() error { return validRoom(r.RoomId) }

// Validate checks the request shape for the given signal kind.
func (r SignalRequest) Validate(kind PT) error {
	if err := validRoom(r.RoomId); err != nil {
		return err
	}
	if r.TargetParticipantId == "" {
		return ErrValidation.With("targetParticipantId is required")
	}
	switch kind {
	case WebrtcOffer, WebrtcAnswer:
		if isBlank(r.Sdp) {
			return ErrValidation.With("sdp is required")
		}
	case WebrtcIceCandidate:
		if isBlank(r.Candidate) {
			return ErrValidation.With("candidate is required")
		}
	default:
		return ErrValidation.With("not a signal")
	}
	return nil
}

func isBlank(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == `""`
}

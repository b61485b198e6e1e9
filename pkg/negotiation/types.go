package negotiation

import (
	"context"

	"github.com/giongto35/cloud-meet/pkg/api"
)

// Description is a session description (SDP) with its type,
// the same JSON shape as RTCSessionDescriptionInit.
type Description struct {
	Type string `json:"type"`
	Sdp  string `json:"sdp"`
}

// Candidate is an ICE candidate, the same JSON shape as RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SdpMid           *string `json:"sdpMid,omitempty"`
	SdpMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type IceServer struct {
	Urls       []string
	Username   string
	Credential string
}

type IceConfig struct {
	Servers []IceServer
	// Relay tells that the config has TURN credentials.
	Relay bool
}

// Peer is one WebRTC connection attempt with a remote participant.
type Peer interface {
	// CreateOffer makes an offer and sets it as the local description.
	CreateOffer() (Description, error)
	// CreateAnswer makes an answer and sets it as the local description.
	CreateAnswer() (Description, error)
	SetRemoteDescription(d Description) error
	AddCandidate(c Candidate) error
	Close() error
}

// PeerEvents are called by a Peer from its own goroutines.
type PeerEvents struct {
	OnCandidate func(c Candidate)
	OnConnected func()
	OnFailed    func(err error)
}

type PeerFactory interface {
	NewPeer(conf IceConfig, events PeerEvents) (Peer, error)
}

// Signaler sends negotiation messages to a remote participant through the relay.
// A gone peer is reported as api.ErrTargetNotFound.
type Signaler interface {
	SendOffer(ctx context.Context, to string, d Description) error
	SendAnswer(ctx context.Context, to string, d Description) error
	SendCandidate(ctx context.Context, to string, c Candidate) error
}

// CredentialSource fetches fresh TURN credentials.
type CredentialSource interface {
	Fetch(ctx context.Context) (api.RelayCredential, error)
}

// IceSource provides the ICE config for new connections.
type IceSource interface {
	Config(ctx context.Context) IceConfig
}

// StaticIce is a fixed ICE config.
type StaticIce IceConfig

func (s StaticIce) Config(context.Context) IceConfig { return IceConfig(s) }

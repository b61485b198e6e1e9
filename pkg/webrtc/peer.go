package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/negotiation"
	"github.com/pion/webrtc/v4"
)

const dataLabel = "data"

// Peer is a single pion connection driven by the negotiation coordinator.
type Peer struct {
	conn      *webrtc.PeerConnection
	ev        negotiation.PeerEvents
	log       *logger.Logger
	OnMessage func(data []byte)

	mu        sync.Mutex
	d         *webrtc.DataChannel
	connected bool
}

var ErrNoChannel = errors.New("no data channel")

// CreateOffer adds receive-only audio and video with a data channel
// and makes an offer out of them.
func (p *Peer) CreateOffer() (negotiation.Description, error) {
	if len(p.conn.GetTransceivers()) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			_, err := p.conn.AddTransceiverFromKind(kind,
				webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
			if err != nil {
				return negotiation.Description{}, err
			}
		}
		if err := p.addDataChannel(dataLabel); err != nil {
			return negotiation.Description{}, err
		}
	}
	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return negotiation.Description{}, err
	}
	if err = p.conn.SetLocalDescription(offer); err != nil {
		return negotiation.Description{}, err
	}
	p.log.Debug().Msg("Created Offer")
	return negotiation.Description{Type: offer.Type.String(), Sdp: offer.SDP}, nil
}

func (p *Peer) CreateAnswer() (negotiation.Description, error) {
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return negotiation.Description{}, err
	}
	if err = p.conn.SetLocalDescription(answer); err != nil {
		return negotiation.Description{}, err
	}
	p.log.Debug().Msg("Created Answer")
	return negotiation.Description{Type: answer.Type.String(), Sdp: answer.SDP}, nil
}

func (p *Peer) SetRemoteDescription(d negotiation.Description) error {
	typ := webrtc.NewSDPType(d.Type)
	if typ == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown sdp type %q", d.Type)
	}
	if err := p.conn.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: d.Sdp}); err != nil {
		return err
	}
	p.log.Debug().Msg("Set Remote Description")
	return nil
}

func (p *Peer) AddCandidate(c negotiation.Candidate) error {
	if err := p.conn.AddICECandidate(fromCandidate(c)); err != nil {
		return err
	}
	p.log.Trace().Str("candidate", c.Candidate).Msg("Ice")
	return nil
}

func (p *Peer) Close() error {
	if p.conn.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return nil
	}
	// ignore this due to DTLS fatal: conn is closed
	_ = p.conn.Close()
	p.log.Debug().Msg("WebRTC stop")
	return nil
}

// SendData sends a message over the data channel.
func (p *Peer) SendData(data []byte) error {
	p.mu.Lock()
	d := p.d
	p.mu.Unlock()
	if d == nil || d.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNoChannel
	}
	return d.Send(data)
}

func (p *Peer) handleICECandidate(ice *webrtc.ICECandidate) {
	// ICE gathering finish condition
	if ice == nil {
		p.log.Debug().Msg("ICE gathering was complete probably")
		return
	}
	candidate := ice.ToJSON()
	p.log.Trace().Str("candidate", candidate.Candidate).Msg("ICE")
	if p.ev.OnCandidate != nil {
		p.ev.OnCandidate(toCandidate(candidate))
	}
}

func (p *Peer) handleState(state webrtc.PeerConnectionState) {
	p.log.Debug().Str(".state", state.String()).Msg("Peer")
	switch state {
	case webrtc.PeerConnectionStateConnected:
		p.mu.Lock()
		first := !p.connected
		p.connected = true
		p.mu.Unlock()
		if first && p.ev.OnConnected != nil {
			p.ev.OnConnected()
		}
	case webrtc.PeerConnectionStateFailed:
		p.log.Error().Msgf("WebRTC connection fail! ice: %v, gathering: %v, signalling: %v",
			p.conn.ICEConnectionState(), p.conn.ICEGatheringState(), p.conn.SignalingState())
		if p.ev.OnFailed != nil {
			p.ev.OnFailed(errors.New("connection failed"))
		}
	case webrtc.PeerConnectionStateDisconnected:
		// may come back by itself, fails otherwise
	}
}

func (p *Peer) handleDataChannel(d *webrtc.DataChannel) {
	if d.Label() != dataLabel {
		p.log.Warn().Str("label", d.Label()).Msg("Unknown data channel")
		return
	}
	p.bind(d)
}

// handleTrack drains remote media, nothing plays it here.
func (p *Peer) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	p.log.Debug().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("Remote track")
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

// addDataChannel creates a new WebRTC data channel.
// Default params -- ordered: true, negotiated: false.
func (p *Peer) addDataChannel(label string) error {
	ch, err := p.conn.CreateDataChannel(label, nil)
	if err != nil {
		return err
	}
	p.bind(ch)
	return nil
}

func (p *Peer) bind(ch *webrtc.DataChannel) {
	ch.OnOpen(func() { p.log.Debug().Str("label", ch.Label()).Msg("Data channel opened") })
	ch.OnError(func(err error) { p.log.Error().Err(err).Msg("Data channel") })
	ch.OnMessage(func(m webrtc.DataChannelMessage) {
		if len(m.Data) == 0 {
			return
		}
		if p.OnMessage != nil {
			p.OnMessage(m.Data)
		}
	})
	ch.OnClose(func() { p.log.Debug().Str("label", ch.Label()).Msg("Data channel has been closed") })
	p.mu.Lock()
	p.d = ch
	p.mu.Unlock()
}

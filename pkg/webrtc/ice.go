package webrtc

import (
	"github.com/giongto35/cloud-meet/pkg/config"
	"github.com/giongto35/cloud-meet/pkg/negotiation"
	"github.com/pion/webrtc/v4"
)

// IceConfig converts the configured ICE servers.
// These are used when no relay credentials are available.
func IceConfig(servers []config.IceServer) negotiation.IceConfig {
	var out negotiation.IceConfig
	for _, s := range servers {
		if s.Urls == "" {
			continue
		}
		out.Servers = append(out.Servers, negotiation.IceServer{
			Urls:       []string{s.Urls},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func toPion(servers []negotiation.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.Urls, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}

func toCandidate(c webrtc.ICECandidateInit) negotiation.Candidate {
	return negotiation.Candidate{
		Candidate:        c.Candidate,
		SdpMid:           c.SDPMid,
		SdpMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromCandidate(c negotiation.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SdpMid,
		SDPMLineIndex:    c.SdpMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

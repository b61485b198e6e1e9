// Package webrtc implements negotiation peers with pion.
package webrtc

import (
	"github.com/giongto35/cloud-meet/pkg/config"
	"github.com/giongto35/cloud-meet/pkg/logger"
	"github.com/giongto35/cloud-meet/pkg/negotiation"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type ApiFactory struct {
	api *webrtc.API
	log *logger.Logger

	// OnMessage is called with every data channel message of any peer.
	OnMessage func(data []byte)
}

type ModApiFun func(m *webrtc.MediaEngine, i *interceptor.Registry, s *webrtc.SettingEngine)

func NewApiFactory(conf config.Webrtc, log *logger.Logger, mod ModApiFun) (api *ApiFactory, err error) {
	m := &webrtc.MediaEngine{}
	if err = m.RegisterDefaultCodecs(); err != nil {
		return
	}
	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err = webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return
		}
	}
	customLogger := logger.NewPionLogger(log, conf.LogLevel)
	s := webrtc.SettingEngine{LoggerFactory: customLogger}
	if conf.HasPortRange() {
		if err = s.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return
		}
	}
	if conf.HasIceIpMap() {
		s.SetNAT1To1IPs([]string{conf.IceIpMap}, webrtc.ICECandidateTypeHost)
		log.Info().Msgf("The NAT mapping is active for %v", conf.IceIpMap)
	}

	if mod != nil {
		mod(m, i, &s)
	}

	return &ApiFactory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		log: log.Extend(log.With().Str(logger.ModuleField, "rtc")),
	}, nil
}

// NewPeer makes a new connection with the provided ICE servers.
func (a *ApiFactory) NewPeer(ice negotiation.IceConfig, ev negotiation.PeerEvents) (negotiation.Peer, error) {
	conn, err := a.api.NewPeerConnection(webrtc.Configuration{ICEServers: toPion(ice.Servers)})
	if err != nil {
		return nil, err
	}
	p := &Peer{conn: conn, ev: ev, log: a.log, OnMessage: a.OnMessage}
	conn.OnICECandidate(p.handleICECandidate)
	conn.OnConnectionStateChange(p.handleState)
	conn.OnDataChannel(p.handleDataChannel)
	conn.OnTrack(p.handleTrack)
	return p, nil
}

package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type Options struct {
	ICEServers        []string
	CandidatePoolSize uint8
	// LogLevel applies to pion's own logging only.
	LogLevel zerolog.Level
	// Loopback gathers 127.0.0.1 host candidates; both peers on one machine
	// can then connect without any network.
	Loopback bool
}

// Factory builds one peer connection per call session, all sharing the
// same media engine and interceptors.
type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

var _ core.PeerLinkFactory = (*Factory)(nil)

func NewFactory(opts Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	s := webrtc.SettingEngine{LoggerFactory: NewPionLogger(log.Logger, opts.LogLevel)}
	if opts.Loopback {
		s.SetIncludeLoopbackCandidate(true)
		s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}

	c := webrtc.Configuration{
		ICEServers:           []webrtc.ICEServer{},
		ICECandidatePoolSize: opts.CandidatePoolSize,
	}
	if len(opts.ICEServers) > 0 {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{URLs: opts.ICEServers})
	}

	log.Info().Str("module", "rtc").Strs("ice_servers", opts.ICEServers).Bool("loopback", opts.Loopback).Msg("peer factory ready")
	return &Factory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: c,
	}, nil
}

func (f *Factory) NewPeerLink(sid domain.SessionID, role domain.Role) (core.PeerLink, error) {
	pc, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, err
	}
	return newWebRTCConnection(pc, sid, role), nil
}

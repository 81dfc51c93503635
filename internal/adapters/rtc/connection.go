// Package rtc implements the call's peer link on pion/webrtc.
package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// WebRTCConnection is a core.PeerLink over one pion peer connection.
// Candidates travel as JSON ICECandidateInit.
type WebRTCConnection struct {
	pc   *webrtc.PeerConnection
	sid  domain.SessionID
	role domain.Role
	log  zerolog.Logger

	mu       sync.Mutex
	onLocal  func(domain.NetworkCandidate)
	onState  func(domain.ConnectionState)
	onTrack  func(*webrtc.TrackRemote)
	streamed bool
	closed   bool
}

var _ core.PeerLink = (*WebRTCConnection)(nil)

func newWebRTCConnection(pc *webrtc.PeerConnection, sid domain.SessionID, role domain.Role) *WebRTCConnection {
	c := &WebRTCConnection{
		pc:   pc,
		sid:  sid,
		role: role,
		log:  log.With().Str("module", "rtc").Str("call", sid.Short()).Str("role", string(role)).Logger(),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if cand == nil {
			c.log.Debug().Msg("gathering complete")
			return
		}
		payload, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.log.Error().Err(err).Msg("encode candidate")
			return
		}
		c.mu.Lock()
		fn := c.onLocal
		c.mu.Unlock()
		if fn != nil {
			fn(domain.NetworkCandidate{Payload: payload, Origin: c.role})
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		st, ok := toDomainState(s)
		if !ok {
			return
		}
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(st)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})

	return c
}

func toDomainState(s webrtc.PeerConnectionState) (domain.ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.StateNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.StateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.StateClosed, true
	}
	return 0, false
}

func toPion(d domain.SessionDescription) (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case domain.DescriptionOffer:
		t = webrtc.SDPTypeOffer
	case domain.DescriptionAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q", domain.ErrMalformedDescription, d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func fromPion(d webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.DescriptionType(d.Type.String()), SDP: d.SDP}
}

func (c *WebRTCConnection) CreateOffer() (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return fromPion(offer), nil
}

func (c *WebRTCConnection) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return fromPion(answer), nil
}

func (c *WebRTCConnection) SetLocalDescription(d domain.SessionDescription) error {
	c.mu.Lock()
	listening := c.onLocal != nil
	c.mu.Unlock()
	if !listening {
		return core.ErrListenerNotRegistered
	}
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local %s: %w", d.Type, err)
	}
	return nil
}

func (c *WebRTCConnection) SetRemoteDescription(d domain.SessionDescription) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", d.Type, err)
	}
	return nil
}

func (c *WebRTCConnection) AddCandidate(cand domain.NetworkCandidate) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(cand.Payload, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (c *WebRTCConnection) OnLocalCandidate(fn func(domain.NetworkCandidate)) {
	c.mu.Lock()
	c.onLocal = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnRemoteTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

// AddLocalStream adds every track of m. A stream is consumed by the first
// link it is attached to.
func (c *WebRTCConnection) AddLocalStream(m *core.MediaStream) error {
	if m == nil {
		return nil
	}
	c.mu.Lock()
	if c.streamed {
		c.mu.Unlock()
		return fmt.Errorf("%w: link already has a stream", core.ErrStreamConsumed)
	}
	c.streamed = true
	c.mu.Unlock()

	if err := m.Claim(); err != nil {
		return err
	}
	for _, track := range m.Tracks {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		go drainRTCP(sender)
	}
	c.log.Info().Str("stream", m.ID).Int("tracks", len(m.Tracks)).Msg("local stream attached")
	return nil
}

// drainRTCP reads sender reports so interceptors keep working; it ends
// when the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
		return err
	}
	c.log.Info().Msg("closed")
	return nil
}

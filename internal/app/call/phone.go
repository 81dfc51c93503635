package call

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// Phone keeps at most one live session per client.
type Phone struct {
	transport core.ChannelTransport
	links     core.PeerLinkFactory
	media     core.MediaSource
	cfg       Config

	OnStateChange func(domain.SessionID, domain.ConnectionState)
	OnRemoteTrack func(domain.SessionID, *webrtc.TrackRemote)

	mu     sync.Mutex
	active *Session
	busy   bool
}

// NewPhone wires the collaborators of every future call. media may be nil
// for a receive-only client.
func NewPhone(transport core.ChannelTransport, links core.PeerLinkFactory, media core.MediaSource, cfg Config) *Phone {
	return &Phone{transport: transport, links: links, media: media, cfg: cfg}
}

// StartCall creates a session under a new id, joins it as caller and
// publishes the offer. The id is what the callee needs.
func (p *Phone) StartCall(ctx context.Context) (*Session, error) {
	id := domain.NewSessionID()
	s, err := p.open(ctx, id, domain.RoleCaller)
	if err != nil {
		return nil, err
	}
	if _, err := s.Join(ctx); err != nil {
		return nil, err
	}
	if err := s.StartOffer(ctx); err != nil {
		p.abort(s, err)
		return nil, err
	}
	return s, nil
}

// AnswerCall joins the call named by id and answers its stored offer.
func (p *Phone) AnswerCall(ctx context.Context, id domain.SessionID) (*Session, error) {
	s, err := p.open(ctx, id, domain.RoleCallee)
	if err != nil {
		return nil, err
	}
	if err := s.Answer(ctx); err != nil {
		p.abort(s, err)
		return nil, err
	}
	return s, nil
}

// Hangup closes the live session, if any.
func (p *Phone) Hangup() error {
	p.mu.Lock()
	s := p.active
	p.mu.Unlock()
	if s == nil {
		return core.ErrSessionTerminated
	}
	return s.Hangup()
}

// Active returns the live session or nil.
func (p *Phone) Active() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Phone) open(ctx context.Context, id domain.SessionID, role domain.Role) (*Session, error) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return nil, core.ErrCallInProgress
	}
	p.busy = true
	p.mu.Unlock()

	s, cancel, err := p.newSession(ctx, id, role)
	if err != nil {
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.active = s
	p.mu.Unlock()

	go func() {
		<-s.Done()
		cancel()
		p.mu.Lock()
		if p.active == s {
			p.active = nil
		}
		p.busy = false
		p.mu.Unlock()
		log.Info().Str("module", "phone").Str("sid", id.Short()).AnErr("cause", s.Err()).Msg("call ended")
	}()
	return s, nil
}

func (p *Phone) newSession(ctx context.Context, id domain.SessionID, role domain.Role) (*Session, context.CancelFunc, error) {
	mediaCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	opts := Options{}
	if p.media != nil {
		stream, err := p.media.AcquireLocalTracks(mediaCtx)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("acquire local tracks: %w", err)
		}
		opts.Stream = stream
	}
	if p.OnStateChange != nil {
		opts.OnStateChange = func(st domain.ConnectionState) { p.OnStateChange(id, st) }
	}
	if p.OnRemoteTrack != nil {
		opts.OnRemoteTrack = func(tr *webrtc.TrackRemote) { p.OnRemoteTrack(id, tr) }
	}
	s, err := NewSession(id, role, p.transport, p.links, p.cfg, opts)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return s, cancel, nil
}

// abort ends a session whose negotiation failed, keeping the failure as
// its cause. Sessions already torn down by the failure are left alone.
func (p *Phone) abort(s *Session, cause error) {
	s.terminate(domain.StateClosed, cause)
}

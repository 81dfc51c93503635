// Package call drives one two-party call: joining the relay topic, the
// offer/answer exchange, early candidate buffering and the connection
// lifecycle reported by the peer link.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type Config struct {
	// AckTimeout bounds join, offer, answer and get_offer round trips.
	AckTimeout time.Duration
	// CandidateTimeout is the delivery deadline of each outgoing candidate.
	CandidateTimeout time.Duration
	// OutboxSize caps local candidates waiting to be sent.
	OutboxSize int
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:       10 * time.Second,
		CandidateTimeout: 10 * time.Second,
		OutboxSize:       64,
	}
}

// Options are the optional collaborators of a session.
type Options struct {
	// Stream is attached to the peer link before negotiation.
	Stream        *core.MediaStream
	OnStateChange func(domain.ConnectionState)
	OnRemoteTrack func(*webrtc.TrackRemote)
}

type joinState int

const (
	joinIdle joinState = iota
	joinPending
	joinJoined
	joinFailed
)

// Session is one call from creation to teardown. It exclusively owns its
// channel membership, candidate buffer and peer link; once terminal it must
// be discarded.
type Session struct {
	id      domain.SessionID
	role    domain.Role
	cfg     Config
	channel core.Channel
	link    core.PeerLink
	buffer  *CandidateBuffer
	driver  *Negotiator
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      domain.ConnectionState
	join       joinState
	local      *domain.SessionDescription
	remote     *domain.SessionDescription
	listening  bool
	subs       []core.Subscription
	onState    func(domain.ConnectionState)
	violations int
	err        error

	outbox  chan domain.NetworkCandidate
	done    chan struct{}
	endOnce sync.Once
}

// NewSession binds a fresh peer link and a relay channel to id.
func NewSession(id domain.SessionID, role domain.Role, transport core.ChannelTransport, links core.PeerLinkFactory, cfg Config, opts Options) (*Session, error) {
	if id == "" {
		return nil, domain.ErrEmptySessionID
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}
	def := DefaultConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.CandidateTimeout <= 0 {
		cfg.CandidateTimeout = def.CandidateTimeout
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = def.OutboxSize
	}

	link, err := links.NewPeerLink(id, role)
	if err != nil {
		return nil, fmt.Errorf("new peer link: %w", err)
	}
	if opts.Stream != nil {
		if err := link.AddLocalStream(opts.Stream); err != nil {
			_ = link.Close()
			return nil, fmt.Errorf("attach local stream: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		role:    role,
		cfg:     cfg,
		channel: transport.Channel(id.Topic(), domain.JoinParams{Role: role}),
		link:    link,
		buffer:  NewCandidateBuffer(),
		driver:  &Negotiator{AckTimeout: cfg.AckTimeout},
		log: log.With().
			Str("module", "call").
			Str("sid", id.Short()).
			Str("role", string(role)).
			Logger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   domain.StateNew,
		onState: opts.OnStateChange,
		outbox:  make(chan domain.NetworkCandidate, cfg.OutboxSize),
		done:    make(chan struct{}),
	}
	link.OnConnectionStateChange(s.handleLinkState)
	if opts.OnRemoteTrack != nil {
		link.OnRemoteTrack(opts.OnRemoteTrack)
	}
	go s.watchChannel()
	s.log.Info().Msg("session created")
	return s, nil
}

func (s *Session) ID() domain.SessionID { return s.id }
func (s *Session) Role() domain.Role    { return s.role }

func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reached a terminal state and released
// its channel and peer link.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended. Nil for a local hangup.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Violations counts protocol violations that were dropped.
func (s *Session) Violations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violations
}

// StartOffer runs the caller side of the negotiation on a joined session.
func (s *Session) StartOffer(ctx context.Context) error { return s.driver.StartOffer(ctx, s) }

// Answer joins the channel and runs the callee side of the negotiation.
func (s *Session) Answer(ctx context.Context) error { return s.driver.AnswerSession(ctx, s) }

// Join binds the session to its channel. A session joins at most once; a
// second call fails with ErrAlreadyJoined, and a failed join ends the session.
func (s *Session) Join(ctx context.Context) (JoinPayload, error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return JoinPayload{}, fail("join", core.ErrSessionTerminated)
	}
	if s.join != joinIdle {
		s.mu.Unlock()
		return JoinPayload{}, fail("join", fmt.Errorf("%w: %s", core.ErrAlreadyJoined, s.channel.Topic()))
	}
	s.join = joinPending
	s.mu.Unlock()

	payload, err := JoinChannel(ctx, s.channel, s.role.Opposite(), s.cfg.AckTimeout)

	s.mu.Lock()
	ended := s.state.Terminal()
	if err != nil || ended {
		s.join = joinFailed
	} else {
		s.join = joinJoined
	}
	s.mu.Unlock()

	if err != nil {
		f := fail("join", err)
		s.terminate(domain.StateClosed, f)
		return JoinPayload{}, f
	}
	if ended {
		// Teardown ran while the join was in flight and skipped the leave.
		s.leaveChannel()
		return JoinPayload{}, fail("join", core.ErrSessionTerminated)
	}
	select {
	case <-s.channel.Done():
		f := channelLost()
		s.terminate(domain.StateFailed, f)
		return JoinPayload{}, f
	default:
	}
	s.log.Info().Int("buffered", len(payload.Candidates)).Msg("joined")
	return payload, nil
}

// watchChannel fails a joined session whose channel goes away underneath it.
func (s *Session) watchChannel() {
	select {
	case <-s.ctx.Done():
		return
	case <-s.channel.Done():
	}
	if s.joined() {
		s.terminate(domain.StateFailed, channelLost())
	}
}

func channelLost() error {
	return &Failure{Kind: FailureChannelLost, Op: "channel", Err: core.ErrChannelClosed}
}

func (s *Session) leaveChannel() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AckTimeout)
	defer cancel()
	if err := s.channel.Leave(ctx); err != nil && !errors.Is(err, core.ErrChannelClosed) {
		s.log.Warn().Err(err).Msg("leave channel")
	}
}

// Hangup closes the session locally.
func (s *Session) Hangup() error {
	if !s.transition(domain.StateClosed, nil) {
		return core.ErrSessionTerminated
	}
	return nil
}

func (s *Session) joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.join == joinJoined
}

func (s *Session) terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal()
}

// subscribe registers fn for inbound event; the subscription lives until teardown.
func (s *Session) subscribe(event string, fn func(json.RawMessage)) {
	sub := s.channel.On(event, fn)
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// listenLocalCandidates wires the peer link's candidate callback to the
// outbox. It must run before any local description is set.
func (s *Session) listenLocalCandidates() {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return
	}
	s.listening = true
	s.mu.Unlock()

	go s.sendCandidates()
	s.link.OnLocalCandidate(s.queueLocalCandidate)
}

func (s *Session) setLocal(desc domain.SessionDescription) error {
	s.mu.Lock()
	switch {
	case !s.listening:
		s.mu.Unlock()
		return core.ErrListenerNotRegistered
	case s.local != nil:
		s.mu.Unlock()
		return fmt.Errorf("%w: local description already set", core.ErrNegotiationViolation)
	}
	s.mu.Unlock()

	if err := s.link.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("%w: set local %s: %w", core.ErrPeerLinkFailure, desc.Type, err)
	}
	s.mu.Lock()
	s.local = &desc
	s.mu.Unlock()
	s.transition(domain.StateConnecting, nil)
	return nil
}

// setRemote applies desc at most once per session.
func (s *Session) setRemote(desc domain.SessionDescription) error {
	s.mu.Lock()
	if s.remote != nil {
		s.violations++
		s.mu.Unlock()
		return fmt.Errorf("%w: remote description already set", core.ErrNegotiationViolation)
	}
	s.remote = &desc
	s.mu.Unlock()

	if err := s.link.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %w", core.ErrPeerLinkFailure, desc.Type, err)
	}
	s.transition(domain.StateConnecting, nil)
	return nil
}

func (s *Session) hasRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote != nil
}

// releaseBuffer flushes early candidates; call only after the remote
// description is set.
func (s *Session) releaseBuffer() {
	n, err := s.buffer.Release(s.applyCandidate)
	if err != nil {
		s.log.Warn().Err(err).Msg("flush candidates")
	}
	s.log.Debug().Int("flushed", n).Msg("candidate buffer released")
}

func (s *Session) applyCandidate(c domain.NetworkCandidate) error {
	if err := s.link.AddCandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (s *Session) onAnswer(raw json.RawMessage) {
	if s.terminated() {
		return
	}
	var msg domain.AnswerMessage
	err := json.Unmarshal(raw, &msg)
	if err == nil {
		err = msg.Answer.Expect(domain.DescriptionAnswer)
	}
	if s.hasRemote() {
		s.mu.Lock()
		s.violations++
		s.mu.Unlock()
		s.log.Warn().Err(core.ErrNegotiationViolation).Msg("duplicate answer dropped")
		return
	}
	if err != nil {
		s.terminate(domain.StateFailed, fail("answer", fmt.Errorf("%w: %w", core.ErrNegotiationViolation, err)))
		return
	}
	if err := s.setRemote(msg.Answer); err != nil {
		s.terminate(domain.StateFailed, fail("answer", err))
		return
	}
	s.log.Info().Msg("answer applied")
	s.releaseBuffer()
}

func (s *Session) onRemoteCandidate(raw json.RawMessage) {
	if s.terminated() {
		return
	}
	var msg domain.CandidateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn().Err(err).Msg("undecodable candidate dropped")
		return
	}
	if isEmpty(msg.ICECandidate) {
		return
	}
	c := domain.NetworkCandidate{Payload: msg.ICECandidate, Origin: s.role.Opposite()}
	if err := s.buffer.Offer(c); err != nil {
		s.log.Warn().Err(err).Msg("remote candidate")
	}
}

func (s *Session) queueLocalCandidate(c domain.NetworkCandidate) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.outbox <- c:
	default:
		s.log.Warn().Msg("candidate outbox full, dropping local candidate")
	}
}

// sendCandidates delivers local candidates one by one, preserving order.
func (s *Session) sendCandidates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case c := <-s.outbox:
			msg := domain.CandidateMessage{ICECandidate: c.Payload, Role: s.role}
			ctx, cancel := context.WithTimeout(s.ctx, s.cfg.CandidateTimeout)
			_, err := s.channel.Push(ctx, domain.EventICECandidate, msg)
			cancel()
			if err != nil && s.ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("send local candidate")
			}
		}
	}
}

func (s *Session) handleLinkState(next domain.ConnectionState) {
	var cause error
	switch next {
	case domain.StateFailed:
		cause = &Failure{Kind: FailurePeerLink, Op: "connection", Err: core.ErrPeerLinkFailure}
	case domain.StateDisconnected:
		cause = &Failure{Kind: FailurePeerLink, Op: "connection", Err: core.ErrPeerDisconnected}
	}
	s.transition(next, cause)
}

// terminate ends the session unless it already ended.
func (s *Session) terminate(final domain.ConnectionState, cause error) {
	if !s.transition(final, cause) {
		return
	}
	if cause != nil {
		s.log.Warn().Err(cause).Str("state", final.String()).Msg("session aborted")
	}
}

// transition moves the state forward and tears the session down on any
// terminal state. Backward and repeated transitions are ignored.
func (s *Session) transition(next domain.ConnectionState, cause error) bool {
	s.mu.Lock()
	prev := s.state
	if !prev.CanTransition(next) {
		s.mu.Unlock()
		if prev != next {
			s.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("transition ignored")
		}
		return false
	}
	s.state = next
	if next.Terminal() {
		s.err = cause
	}
	cb := s.onState
	s.mu.Unlock()

	s.log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("state")
	if cb != nil {
		cb(next)
	}
	if next.Terminal() {
		s.teardown()
	}
	return true
}

// teardown unsubscribes every handler, drops buffered candidates, leaves
// the channel and closes the peer link.
func (s *Session) teardown() {
	s.endOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		subs := s.subs
		s.subs = nil
		leave := s.join == joinJoined
		s.mu.Unlock()

		for _, sub := range subs {
			sub.Unsubscribe()
		}
		s.buffer.Discard()

		if leave {
			s.leaveChannel()
		}
		if err := s.link.Close(); err != nil {
			s.log.Warn().Err(err).Msg("close peer link")
		}
		close(s.done)
		s.log.Info().Msg("session released")
	})
}

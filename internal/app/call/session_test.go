package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type stateLog struct {
	mu     sync.Mutex
	states []domain.ConnectionState
}

func (l *stateLog) record(st domain.ConnectionState) {
	l.mu.Lock()
	l.states = append(l.states, st)
	l.mu.Unlock()
}

func (l *stateLog) all() []domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ConnectionState(nil), l.states...)
}

func TestNewSessionValidates(t *testing.T) {
	_, err := NewSession("", domain.RoleCaller, &fakeTransport{}, &fakeLinks{}, testConfig(), Options{})
	assert.ErrorIs(t, err, domain.ErrEmptySessionID)

	_, err = NewSession(testID, domain.Role("observer"), &fakeTransport{}, &fakeLinks{}, testConfig(), Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)
}

func TestNewSessionAttachesStreamOnce(t *testing.T) {
	stream := core.NewMediaStream("local")
	_, _, link := newTestSession(t, domain.RoleCaller, nil, Options{Stream: stream})
	link.mu.Lock()
	assert.Same(t, stream, link.stream)
	link.mu.Unlock()

	links := &fakeLinks{}
	_, err := NewSession(testID, domain.RoleCaller, &fakeTransport{}, links, testConfig(), Options{Stream: stream})
	assert.ErrorIs(t, err, core.ErrStreamConsumed)
	assert.True(t, links.last().isClosed())
}

func TestJoinTwiceIsRejected(t *testing.T) {
	s, ch, _ := newTestSession(t, domain.RoleCaller, nil, Options{})

	_, err := s.Join(context.Background())
	require.NoError(t, err)

	_, err = s.Join(context.Background())
	require.ErrorIs(t, err, core.ErrAlreadyJoined)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureJoin, f.Kind)

	assert.Equal(t, 1, ch.joinCount())
	assert.Equal(t, domain.StateNew, s.State())
}

func TestJoinRejectedEndsSession(t *testing.T) {
	s, ch, link := newTestSession(t, domain.RoleCallee, func(ch *fakeChannel) {
		ch.joinErr = fmt.Errorf("%w: %w", core.ErrJoinRejected, &core.RelayError{Event: "phx_join", Reason: "already joined"})
	}, Options{})

	_, err := s.Join(context.Background())
	require.ErrorIs(t, err, core.ErrJoinRejected)

	<-s.Done()
	assert.Equal(t, domain.StateClosed, s.State())
	assert.ErrorIs(t, s.Err(), core.ErrJoinRejected)
	assert.Zero(t, ch.leaveCount())
	assert.True(t, link.isClosed())

	_, err = s.Join(context.Background())
	assert.ErrorIs(t, err, core.ErrSessionTerminated)
}

func TestSetLocalRequiresCandidateListener(t *testing.T) {
	s, _, link := newTestSession(t, domain.RoleCaller, nil, Options{})
	err := s.setLocal(domain.NewOffer("v=0"))
	assert.ErrorIs(t, err, core.ErrListenerNotRegistered)
	assert.NotContains(t, link.opsSnapshot(), "set_local")
}

func TestDisconnectTearsSessionDown(t *testing.T) {
	var states stateLog
	s, ch, link := offeringCaller(t, Options{OnStateChange: states.record})
	ch.emit(domain.EventAnswer, domain.AnswerMessage{Answer: domain.NewAnswer("v=0 answer")})

	link.setState(domain.StateConnected)
	assert.Equal(t, domain.StateConnected, s.State())

	link.setState(domain.StateDisconnected)
	<-s.Done()
	assert.Equal(t, domain.StateDisconnected, s.State())
	assert.ErrorIs(t, s.Err(), core.ErrPeerDisconnected)
	assert.True(t, link.isClosed())
	assert.Equal(t, 1, ch.leaveCount())
	assert.Zero(t, ch.handlerCount())

	// A stale delivery after teardown must not reach the peer link.
	before := len(link.addedPayloads())
	raw, err := json.Marshal(candidate("late"))
	require.NoError(t, err)
	s.onRemoteCandidate(raw)
	s.onAnswer(json.RawMessage(`{"answer":{"type":"answer","sdp":"v=0 late"}}`))
	assert.Len(t, link.addedPayloads(), before)
	assert.Equal(t, 1, link.remoteSetCount())

	assert.Equal(t, []domain.ConnectionState{
		domain.StateConnecting, domain.StateConnected, domain.StateDisconnected,
	}, states.all())
}

func TestStateNeverMovesBackward(t *testing.T) {
	s, _, link := offeringCaller(t, Options{})
	link.setState(domain.StateConnected)
	link.setState(domain.StateConnecting)
	link.setState(domain.StateNew)
	assert.Equal(t, domain.StateConnected, s.State())
}

func TestPeerLinkFailure(t *testing.T) {
	s, _, link := offeringCaller(t, Options{})
	link.setState(domain.StateFailed)

	<-s.Done()
	assert.Equal(t, domain.StateFailed, s.State())
	var f *Failure
	require.ErrorAs(t, s.Err(), &f)
	assert.Equal(t, FailurePeerLink, f.Kind)
	assert.ErrorIs(t, s.Err(), core.ErrPeerLinkFailure)

	link.setState(domain.StateClosed)
	assert.Equal(t, domain.StateFailed, s.State())
}

func TestHangup(t *testing.T) {
	var states stateLog
	s, ch, link := offeringCaller(t, Options{OnStateChange: states.record})

	require.NoError(t, s.Hangup())
	<-s.Done()
	assert.Equal(t, domain.StateClosed, s.State())
	assert.NoError(t, s.Err())
	assert.True(t, link.isClosed())
	assert.Equal(t, 1, ch.leaveCount())

	assert.ErrorIs(t, s.Hangup(), core.ErrSessionTerminated)
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateClosed}, states.all())

	// Local candidates gathered after teardown are not sent.
	sent := len(ch.sent())
	link.gather(domain.NetworkCandidate{Payload: json.RawMessage(candidatePayload("late"))})
	assert.Len(t, ch.sent(), sent)
}

func TestHangupDuringJoinLeavesChannel(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{setup: func(ch *fakeChannel) { ch.joinGate = gate }}
	links := &fakeLinks{}
	cfg := testConfig()
	cfg.AckTimeout = 5 * time.Second
	s, err := NewSession(testID, domain.RoleCaller, tr, links, cfg, Options{})
	require.NoError(t, err)
	ch, link := tr.last(), links.last()

	joined := make(chan error, 1)
	go func() {
		_, err := s.Join(context.Background())
		joined <- err
	}()
	require.Eventually(t, func() bool { return ch.joinCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, s.Hangup())
	<-s.Done()
	assert.Zero(t, ch.leaveCount())
	assert.True(t, link.isClosed())

	close(gate)
	err = <-joined
	assert.ErrorIs(t, err, core.ErrSessionTerminated)
	assert.Equal(t, 1, ch.leaveCount())
	assert.Equal(t, domain.StateClosed, s.State())
	assert.NoError(t, s.Err())
}

func TestChannelLossFailsJoinedSession(t *testing.T) {
	var states stateLog
	s, ch, link := offeringCaller(t, Options{OnStateChange: states.record})

	ch.drop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session survived channel loss")
	}
	assert.Equal(t, domain.StateFailed, s.State())
	var f *Failure
	require.ErrorAs(t, s.Err(), &f)
	assert.Equal(t, FailureChannelLost, f.Kind)
	assert.ErrorIs(t, s.Err(), core.ErrChannelClosed)
	assert.True(t, link.isClosed())
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting, domain.StateFailed}, states.all())
}

func TestChannelLossBeforeJoinIsLeftToJoin(t *testing.T) {
	s, ch, _ := newTestSession(t, domain.RoleCallee, nil, Options{})
	ch.drop()

	_, err := s.Join(context.Background())
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, FailureChannelLost, f.Kind)
	<-s.Done()
	assert.Equal(t, domain.StateFailed, s.State())
}

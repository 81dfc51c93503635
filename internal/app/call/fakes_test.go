package call

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type replyFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// blockReply never acknowledges: the push resolves when ctx ends.
func blockReply(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func okReply(resp string) replyFunc {
	return func(context.Context, json.RawMessage) (json.RawMessage, error) {
		if resp == "" {
			return nil, nil
		}
		return json.RawMessage(resp), nil
	}
}

type pushed struct {
	Event   string
	Payload json.RawMessage
}

type fakeChannel struct {
	topic  string
	params any

	mu       sync.Mutex
	joins    int
	joinResp json.RawMessage
	joinErr  error
	joinWait bool
	joinGate chan struct{}
	replies  map[string]replyFunc
	pushes   []pushed
	handlers map[string]map[int]func(json.RawMessage)
	nextSub  int
	leaves   int
	gone     chan struct{}
	goneOnce sync.Once
}

func newFakeChannel(topic string, params any) *fakeChannel {
	return &fakeChannel{
		topic:    topic,
		params:   params,
		replies:  make(map[string]replyFunc),
		handlers: make(map[string]map[int]func(json.RawMessage)),
		gone:     make(chan struct{}),
	}
}

func (c *fakeChannel) Topic() string { return c.topic }

func (c *fakeChannel) Join(ctx context.Context) (json.RawMessage, error) {
	c.mu.Lock()
	c.joins++
	wait, gate, resp, err := c.joinWait, c.joinGate, c.joinResp, c.joinErr
	c.mu.Unlock()
	if wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

func (c *fakeChannel) Push(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.pushes = append(c.pushes, pushed{Event: event, Payload: raw})
	reply := c.replies[event]
	c.mu.Unlock()
	if reply == nil {
		return nil, nil
	}
	return reply(ctx, raw)
}

func (c *fakeChannel) On(event string, fn func(json.RawMessage)) core.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]func(json.RawMessage))
	}
	c.handlers[event][id] = fn
	return subFunc(func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	})
}

func (c *fakeChannel) Leave(context.Context) error {
	c.mu.Lock()
	c.leaves++
	c.handlers = make(map[string]map[int]func(json.RawMessage))
	c.mu.Unlock()
	c.drop()
	return nil
}

func (c *fakeChannel) Done() <-chan struct{} { return c.gone }

// drop makes the channel unusable, as a lost connection would.
func (c *fakeChannel) drop() {
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *fakeChannel) reply(event string, fn replyFunc) {
	c.mu.Lock()
	c.replies[event] = fn
	c.mu.Unlock()
}

// emit delivers an inbound push to the registered handlers in registration order.
func (c *fakeChannel) emit(event string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	ids := make([]int, 0, len(c.handlers[event]))
	for id := range c.handlers[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(json.RawMessage), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.handlers[event][id])
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(raw)
	}
}

func (c *fakeChannel) handlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

func (c *fakeChannel) sent() []pushed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pushed(nil), c.pushes...)
}

func (c *fakeChannel) sentEvents() []string {
	var out []string
	for _, p := range c.sent() {
		out = append(out, p.Event)
	}
	return out
}

func (c *fakeChannel) leaveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaves
}

func (c *fakeChannel) joinCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joins
}

type subFunc func()

func (f subFunc) Unsubscribe() { f() }

// fakeTransport hands out fake channels, running setup on each new one.
type fakeTransport struct {
	setup func(*fakeChannel)

	mu       sync.Mutex
	channels []*fakeChannel
}

func (t *fakeTransport) Channel(topic string, params any) core.Channel {
	ch := newFakeChannel(topic, params)
	if t.setup != nil {
		t.setup(ch)
	}
	t.mu.Lock()
	t.channels = append(t.channels, ch)
	t.mu.Unlock()
	return ch
}

func (t *fakeTransport) last() *fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.channels) == 0 {
		return nil
	}
	return t.channels[len(t.channels)-1]
}

type fakeLink struct {
	mu         sync.Mutex
	ops        []string
	local      *domain.SessionDescription
	remote     *domain.SessionDescription
	remoteSets int
	added      []domain.NetworkCandidate
	addedEarly int
	onLocal    func(domain.NetworkCandidate)
	onState    func(domain.ConnectionState)
	onTrack    func(*webrtc.TrackRemote)
	stream     *core.MediaStream
	closed     bool
	offerErr   error
}

func (l *fakeLink) record(op string) {
	l.ops = append(l.ops, op)
}

func (l *fakeLink) CreateOffer() (domain.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("create_offer")
	if l.offerErr != nil {
		return domain.SessionDescription{}, l.offerErr
	}
	return domain.NewOffer("v=0 offer"), nil
}

func (l *fakeLink) CreateAnswer() (domain.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("create_answer")
	return domain.NewAnswer("v=0 answer"), nil
}

func (l *fakeLink) SetLocalDescription(d domain.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.onLocal == nil {
		return core.ErrListenerNotRegistered
	}
	l.record("set_local")
	l.local = &d
	return nil
}

func (l *fakeLink) SetRemoteDescription(d domain.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("set_remote")
	l.remote = &d
	l.remoteSets++
	return nil
}

func (l *fakeLink) AddCandidate(c domain.NetworkCandidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("add_candidate")
	if l.remote == nil {
		l.addedEarly++
	}
	l.added = append(l.added, c)
	return nil
}

func (l *fakeLink) OnLocalCandidate(fn func(domain.NetworkCandidate)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("on_local_candidate")
	l.onLocal = fn
}

func (l *fakeLink) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

func (l *fakeLink) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	l.mu.Lock()
	l.onTrack = fn
	l.mu.Unlock()
}

func (l *fakeLink) AddLocalStream(m *core.MediaStream) error {
	if err := m.Claim(); err != nil {
		return err
	}
	l.mu.Lock()
	l.stream = m
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) setState(st domain.ConnectionState) {
	l.mu.Lock()
	fn := l.onState
	l.mu.Unlock()
	fn(st)
}

func (l *fakeLink) gather(c domain.NetworkCandidate) {
	l.mu.Lock()
	fn := l.onLocal
	l.mu.Unlock()
	fn(c)
}

func (l *fakeLink) addedPayloads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, c := range l.added {
		out = append(out, string(c.Payload))
	}
	return out
}

func (l *fakeLink) opsSnapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) remoteSetCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteSets
}

type fakeLinks struct {
	mu    sync.Mutex
	links []*fakeLink
}

func (f *fakeLinks) NewPeerLink(domain.SessionID, domain.Role) (core.PeerLink, error) {
	l := &fakeLink{}
	f.mu.Lock()
	f.links = append(f.links, l)
	f.mu.Unlock()
	return l, nil
}

func (f *fakeLinks) last() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		return nil
	}
	return f.links[len(f.links)-1]
}

type fakeMedia struct {
	mu       sync.Mutex
	acquired int
}

func (m *fakeMedia) AcquireLocalTracks(context.Context) (*core.MediaStream, error) {
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	return core.NewMediaStream("local"), nil
}

func candidate(v string) domain.CandidateMessage {
	return domain.CandidateMessage{ICECandidate: json.RawMessage(`{"candidate":"` + v + `"}`)}
}

func candidatePayload(v string) string { return `{"candidate":"` + v + `"}` }

func testConfig() Config {
	return Config{AckTimeout: 200 * time.Millisecond, CandidateTimeout: 200 * time.Millisecond, OutboxSize: 8}
}

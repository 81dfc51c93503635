package channel

import (
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

type chanState int

const (
	stateClosed chanState = iota
	stateJoining
	stateJoined
	stateLeft
)

// Channel is one topic on a Socket. Inbound pushes are handed to handlers
// on the channel's own goroutine, one at a time in arrival order, so a
// handler may call Push or Leave without stalling the socket.
type Channel struct {
	socket *Socket
	topic  string
	params any

	mu       sync.Mutex
	state    chanState
	handlers map[string]map[uint64]func(stdjson.RawMessage)
	nextSub  uint64
	queue    []core.Frame
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newChannel(s *Socket, topic string, params any) *Channel {
	return &Channel{
		socket:   s,
		topic:    topic,
		params:   params,
		handlers: make(map[string]map[uint64]func(stdjson.RawMessage)),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (c *Channel) Topic() string { return c.topic }

// Join sends phx_join with the channel params. A channel joins once; a
// rejected or timed out join leaves it unusable.
func (c *Channel) Join(ctx context.Context) (stdjson.RawMessage, error) {
	c.mu.Lock()
	if c.state != stateClosed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", core.ErrAlreadyJoined, c.topic)
	}
	c.state = stateJoining
	c.mu.Unlock()

	if err := c.socket.register(c); err != nil {
		c.detach()
		return nil, err
	}
	go c.run()

	reply, err := c.socket.request(ctx, c.topic, core.EventJoin, c.params)
	if err == nil && reply.Status != core.StatusOK {
		err = fmt.Errorf("%w: %w", core.ErrJoinRejected, relayError(core.EventJoin, reply))
	}
	if err != nil {
		c.detach()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			go c.abandon()
		}
		return nil, err
	}

	c.mu.Lock()
	if c.state == stateJoining {
		c.state = stateJoined
	}
	c.mu.Unlock()
	c.socket.log.Info().Str("topic", c.topic).Msg("joined")
	return reply.Response, nil
}

// Push sends event and returns the relay's response once acknowledged.
func (c *Channel) Push(ctx context.Context, event string, payload any) (stdjson.RawMessage, error) {
	c.mu.Lock()
	joined := c.state == stateJoined
	c.mu.Unlock()
	if !joined {
		return nil, fmt.Errorf("%w: push %s on %s", core.ErrChannelClosed, event, c.topic)
	}
	reply, err := c.socket.request(ctx, c.topic, event, payload)
	if err != nil {
		return nil, err
	}
	if reply.Status != core.StatusOK {
		return nil, relayError(event, reply)
	}
	return reply.Response, nil
}

func (c *Channel) On(event string, fn func(stdjson.RawMessage)) core.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]func(stdjson.RawMessage))
	}
	c.handlers[event][id] = fn
	return &subscription{ch: c, event: event, id: id}
}

// Leave drops every handler and releases the membership on the relay.
func (c *Channel) Leave(ctx context.Context) error {
	c.mu.Lock()
	wasJoined := c.state == stateJoined
	c.state = stateLeft
	c.mu.Unlock()
	c.detach()
	if !wasJoined {
		return nil
	}
	reply, err := c.socket.request(ctx, c.topic, core.EventLeave, struct{}{})
	if err != nil {
		return fmt.Errorf("leave %s: %w", c.topic, err)
	}
	if reply.Status != core.StatusOK {
		return relayError(core.EventLeave, reply)
	}
	c.socket.log.Info().Str("topic", c.topic).Msg("left")
	return nil
}

// abandon asks the relay to drop a join whose reply never came back; the
// relay may still have seated us.
func (c *Channel) abandon() {
	ctx, cancel := context.WithTimeout(context.Background(), c.socket.opts.WriteTimeout)
	defer cancel()
	if _, err := c.socket.request(ctx, c.topic, core.EventLeave, struct{}{}); err != nil {
		c.socket.log.Debug().Err(err).Str("topic", c.topic).Msg("leave after abandoned join")
	}
}

// Done is closed once the channel stops dispatching.
func (c *Channel) Done() <-chan struct{} { return c.stop }

// detach stops dispatch and forgets handlers; the relay side is untouched.
func (c *Channel) detach() {
	c.mu.Lock()
	c.state = stateLeft
	c.handlers = make(map[string]map[uint64]func(stdjson.RawMessage))
	c.queue = nil
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stop) })
	c.socket.unregister(c)
}

func (c *Channel) enqueue(f core.Frame) {
	if f.Event == core.EventClose {
		c.detach()
		return
	}
	c.mu.Lock()
	if c.state == stateLeft {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) run() {
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 || c.state == stateLeft {
				c.mu.Unlock()
				break
			}
			f := c.queue[0]
			c.queue = c.queue[1:]
			fns := c.handlersFor(f.Event)
			c.mu.Unlock()
			for _, fn := range fns {
				fn(f.Payload)
			}
		}
	}
}

// handlersFor must be called with mu held.
func (c *Channel) handlersFor(event string) []func(stdjson.RawMessage) {
	hs := c.handlers[event]
	ids := make([]uint64, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(stdjson.RawMessage), 0, len(ids))
	for _, id := range ids {
		out = append(out, hs[id])
	}
	return out
}

type subscription struct {
	ch    *Channel
	event string
	id    uint64
	once  sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.ch.mu.Lock()
		delete(s.ch.handlers[s.event], s.id)
		s.ch.mu.Unlock()
	})
}

func relayError(event string, reply core.Reply) error {
	var body domain.ErrorResponse
	if err := json.Unmarshal(reply.Response, &body); err != nil || body.Reason == "" {
		body.Reason = reply.Status
	}
	return &core.RelayError{Event: event, Reason: body.Reason}
}

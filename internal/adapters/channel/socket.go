// Package channel is the client side of the relay: a websocket carrying
// topic-scoped frames, with replies correlated to requests by ref.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
)

var ErrHeartbeatTimeout = errors.New("heartbeat timeout")

type Options struct {
	Header            http.Header
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	OutboxSize        int
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 64
	}
	return o
}

type result struct {
	reply core.Reply
	err   error
}

// Socket is one relay connection shared by every channel opened on it.
type Socket struct {
	conn *websocket.Conn
	opts Options
	send chan []byte
	ref  atomic.Uint64
	log  zerolog.Logger

	mu       sync.Mutex
	pending  map[string]chan result
	channels map[string]*Channel
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay socket at url.
func Dial(ctx context.Context, url string, opts Options) (*Socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	opts = opts.withDefaults()
	s := &Socket{
		conn:     conn,
		opts:     opts,
		send:     make(chan []byte, opts.OutboxSize),
		log:      log.With().Str("module", "channel").Str("url", url).Logger(),
		pending:  make(map[string]chan result),
		channels: make(map[string]*Channel),
		done:     make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()
	go s.heartbeat()
	s.log.Info().Msg("connected")
	return s, nil
}

// Channel opens a channel for topic; params are sent with the join.
func (s *Socket) Channel(topic string, params any) core.Channel {
	return newChannel(s, topic, params)
}

// Done is closed once the socket is gone.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Err reports why the socket went away.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Socket) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.shutdown(nil)
	return nil
}

// request sends one frame and waits for its phx_reply.
func (s *Socket) request(ctx context.Context, topic, event string, payload any) (core.Reply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return core.Reply{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	ref := strconv.FormatUint(s.ref.Add(1), 10)
	frame, err := json.Marshal(core.Frame{Topic: topic, Event: event, Payload: body, Ref: &ref})
	if err != nil {
		return core.Reply{}, fmt.Errorf("encode %s frame: %w", event, err)
	}

	wait := make(chan result, 1)
	s.mu.Lock()
	if s.closed() {
		s.mu.Unlock()
		return core.Reply{}, core.ErrChannelClosed
	}
	s.pending[ref] = wait
	s.mu.Unlock()

	select {
	case s.send <- frame:
	case <-ctx.Done():
		s.pop(ref)
		return core.Reply{}, ctx.Err()
	case <-s.done:
		return core.Reply{}, core.ErrChannelClosed
	}

	select {
	case res := <-wait:
		return res.reply, res.err
	case <-ctx.Done():
		s.pop(ref)
		return core.Reply{}, ctx.Err()
	}
}

func (s *Socket) pop(ref string) chan result {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := s.pending[ref]
	delete(s.pending, ref)
	return wait
}

// closed must be called with mu held.
func (s *Socket) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Socket) register(ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return core.ErrChannelClosed
	}
	if _, taken := s.channels[ch.topic]; taken {
		return fmt.Errorf("%w: %s", core.ErrAlreadyJoined, ch.topic)
	}
	s.channels[ch.topic] = ch
	return nil
}

func (s *Socket) unregister(ch *Channel) {
	s.mu.Lock()
	if s.channels[ch.topic] == ch {
		delete(s.channels, ch.topic)
	}
	s.mu.Unlock()
}

func (s *Socket) readPump() {
	defer s.shutdown(core.ErrChannelClosed)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("read")
			}
			s.shutdown(fmt.Errorf("%w: %w", core.ErrChannelClosed, err))
			return
		}
		var f core.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn().Err(err).Msg("bad frame")
			continue
		}
		s.route(f)
	}
}

func (s *Socket) route(f core.Frame) {
	if f.Event == core.EventReply && f.Ref != nil {
		var reply core.Reply
		res := result{}
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			res.err = fmt.Errorf("decode reply: %w", err)
		}
		res.reply = reply
		if wait := s.pop(*f.Ref); wait != nil {
			wait <- res
		}
		return
	}

	s.mu.Lock()
	ch := s.channels[f.Topic]
	s.mu.Unlock()
	if ch == nil {
		s.log.Debug().Str("topic", f.Topic).Str("event", f.Event).Msg("frame for unknown topic")
		return
	}
	ch.enqueue(f)
}

func (s *Socket) writePump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
				s.shutdown(fmt.Errorf("%w: %w", core.ErrChannelClosed, err))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Warn().Err(err).Msg("write")
				s.shutdown(fmt.Errorf("%w: %w", core.ErrChannelClosed, err))
				return
			}
		}
	}
}

// heartbeat keeps the relay from reaping an idle socket and closes the
// socket when the relay stops answering.
func (s *Socket) heartbeat() {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.HeartbeatInterval)
			_, err := s.request(ctx, core.PhoenixTopic, core.EventHeartbeat, struct{}{})
			cancel()
			if errors.Is(err, context.DeadlineExceeded) {
				s.log.Warn().Msg("heartbeat unanswered, closing")
				s.shutdown(ErrHeartbeatTimeout)
				return
			}
		}
	}
}

// shutdown fails every pending request and detaches every channel.
func (s *Socket) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		close(s.done)
		pending := s.pending
		s.pending = make(map[string]chan result)
		channels := s.channels
		s.channels = make(map[string]*Channel)
		s.mu.Unlock()

		_ = s.conn.Close()
		for _, wait := range pending {
			wait <- result{err: core.ErrChannelClosed}
		}
		for _, ch := range channels {
			ch.detach()
		}
		s.log.Info().AnErr("cause", cause).Msg("socket closed")
	})
}

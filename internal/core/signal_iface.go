package core

import (
	"context"
	"encoding/json"
)

// Subscription is an inbound event registration owned by its creator.
type Subscription interface {
	Unsubscribe()
}

// Channel is one topic on the relay. Delivery is reliable and ordered per
// topic; pushes are acknowledged by the relay.
type Channel interface {
	Topic() string
	// Join resolves exactly once with the relay's join payload or an error.
	// A channel may be joined only once.
	Join(ctx context.Context) (json.RawMessage, error)
	// Push sends an event and waits for the relay's acknowledgement until ctx ends.
	Push(ctx context.Context, event string, payload any) (json.RawMessage, error)
	// On registers fn for inbound pushes of event. Handlers of one channel run
	// sequentially in delivery order and must not block on the channel.
	On(event string, fn func(payload json.RawMessage)) Subscription
	// Leave releases membership and drops every subscription.
	Leave(ctx context.Context) error
	// Done is closed once the channel can no longer deliver: after Leave, a
	// relay close or the loss of the underlying connection.
	Done() <-chan struct{}
}

// ChannelTransport hands out channels bound to a topic and join params.
type ChannelTransport interface {
	Channel(topic string, params any) Channel
}

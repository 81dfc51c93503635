package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// JoinPayload is what the relay hands a joiner: candidates the other party
// trickled before this side was present, oldest first.
type JoinPayload struct {
	Candidates []domain.NetworkCandidate
}

// JoinChannel joins ch and resolves exactly once: the decoded join payload,
// a join rejection carrying the relay's reason, or ErrAckTimeout after timeout.
func JoinChannel(ctx context.Context, ch core.Channel, from domain.Role, timeout time.Duration) (JoinPayload, error) {
	raw, err := withAck(ctx, timeout, func(ctx context.Context) (json.RawMessage, error) {
		return ch.Join(ctx)
	})
	if err != nil {
		return JoinPayload{}, fmt.Errorf("join %s: %w", ch.Topic(), err)
	}
	return decodeJoinPayload(raw, from)
}

func decodeJoinPayload(raw json.RawMessage, from domain.Role) (JoinPayload, error) {
	var out JoinPayload
	if isEmpty(raw) {
		return out, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out, fmt.Errorf("%w: join payload: %w", core.ErrNegotiationViolation, err)
	}
	for _, item := range items {
		if isEmpty(item) {
			continue
		}
		out.Candidates = append(out.Candidates, domain.NetworkCandidate{Payload: item, Origin: from})
	}
	return out, nil
}

// pushAck sends event on ch and waits for the relay's acknowledgement.
func pushAck(ctx context.Context, ch core.Channel, timeout time.Duration, event string, payload any) (json.RawMessage, error) {
	resp, err := withAck(ctx, timeout, func(ctx context.Context) (json.RawMessage, error) {
		return ch.Push(ctx, event, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", event, err)
	}
	return resp, nil
}

// withAck bounds fn by timeout and reports the deadline as ErrAckTimeout
// unless the parent context ended first.
func withAck(ctx context.Context, timeout time.Duration, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	ackCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := fn(ackCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", core.ErrAckTimeout, timeout)
		}
		return nil, err
	}
	return resp, nil
}

func isEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null" || string(raw) == "{}"
}

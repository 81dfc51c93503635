package call

import (
	"errors"
	"fmt"

	"github.com/dkeye/Call/internal/core"
)

type FailureKind int

const (
	FailureNegotiation FailureKind = iota
	FailureJoin
	FailureAckTimeout
	FailureInvalidSession
	FailureViolation
	FailurePeerLink
	FailureChannelLost
)

func (k FailureKind) String() string {
	switch k {
	case FailureJoin:
		return "join_error"
	case FailureAckTimeout:
		return "ack_timeout"
	case FailureInvalidSession:
		return "invalid_session"
	case FailureViolation:
		return "negotiation_violation"
	case FailurePeerLink:
		return "peer_link_failure"
	case FailureChannelLost:
		return "channel_lost"
	}
	return "negotiation_failure"
}

// Failure is the tagged result every session operation surfaces.
type Failure struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err) }

func (f *Failure) Unwrap() error { return f.Err }

func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	return &Failure{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, core.ErrAckTimeout):
		return FailureAckTimeout
	case errors.Is(err, core.ErrJoinRejected), errors.Is(err, core.ErrAlreadyJoined):
		return FailureJoin
	case errors.Is(err, core.ErrInvalidSession):
		return FailureInvalidSession
	case errors.Is(err, core.ErrNegotiationViolation):
		return FailureViolation
	case errors.Is(err, core.ErrPeerLinkFailure), errors.Is(err, core.ErrPeerDisconnected):
		return FailurePeerLink
	case errors.Is(err, core.ErrChannelClosed):
		return FailureChannelLost
	}
	return FailureNegotiation
}

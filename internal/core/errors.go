package core

import (
	"errors"
	"fmt"
)

var (
	ErrJoinRejected          = errors.New("join rejected")
	ErrAckTimeout            = errors.New("acknowledgement timeout")
	ErrInvalidSession        = errors.New("invalid session id")
	ErrNegotiationViolation  = errors.New("negotiation violation")
	ErrPeerLinkFailure       = errors.New("peer link failure")
	ErrPeerDisconnected      = errors.New("peer disconnected")
	ErrAlreadyJoined         = errors.New("channel already joined")
	ErrChannelClosed         = errors.New("channel closed")
	ErrSessionTerminated     = errors.New("session terminated")
	ErrListenerNotRegistered = errors.New("local candidate listener not registered")
	ErrCallInProgress        = errors.New("call already in progress")
)

// RelayError carries a rejection reason supplied by the relay.
type RelayError struct {
	Event  string
	Reason string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay rejected %s: %s", e.Event, e.Reason)
}

// Package domain contains the value types of a call, without transport or lifecycle logic.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// TopicPrefix scopes every call topic on the relay.
const TopicPrefix = "call:"

var (
	ErrEmptySessionID = errors.New("empty session id")
	ErrInvalidRole    = errors.New("invalid role")
)

// SessionID names one caller/callee pairing. The callee receives it out of
// band and reuses it verbatim.
type SessionID string

func (id SessionID) Topic() string { return TopicPrefix + string(id) }

func (id SessionID) String() string { return string(id) }

// Short is a log-friendly abbreviation.
func (id SessionID) Short() string {
	s := string(id)
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "." + s[len(s)-3:]
}

// ParseSessionID trims user input and rejects values that cannot form a topic.
func ParseSessionID(raw string) (SessionID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptySessionID
	}
	if strings.ContainsAny(s, ": \t\r\n") {
		return "", fmt.Errorf("session id %q: contains separator or whitespace", s)
	}
	return SessionID(s), nil
}

// ParseTopic extracts the session id from a "call:<id>" topic.
func ParseTopic(topic string) (SessionID, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || rest == "" {
		return "", false
	}
	return SessionID(rest), true
}

// Role is fixed for the lifetime of a session.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(s)); r {
	case RoleCaller, RoleCallee:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

func (r Role) Valid() bool { return r == RoleCaller || r == RoleCallee }

// Opposite returns the other party's role.
func (r Role) Opposite() Role {
	if r == RoleCaller {
		return RoleCallee
	}
	return RoleCaller
}

// ConnectionState follows the peer link; the session only observes it.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal states are never left.
func (s ConnectionState) Terminal() bool {
	return s == StateDisconnected || s == StateFailed || s == StateClosed
}

// CanTransition reports whether s may move to next. Transitions only go
// forward and terminal states absorb everything.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	if s.Terminal() || s == next {
		return false
	}
	switch next {
	case StateConnecting:
		return s == StateNew
	case StateConnected:
		return s == StateNew || s == StateConnecting
	case StateDisconnected:
		return s == StateConnecting || s == StateConnected
	case StateFailed, StateClosed:
		return true
	}
	return false
}

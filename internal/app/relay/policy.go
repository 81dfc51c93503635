package relay

import "github.com/dkeye/Call/internal/domain"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose socket refused a push.
type Policy interface {
	OnBackpressure(call domain.SessionID, m Member, err error) BackpressureAction
}

// SimplePolicy kicks slow members; their peer notices through the peer link.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(domain.SessionID, Member, error) BackpressureAction {
	return KickMember
}

// LenientPolicy drops the frame and keeps the member.
type LenientPolicy struct{}

func (LenientPolicy) OnBackpressure(domain.SessionID, Member, error) BackpressureAction {
	return DropFrame
}

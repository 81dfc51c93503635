package core

import (
	"github.com/dkeye/Call/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerLink is the point-to-point engine a session drives: path discovery,
// encryption and media transport all happen behind it.
type PeerLink interface {
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	// SetLocalDescription fails with ErrListenerNotRegistered unless
	// OnLocalCandidate was called first: candidates start flowing as soon as
	// the local description is set.
	SetLocalDescription(domain.SessionDescription) error
	SetRemoteDescription(domain.SessionDescription) error
	AddCandidate(domain.NetworkCandidate) error

	// OnLocalCandidate sets the callback for newly gathered local candidates.
	OnLocalCandidate(func(domain.NetworkCandidate))
	// OnConnectionStateChange sets the callback for transport state changes.
	OnConnectionStateChange(func(domain.ConnectionState))
	// OnRemoteTrack sets the callback invoked when remote media arrives.
	OnRemoteTrack(func(*webrtc.TrackRemote))

	// AddLocalStream attaches captured tracks; must precede negotiation.
	AddLocalStream(*MediaStream) error
	Close() error
}

// PeerLinkFactory builds a fresh link for every session.
type PeerLinkFactory interface {
	NewPeerLink(sid domain.SessionID, role domain.Role) (PeerLink, error)
}

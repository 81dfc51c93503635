package core

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

var ErrStreamConsumed = errors.New("media stream already attached")

// MediaStream groups the local tracks of one capture. It is attached to
// exactly one peer link.
type MediaStream struct {
	ID     string
	Tracks []webrtc.TrackLocal

	claimed atomic.Bool
}

func NewMediaStream(id string, tracks ...webrtc.TrackLocal) *MediaStream {
	return &MediaStream{ID: id, Tracks: tracks}
}

// Claim marks the stream as consumed; the second call fails.
func (m *MediaStream) Claim() error {
	if !m.claimed.CompareAndSwap(false, true) {
		return ErrStreamConsumed
	}
	return nil
}

// MediaSource captures local media. Device enumeration lives behind it.
type MediaSource interface {
	// AcquireLocalTracks starts capture bound to ctx; capture stops when ctx ends.
	AcquireLocalTracks(ctx context.Context) (*MediaStream, error)
}

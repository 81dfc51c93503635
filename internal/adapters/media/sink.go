package media

import (
	"context"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type SinkStats struct {
	Packets uint64
	Bytes   uint64
	Lost    uint64
}

// Sink consumes one remote track. It does not play anything; it keeps the
// receive path drained and counts what arrives.
type Sink struct {
	Kind string

	packets atomic.Uint64
	bytes   atomic.Uint64
	lost    atomic.Uint64
	done    chan struct{}
}

func (s *Sink) Stats() SinkStats {
	return SinkStats{Packets: s.packets.Load(), Bytes: s.bytes.Load(), Lost: s.lost.Load()}
}

// Done is closed once the track ends.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Consume drains track until it ends or ctx is cancelled.
func Consume(ctx context.Context, track *webrtc.TrackRemote) *Sink {
	logger := log.With().Str("module", "media").Str("track_id", track.ID()).Str("kind", track.Kind().String()).Logger()
	s := &Sink{Kind: track.Kind().String(), done: make(chan struct{})}
	go s.loop(ctx, track, &logger)
	return s
}

func (s *Sink) loop(ctx context.Context, src rtpReader, logger *zerolog.Logger) {
	defer close(s.done)
	var last uint16
	var seen bool
	for {
		select {
		case <-ctx.Done():
			logger.Info().Uint64("packets", s.packets.Load()).Uint64("lost", s.lost.Load()).Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Uint64("packets", s.packets.Load()).Msg("remote track ended")
			return
		}
		s.count(pkt, &last, &seen)
	}
}

func (s *Sink) count(pkt *rtp.Packet, last *uint16, seen *bool) {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	if *seen {
		diff := int16(pkt.SequenceNumber - *last)
		// Reordered and duplicate packets are not gaps.
		if diff <= 0 {
			return
		}
		if diff > 1 {
			s.lost.Add(uint64(diff - 1))
		}
	}
	*last = pkt.SequenceNumber
	*seen = true
}

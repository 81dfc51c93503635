// Package media provides the call client's local audio and the consumer of
// remote audio.
package media

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
)

const frameDuration = 20 * time.Millisecond

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource stands in for a microphone: it produces an Opus track that
// carries silence until its capture context ends.
type SilenceSource struct {
	Interval time.Duration
}

var _ core.MediaSource = SilenceSource{}

func (s SilenceSource) AcquireLocalTracks(ctx context.Context) (*core.MediaStream, error) {
	streamID := "call-" + xid.New().String()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	interval := s.Interval
	if interval <= 0 {
		interval = frameDuration
	}
	go writeSilence(ctx, track, interval)
	log.Info().Str("module", "media").Str("stream", streamID).Msg("local audio acquired")
	return core.NewMediaStream(streamID, track), nil
}

type sampleWriter interface {
	WriteSample(media.Sample) error
}

func writeSilence(ctx context.Context, w sampleWriter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "media").Msg("local audio stopped")
			return
		case <-ticker.C:
			// Writes before the track is bound are discarded by pion.
			if err := w.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("write sample")
			}
		}
	}
}

// Command call places or answers a two-party audio call through the relay.
//
//	call start
//	call answer <session-id>
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Call/internal/adapters/channel"
	"github.com/dkeye/Call/internal/adapters/media"
	"github.com/dkeye/Call/internal/adapters/rtc"
	"github.com/dkeye/Call/internal/app/call"
	"github.com/dkeye/Call/internal/config"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

func usage(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: call [flags] start | answer <session-id>\n\n")
	fs.PrintDefaults()
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	fs := config.ClientFlags()
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	cfg, err := config.LoadClient(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetLogLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, fs.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage(fs)
			os.Exit(2)
		}
		log.Error().Err(err).Msg("call failed")
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, cfg *config.ClientConfig, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.AckTimeout)
	socket, err := channel.Dial(dialCtx, cfg.RelayURL, channel.Options{HeartbeatInterval: cfg.HeartbeatInterval})
	dialCancel()
	if err != nil {
		return err
	}
	defer socket.Close()

	links, err := rtc.NewFactory(rtc.Options{
		ICEServers:        cfg.ICEServers,
		CandidatePoolSize: cfg.ICECandidatePoolSize,
		LogLevel:          zerolog.WarnLevel,
	})
	if err != nil {
		return fmt.Errorf("peer factory: %w", err)
	}

	var source core.MediaSource
	if cfg.Media.Audio {
		source = media.SilenceSource{}
	}
	phone := call.NewPhone(socket, links, source, call.Config{
		AckTimeout:       cfg.AckTimeout,
		CandidateTimeout: cfg.CandidateTimeout,
	})
	phone.OnStateChange = func(id domain.SessionID, st domain.ConnectionState) {
		log.Info().Str("module", "call").Str("sid", id.Short()).Str("state", st.String()).Msg("call state")
	}
	phone.OnRemoteTrack = func(id domain.SessionID, track *webrtc.TrackRemote) {
		sink := media.Consume(ctx, track)
		go reportSink(ctx, id, sink)
	}

	var s *call.Session
	switch args[0] {
	case "start":
		s, err = phone.StartCall(ctx)
		if err == nil {
			fmt.Println(s.ID())
		}
	case "answer":
		if len(args) < 2 {
			return errUsage
		}
		id, perr := domain.ParseSessionID(args[1])
		if perr != nil {
			return perr
		}
		s, err = phone.AnswerCall(ctx, id)
	default:
		return errUsage
	}
	if err != nil {
		return err
	}

	select {
	case <-s.Done():
	case <-socket.Done():
		log.Warn().AnErr("cause", socket.Err()).Msg("relay connection lost")
		_ = phone.Hangup()
	case <-ctx.Done():
		_ = phone.Hangup()
	}
	<-s.Done()

	cause := s.Err()
	var f *call.Failure
	if errors.As(cause, &f) {
		return f
	}
	log.Info().Str("state", s.State().String()).Msg("call finished")
	return nil
}

func reportSink(ctx context.Context, id domain.SessionID, sink *media.Sink) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sink.Done():
			st := sink.Stats()
			log.Info().Str("sid", id.Short()).Uint64("packets", st.Packets).Uint64("lost", st.Lost).Msg("remote audio ended")
			return
		case <-ticker.C:
			st := sink.Stats()
			log.Info().Str("sid", id.Short()).Str("kind", sink.Kind).Uint64("packets", st.Packets).
				Uint64("bytes", st.Bytes).Uint64("lost", st.Lost).Msg("remote audio")
		}
	}
}

package signal

import (
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/app/relay"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

const reasonRateLimited = "rate limited"

func (ctl *SignalWSController) handleJoin(conn *wsSignalConn, f core.Frame) {
	var p domain.JoinParams
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
			ctl.replyError(conn, f, "bad_payload")
			return
		}
	}
	role, err := domain.ParseRole(string(p.Role))
	if err != nil {
		ctl.replyError(conn, f, relay.ErrInvalidRole.Error())
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(conn.client) {
		log.Warn().Str("module", "signal").Str("client", conn.client).Msg("join rate limited")
		ctl.replyError(conn, f, reasonRateLimited)
		return
	}

	backlog, err := ctl.Hub.Join(f.Topic, role, conn)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("conn", conn.id).Str("topic", f.Topic).Msg("join rejected")
		ctl.replyError(conn, f, reason(err))
		return
	}
	ctl.replyOK(conn, f, backlog)
}

// handleLeave releases the topic; the socket stays open.
func (ctl *SignalWSController) handleLeave(conn *wsSignalConn, f core.Frame) {
	if err := ctl.Hub.Leave(f.Topic, conn); err != nil {
		ctl.replyError(conn, f, reason(err))
		return
	}
	ctl.replyOK(conn, f, struct{}{})
}

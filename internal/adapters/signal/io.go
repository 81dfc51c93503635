package signal

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) pongWait() time.Duration { return ctl.PingPeriod * 10 / 9 }

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", c.id).Msg("readPump closing")
		ctl.Hub.Drop(c)
		c.Close()
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", c.id).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
			ctl.handleSignal(c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(c *wsSignalConn, data []byte) {
	var f core.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch f.Event {
	case core.EventHeartbeat:
		ctl.handleHeartbeat(c, f)
	case core.EventJoin:
		ctl.handleJoin(c, f)
	case core.EventLeave:
		ctl.handleLeave(c, f)
	case domain.EventOffer:
		ctl.handleOffer(c, f)
	case domain.EventGetOffer:
		ctl.handleGetOffer(c, f)
	case domain.EventAnswer:
		ctl.handleAnswer(c, f)
	case domain.EventICECandidate:
		ctl.handleCandidate(c, f)
	default:
		log.Warn().Str("module", "signal").Str("event", f.Event).Msg("unknown signal")
		ctl.replyError(c, f, "unknown event")
	}
}

// reply acknowledges f; frames sent without a ref get no reply.
func (ctl *SignalWSController) reply(c *wsSignalConn, f core.Frame, status string, response any) {
	if f.Ref == nil {
		return
	}
	body, err := json.Marshal(response)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reply marshal")
		return
	}
	payload, err := json.Marshal(core.Reply{Status: status, Response: body})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reply marshal")
		return
	}
	frame, err := json.Marshal(core.Frame{Topic: f.Topic, Event: core.EventReply, Payload: payload, Ref: f.Ref})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("reply marshal")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", c.id).Str("event", f.Event).Msg("reply dropped")
	}
}

func (ctl *SignalWSController) replyOK(c *wsSignalConn, f core.Frame, response any) {
	ctl.reply(c, f, core.StatusOK, response)
}

func (ctl *SignalWSController) replyError(c *wsSignalConn, f core.Frame, reason string) {
	ctl.reply(c, f, core.StatusError, domain.ErrorResponse{Reason: reason})
}

package signal

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/app/relay"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// reason strips wrapping context so clients see the hub's sentinel text.
func reason(err error) string {
	for _, sentinel := range []error{relay.ErrUnmatchedTopic, relay.ErrWrongRole, relay.ErrAlreadyJoined, relay.ErrInvalidRole} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func (ctl *SignalWSController) handleOffer(conn *wsSignalConn, f core.Frame) {
	var p domain.OfferMessage
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.replyError(conn, f, "bad_payload")
		return
	}
	if err := p.Offer.Expect(domain.DescriptionOffer); err != nil {
		ctl.replyError(conn, f, "malformed offer")
		return
	}
	if err := ctl.Hub.StoreOffer(f.Topic, conn, p.Offer); err != nil {
		ctl.replyError(conn, f, reason(err))
		return
	}
	ctl.replyOK(conn, f, struct{}{})
}

func (ctl *SignalWSController) handleGetOffer(conn *wsSignalConn, f core.Frame) {
	offer, err := ctl.Hub.Offer(f.Topic, conn)
	if err != nil {
		ctl.replyError(conn, f, reason(err))
		return
	}
	ctl.replyOK(conn, f, offer)
}

func (ctl *SignalWSController) handleAnswer(conn *wsSignalConn, f core.Frame) {
	var p domain.AnswerMessage
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		ctl.replyError(conn, f, "bad_payload")
		return
	}
	if err := p.Answer.Expect(domain.DescriptionAnswer); err != nil {
		ctl.replyError(conn, f, "malformed answer")
		return
	}
	if err := ctl.Hub.ForwardAnswer(f.Topic, conn, p.Answer); err != nil {
		ctl.replyError(conn, f, reason(err))
		return
	}
	ctl.replyOK(conn, f, struct{}{})
}

func (ctl *SignalWSController) handleCandidate(conn *wsSignalConn, f core.Frame) {
	var p domain.CandidateMessage
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.replyError(conn, f, "bad_payload")
		return
	}
	if len(p.ICECandidate) == 0 || string(p.ICECandidate) == "null" {
		ctl.replyError(conn, f, "malformed candidate")
		return
	}
	if err := ctl.Hub.RelayCandidate(f.Topic, conn, p.ICECandidate); err != nil {
		ctl.replyError(conn, f, reason(err))
		return
	}
	ctl.replyOK(conn, f, struct{}{})
}

package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
)

// Negotiator runs the offer/answer exchange over a session's channel.
type Negotiator struct {
	AckTimeout time.Duration
}

// StartOffer publishes the caller's offer on a joined session. Answer and
// candidate handlers are registered before the offer leaves, so neither can
// race past the subscription.
func (n *Negotiator) StartOffer(ctx context.Context, s *Session) error {
	const op = "start_offer"
	if s.role != domain.RoleCaller {
		return fail(op, fmt.Errorf("%w: %s cannot offer", core.ErrNegotiationViolation, s.role))
	}
	if s.terminated() {
		return fail(op, core.ErrSessionTerminated)
	}
	if !s.joined() {
		return fail(op, fmt.Errorf("%w: channel not joined", core.ErrNegotiationViolation))
	}

	s.subscribe(domain.EventAnswer, s.onAnswer)
	s.subscribe(domain.EventICECandidate, s.onRemoteCandidate)
	s.listenLocalCandidates()

	offer, err := s.link.CreateOffer()
	if err != nil {
		return fail(op, fmt.Errorf("%w: create offer: %w", core.ErrPeerLinkFailure, err))
	}
	if err := s.setLocal(offer); err != nil {
		return fail(op, err)
	}
	if _, err := pushAck(ctx, s.channel, n.AckTimeout, domain.EventOffer, domain.OfferMessage{Offer: offer}); err != nil {
		return fail(op, err)
	}
	s.log.Info().Msg("offer published")
	return nil
}

// AnswerSession joins the session's channel as callee, fetches the stored
// offer and replies with an answer. Candidates from the join reply and any
// trickled while the offer is fetched are held until the answer is out.
func (n *Negotiator) AnswerSession(ctx context.Context, s *Session) error {
	const op = "answer"
	if s.role != domain.RoleCallee {
		return fail(op, fmt.Errorf("%w: %s cannot answer", core.ErrNegotiationViolation, s.role))
	}

	s.subscribe(domain.EventICECandidate, s.onRemoteCandidate)
	joined, err := s.Join(ctx)
	if err != nil {
		return err
	}
	if err := s.buffer.Preload(joined.Candidates); err != nil {
		s.log.Warn().Err(err).Msg("preload join candidates")
	}

	resp, err := pushAck(ctx, s.channel, n.AckTimeout, domain.EventGetOffer, struct{}{})
	if err != nil {
		return fail(op, err)
	}
	offer, err := decodeOffer(resp)
	if err != nil {
		f := fail(op, err)
		final := domain.StateFailed
		if classify(err) == FailureInvalidSession {
			final = domain.StateClosed
		}
		s.terminate(final, f)
		return f
	}

	s.listenLocalCandidates()
	if err := s.setRemote(offer); err != nil {
		return fail(op, err)
	}
	answer, err := s.link.CreateAnswer()
	if err != nil {
		return fail(op, fmt.Errorf("%w: create answer: %w", core.ErrPeerLinkFailure, err))
	}
	if err := s.setLocal(answer); err != nil {
		return fail(op, err)
	}
	if _, err := pushAck(ctx, s.channel, n.AckTimeout, domain.EventAnswer, domain.AnswerMessage{Answer: answer}); err != nil {
		return fail(op, err)
	}
	s.log.Info().Msg("answer published")
	s.releaseBuffer()
	return nil
}

// decodeOffer reads a get_offer reply: the stored offer itself, or null
// when the session id names no live call.
func decodeOffer(resp json.RawMessage) (domain.SessionDescription, error) {
	var offer domain.SessionDescription
	if !isEmpty(resp) {
		if err := json.Unmarshal(resp, &offer); err != nil {
			return offer, fmt.Errorf("%w: offer reply: %w", core.ErrNegotiationViolation, err)
		}
	}
	if offer.IsZero() {
		return offer, fmt.Errorf("%w: no offer stored", core.ErrInvalidSession)
	}
	if err := offer.Expect(domain.DescriptionOffer); err != nil {
		return offer, fmt.Errorf("%w: %w", core.ErrNegotiationViolation, err)
	}
	return offer, nil
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedDescription = errors.New("malformed session description")

type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// SessionDescription is one half of the offer/answer handshake. The SDP blob
// is opaque here; only the peer link interprets it.
type SessionDescription struct {
	Type DescriptionType `json:"type"`
	SDP  string          `json:"sdp"`
}

func NewOffer(sdp string) SessionDescription {
	return SessionDescription{Type: DescriptionOffer, SDP: sdp}
}

func NewAnswer(sdp string) SessionDescription {
	return SessionDescription{Type: DescriptionAnswer, SDP: sdp}
}

func (d SessionDescription) IsZero() bool { return d.Type == "" && d.SDP == "" }

// Expect checks that d is a well-formed description of the wanted type.
func (d SessionDescription) Expect(want DescriptionType) error {
	if d.Type != want {
		return fmt.Errorf("%w: want %s, got %q", ErrMalformedDescription, want, d.Type)
	}
	if d.SDP == "" {
		return fmt.Errorf("%w: empty %s sdp", ErrMalformedDescription, want)
	}
	return nil
}

// NetworkCandidate is one trickled path proposal. Payload is the peer link's
// own candidate encoding and is relayed untouched.
type NetworkCandidate struct {
	Payload json.RawMessage
	Origin  Role
}

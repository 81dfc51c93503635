package domain

import "encoding/json"

// Channel events exchanged on a call topic.
const (
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventGetOffer     = "get_offer"
	EventICECandidate = "ice_candidate"
)

type JoinParams struct {
	Role Role `json:"role"`
}

type OfferMessage struct {
	Offer SessionDescription `json:"offer"`
}

type AnswerMessage struct {
	Answer SessionDescription `json:"answer"`
}

// CandidateMessage carries a candidate; Role is set on sends only.
type CandidateMessage struct {
	ICECandidate json.RawMessage `json:"ice_candidate"`
	Role         Role            `json:"role,omitempty"`
}

// ErrorResponse is the relay's rejection body.
type ErrorResponse struct {
	Reason string `json:"reason"`
}

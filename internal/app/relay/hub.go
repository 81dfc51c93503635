// Package relay is the server side of the call channel: it pairs a caller
// and a callee on a call topic and ferries offer, answer and candidates
// between them without looking inside.
package relay

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Call/internal/domain"
)

// Errors double as the reason sent back to the client.
var (
	ErrUnmatchedTopic = errors.New("unmatched topic")
	ErrInvalidRole    = errors.New("invalid role")
	ErrAlreadyJoined  = errors.New("already joined")
	ErrWrongRole      = errors.New("event not allowed for role")
)

const DefaultMaxPending = 128

// Member is a joined socket as the hub sees it.
type Member interface {
	ID() string
	Push(topic, event string, payload any) error
	Close()
}

type RoomInfo struct {
	ID       domain.SessionID `json:"id"`
	Members  []domain.Role    `json:"members"`
	HasOffer bool             `json:"has_offer"`
	Pending  int              `json:"pending_candidates"`
}

type Hub struct {
	policy     Policy
	maxPending int

	mu    sync.Mutex
	rooms map[domain.SessionID]*room
}

func NewHub(policy Policy, maxPending int) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Hub{
		policy:     policy,
		maxPending: maxPending,
		rooms:      make(map[domain.SessionID]*room),
	}
}

// Join binds m to topic under role and returns the candidates trickled to
// that role before it arrived, oldest first.
func (h *Hub) Join(topic string, role domain.Role, m Member) ([]json.RawMessage, error) {
	id, ok := domain.ParseTopic(topic)
	if !ok {
		return nil, ErrUnmatchedTopic
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[id]
	if r == nil {
		r = newRoom(id)
		h.rooms[id] = r
	}
	if _, ok := r.roleOf(m); ok {
		return nil, ErrAlreadyJoined
	}
	if _, taken := r.members[role]; taken {
		return nil, ErrAlreadyJoined
	}
	r.members[role] = m

	backlog := r.pending[role]
	delete(r.pending, role)
	if backlog == nil {
		backlog = []json.RawMessage{}
	}
	log.Info().Str("module", "relay").Str("call", id.Short()).Str("role", string(role)).
		Str("member", m.ID()).Int("backlog", len(backlog)).Msg("member joined")
	return backlog, nil
}

// Leave unbinds m from topic; the room goes away with its last member.
func (h *Hub) Leave(topic string, m Member) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, role, err := h.lookup(topic, m)
	if err != nil {
		return err
	}
	h.remove(r, role)
	return nil
}

// Drop removes m from every room; used when its socket goes away.
func (h *Hub) Drop(m Member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		if role, ok := r.roleOf(m); ok {
			h.remove(r, role)
		}
	}
}

// StoreOffer keeps the caller's offer until a callee asks for it.
func (h *Hub) StoreOffer(topic string, m Member, offer domain.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, role, err := h.lookup(topic, m)
	if err != nil {
		return err
	}
	if role != domain.RoleCaller {
		return fmt.Errorf("%w: offer from %s", ErrWrongRole, role)
	}
	r.offer = &offer
	log.Info().Str("module", "relay").Str("call", r.id.Short()).Msg("offer stored")
	return nil
}

// Offer returns the stored offer, or nil when the caller has not sent one.
func (h *Hub) Offer(topic string, m Member) (*domain.SessionDescription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, _, err := h.lookup(topic, m)
	if err != nil {
		return nil, err
	}
	return r.offer, nil
}

// ForwardAnswer pushes the callee's answer to the caller.
func (h *Hub) ForwardAnswer(topic string, m Member, answer domain.SessionDescription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, role, err := h.lookup(topic, m)
	if err != nil {
		return err
	}
	if role != domain.RoleCallee {
		return fmt.Errorf("%w: answer from %s", ErrWrongRole, role)
	}
	if _, ok := r.members[domain.RoleCaller]; !ok {
		log.Warn().Str("module", "relay").Str("call", r.id.Short()).Msg("answer without caller dropped")
		return nil
	}
	h.deliver(r, domain.RoleCaller, domain.EventAnswer, domain.AnswerMessage{Answer: answer})
	return nil
}

// RelayCandidate hands a candidate to the other role, or keeps it for the
// join reply when the other role is absent.
func (h *Hub) RelayCandidate(topic string, m Member, candidate json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, role, err := h.lookup(topic, m)
	if err != nil {
		return err
	}
	to := role.Opposite()
	if _, ok := r.members[to]; ok {
		h.deliver(r, to, domain.EventICECandidate, domain.CandidateMessage{ICECandidate: candidate})
		return nil
	}
	if len(r.pending[to]) >= h.maxPending {
		log.Warn().Str("module", "relay").Str("call", r.id.Short()).Str("to", string(to)).Msg("pending candidates full, dropping")
		return nil
	}
	r.pending[to] = append(r.pending[to], candidate)
	return nil
}

func (h *Hub) Rooms() []RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, RoomInfo{
			ID:       r.id,
			Members:  r.roles(),
			HasOffer: r.offer != nil,
			Pending:  r.pendingCount(),
		})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (h *Hub) lookup(topic string, m Member) (*room, domain.Role, error) {
	id, ok := domain.ParseTopic(topic)
	if !ok {
		return nil, "", ErrUnmatchedTopic
	}
	r := h.rooms[id]
	if r == nil {
		return nil, "", ErrUnmatchedTopic
	}
	role, ok := r.roleOf(m)
	if !ok {
		return nil, "", ErrUnmatchedTopic
	}
	return r, role, nil
}

func (h *Hub) remove(r *room, role domain.Role) {
	m := r.members[role]
	delete(r.members, role)
	log.Info().Str("module", "relay").Str("call", r.id.Short()).Str("role", string(role)).Str("member", m.ID()).Msg("member left")
	if r.empty() {
		delete(h.rooms, r.id)
		log.Info().Str("module", "relay").Str("call", r.id.Short()).Msg("room closed")
	}
}

// deliver pushes to the member holding role; refusals go to the policy.
func (h *Hub) deliver(r *room, role domain.Role, event string, payload any) {
	m := r.members[role]
	err := m.Push(r.id.Topic(), event, payload)
	if err == nil {
		return
	}
	switch h.policy.OnBackpressure(r.id, m, err) {
	case KickMember:
		log.Warn().Err(err).Str("module", "relay").Str("call", r.id.Short()).Str("member", m.ID()).Msg("kicking member")
		h.remove(r, role)
		m.Close()
	default:
		log.Warn().Err(err).Str("module", "relay").Str("call", r.id.Short()).Str("event", event).Msg("frame dropped")
	}
}

package relay

import (
	"encoding/json"

	"github.com/dkeye/Call/internal/domain"
)

// room is one call topic: at most one member per role, the caller's stored
// offer, and candidates waiting for a role that has not joined yet.
type room struct {
	id      domain.SessionID
	members map[domain.Role]Member
	offer   *domain.SessionDescription
	pending map[domain.Role][]json.RawMessage
}

func newRoom(id domain.SessionID) *room {
	return &room{
		id:      id,
		members: make(map[domain.Role]Member, 2),
		pending: make(map[domain.Role][]json.RawMessage, 2),
	}
}

func (r *room) roleOf(m Member) (domain.Role, bool) {
	for role, member := range r.members {
		if member.ID() == m.ID() {
			return role, true
		}
	}
	return "", false
}

func (r *room) empty() bool { return len(r.members) == 0 }

func (r *room) roles() []domain.Role {
	out := make([]domain.Role, 0, len(r.members))
	for _, role := range []domain.Role{domain.RoleCaller, domain.RoleCallee} {
		if _, ok := r.members[role]; ok {
			out = append(out, role)
		}
	}
	return out
}

func (r *room) pendingCount() int {
	n := 0
	for _, cs := range r.pending {
		n += len(cs)
	}
	return n
}

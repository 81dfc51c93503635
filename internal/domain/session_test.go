package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicRoundTrip(t *testing.T) {
	id := SessionID("a1b2-xyz")
	assert.Equal(t, "call:a1b2-xyz", id.Topic())

	got, ok := ParseTopic(id.Topic())
	require.True(t, ok)
	assert.Equal(t, id, got)

	for _, bad := range []string{"", "call:", "room:a1b2", "a1b2"} {
		_, ok := ParseTopic(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseSessionID(t *testing.T) {
	id, err := ParseSessionID("  a1b2-xyz\n")
	require.NoError(t, err)
	assert.Equal(t, SessionID("a1b2-xyz"), id)

	_, err = ParseSessionID("   ")
	assert.ErrorIs(t, err, ErrEmptySessionID)

	_, err = ParseSessionID("a1:b2")
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Caller")
	require.NoError(t, err)
	assert.Equal(t, RoleCaller, r)
	assert.Equal(t, RoleCallee, r.Opposite())
	assert.Equal(t, RoleCaller, RoleCallee.Opposite())

	_, err = ParseRole("observer")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestConnectionStateTransitions(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		ok       bool
	}{
		{StateNew, StateConnecting, true},
		{StateNew, StateConnected, true},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateDisconnected, true},
		{StateNew, StateDisconnected, false},
		{StateConnected, StateConnecting, false},
		{StateConnected, StateNew, false},
		{StateConnecting, StateConnecting, false},
		{StateNew, StateFailed, true},
		{StateConnected, StateFailed, true},
		{StateConnected, StateClosed, true},
		{StateClosed, StateConnecting, false},
		{StateFailed, StateClosed, false},
		{StateDisconnected, StateConnected, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%v -> %v", tt.from, tt.to)
	}
}

func TestDescriptionExpect(t *testing.T) {
	assert.NoError(t, NewOffer("v=0").Expect(DescriptionOffer))
	assert.ErrorIs(t, NewAnswer("v=0").Expect(DescriptionOffer), ErrMalformedDescription)
	assert.ErrorIs(t, NewOffer("").Expect(DescriptionOffer), ErrMalformedDescription)
	assert.True(t, SessionDescription{}.IsZero())
}

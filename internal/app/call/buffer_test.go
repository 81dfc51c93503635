package call

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Call/internal/domain"
)

func nc(v string) domain.NetworkCandidate {
	return domain.NetworkCandidate{Payload: json.RawMessage(v), Origin: domain.RoleCaller}
}

func collect(out *[]string) func(domain.NetworkCandidate) error {
	return func(c domain.NetworkCandidate) error {
		*out = append(*out, string(c.Payload))
		return nil
	}
}

func TestCandidateBufferDefersUntilRelease(t *testing.T) {
	b := NewCandidateBuffer()
	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, b.Offer(nc(v)))
	}
	assert.Equal(t, 3, b.Len())
	assert.False(t, b.Released())

	var applied []string
	n, err := b.Release(collect(&applied))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"1", "2", "3"}, applied)
	assert.Zero(t, b.Len())

	require.NoError(t, b.Offer(nc("4")))
	assert.Equal(t, []string{"1", "2", "3", "4"}, applied)
}

func TestCandidateBufferReleasesOnce(t *testing.T) {
	b := NewCandidateBuffer()
	require.NoError(t, b.Offer(nc("1")))

	var applied []string
	_, err := b.Release(collect(&applied))
	require.NoError(t, err)

	n, err := b.Release(collect(&applied))
	assert.ErrorIs(t, err, ErrBufferReleased)
	assert.Zero(t, n)
	assert.Equal(t, []string{"1"}, applied)
}

func TestCandidateBufferPreloadKeepsJoinCandidatesFirst(t *testing.T) {
	b := NewCandidateBuffer()
	require.NoError(t, b.Offer(nc("live")))
	require.NoError(t, b.Preload([]domain.NetworkCandidate{nc("j1"), nc("j2")}))

	var applied []string
	_, err := b.Release(collect(&applied))
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2", "live"}, applied)

	assert.ErrorIs(t, b.Preload([]domain.NetworkCandidate{nc("late")}), ErrBufferReleased)
}

func TestCandidateBufferFlushSurvivesApplyErrors(t *testing.T) {
	b := NewCandidateBuffer()
	for _, v := range []string{"1", "bad", "3"} {
		require.NoError(t, b.Offer(nc(v)))
	}
	boom := errors.New("boom")
	var applied []string
	n, err := b.Release(func(c domain.NetworkCandidate) error {
		if string(c.Payload) == "bad" {
			return boom
		}
		applied = append(applied, string(c.Payload))
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"1", "3"}, applied)
}

func TestCandidateBufferDiscard(t *testing.T) {
	b := NewCandidateBuffer()
	require.NoError(t, b.Offer(nc("1")))
	b.Discard()
	require.NoError(t, b.Offer(nc("2")))
	assert.Zero(t, b.Len())

	var applied []string
	n, err := b.Release(collect(&applied))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, applied)

	require.NoError(t, b.Offer(nc("3")))
	assert.Empty(t, applied)
}

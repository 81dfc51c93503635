package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionIDUnique(t *testing.T) {
	const workers, perWorker = 8, 500

	var mu sync.Mutex
	seen := make(map[SessionID]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]SessionID, 0, perWorker)
			for range perWorker {
				local = append(local, NewSessionID())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestNewSessionIDUsableAsTopic(t *testing.T) {
	id := NewSessionID()
	parsed, err := ParseSessionID(string(id))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Len(t, string(id), 20)
}

package call

import (
	"errors"
	"sync"

	"github.com/dkeye/Call/internal/domain"
)

var ErrBufferReleased = errors.New("candidate buffer already released")

// CandidateBuffer holds remote candidates until the remote description is
// set. Before Release every candidate is queued; Release drains the queue in
// arrival order and switches to direct application. Queued candidates are
// never dropped or reordered; a live candidate arriving during a flush waits
// behind it.
type CandidateBuffer struct {
	mu       sync.Mutex
	pending  []domain.NetworkCandidate
	apply    func(domain.NetworkCandidate) error
	released bool
	closed   bool
}

func NewCandidateBuffer() *CandidateBuffer { return &CandidateBuffer{} }

// Offer queues c, or applies it at once after Release.
// Candidates offered after Discard are ignored.
func (b *CandidateBuffer) Offer(c domain.NetworkCandidate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if !b.released {
		b.pending = append(b.pending, c)
		return nil
	}
	return b.apply(c)
}

// Preload puts candidates that predate everything offered so far at the
// head of the queue, keeping arrival order.
func (b *CandidateBuffer) Preload(cs []domain.NetworkCandidate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrBufferReleased
	}
	if b.closed || len(cs) == 0 {
		return nil
	}
	b.pending = append(append(make([]domain.NetworkCandidate, 0, len(cs)+len(b.pending)), cs...), b.pending...)
	return nil
}

// Release flushes the queue through apply exactly once and returns the
// number of candidates flushed. A failure to apply one candidate does not
// stop the flush; the failures are joined into the returned error.
func (b *CandidateBuffer) Release(apply func(domain.NetworkCandidate) error) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return 0, ErrBufferReleased
	}
	b.released = true
	b.apply = apply
	if b.closed {
		return 0, nil
	}

	var errs []error
	for _, c := range b.pending {
		if err := apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	n := len(b.pending)
	b.pending = nil
	return n, errors.Join(errs...)
}

// Discard drops anything queued and ignores later offers.
func (b *CandidateBuffer) Discard() {
	b.mu.Lock()
	b.closed = true
	b.pending = nil
	b.mu.Unlock()
}

func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *CandidateBuffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

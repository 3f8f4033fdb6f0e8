// Package memstore implements the hot tier: the memory budget, ticket
// manager, per-partition buffers, and the Store that composes them.
package memstore

import (
	"fmt"
	"sync"

	"github.com/rshuffle/worker/internal/shuffle"
)

// Budget tracks three counters — capacity, allocated, used — under a single
// mutex. The spec allows either a fine-grained lock or a CAS loop over a
// packed triple; a mutex keeps the arithmetic readable and every method
// here is O(1), so contention is never held across I/O.
type Budget struct {
	mu sync.Mutex

	capacity  int64
	allocated int64
	used      int64
}

// NewBudget returns a Budget with the given capacity and zeroed counters.
func NewBudget(capacity int64) *Budget {
	return &Budget{capacity: capacity}
}

// RequireAllocated atomically checks free space and, on success, adds n to
// allocated. It never partially applies: on failure state is unchanged.
func (b *Budget) RequireAllocated(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used+b.allocated+n > b.capacity {
		return false
	}

	b.allocated += n

	return true
}

// MoveAllocatedToUsed transfers n bytes from allocated to used. Precondition:
// allocated >= n; violating it is a programming error.
func (b *Budget) MoveAllocatedToUsed(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.allocated < n {
		return fmt.Errorf("%w: move_allocated_to_used(%d) with allocated=%d", shuffle.ErrCounterUnderflow, n, b.allocated)
	}

	b.allocated -= n
	b.used += n

	return nil
}

// DecAllocated releases n bytes from allocated. Precondition: allocated >= n.
func (b *Budget) DecAllocated(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.allocated < n {
		return fmt.Errorf("%w: dec_allocated(%d) with allocated=%d", shuffle.ErrCounterUnderflow, n, b.allocated)
	}

	b.allocated -= n

	return nil
}

// DecUsed releases n bytes from used. Precondition: used >= n.
func (b *Budget) DecUsed(n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used < n {
		return fmt.Errorf("%w: dec_used(%d) with used=%d", shuffle.ErrCounterUnderflow, n, b.used)
	}

	b.used -= n

	return nil
}

// Snapshot returns a consistent-point view of all three counters.
func (b *Budget) Snapshot() shuffle.CapacitySnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return shuffle.CapacitySnapshot{
		Capacity:  b.capacity,
		Allocated: b.allocated,
		Used:      b.used,
	}
}

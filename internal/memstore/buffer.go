package memstore

import (
	"fmt"
	"sync"

	"github.com/rshuffle/worker/internal/shuffle"
)

// flight is a batch of blocks handed off to a persistent tier but not yet
// acknowledged. Flights are numbered by a monotonic counter and therefore
// sort naturally in the order they were cut from staging.
type flight struct {
	id     uint64
	blocks []shuffle.Block
	size   int64
}

// SpillResult is what Spill returns: a snapshot of the flight it just cut.
type SpillResult struct {
	FlightID  uint64
	Blocks    []shuffle.Block
	FlightLen int64
}

// Buffer is the per-partition append log: an ordered staging region plus
// zero or more in-flight regions keyed by flight id. All operations hold a
// single per-buffer mutex; Spill is atomic with respect to Get so a reader
// never sees a block vanish from staging without it already being visible
// in the new flight.
type Buffer struct {
	mu sync.Mutex

	staging       []shuffle.Block
	flights       []flight // kept sorted ascending by id; append-only until Clear
	totalSize     int64
	flightCounter uint64
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append pushes blocks into staging and accounts size against total_size.
func (b *Buffer) Append(blocks []shuffle.Block, size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.staging = append(b.staging, blocks...)
	b.totalSize += size
}

// StagingSize returns the current staging byte total without touching
// total_size. The total is not cached: it is summed over the staged blocks
// under the buffer lock on every call, so its cost grows with the number of
// staged blocks.
func (b *Buffer) StagingSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stagingSizeLocked()
}

func (b *Buffer) stagingSizeLocked() int64 {
	var sum int64
	for _, blk := range b.staging {
		sum += int64(blk.Length())
	}

	return sum
}

// TotalSize returns staging + all in-flight bytes.
func (b *Buffer) TotalSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.totalSize
}

// Spill drains the current staging region into a new flight and returns its
// snapshot. total_size is unchanged: the bytes move location, not account.
func (b *Buffer) Spill() SpillResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.flightCounter++
	id := b.flightCounter

	blocks := b.staging
	b.staging = nil

	var size int64
	for _, blk := range blocks {
		size += int64(blk.Length())
	}

	b.flights = append(b.flights, flight{id: id, blocks: blocks, size: size})

	return SpillResult{FlightID: id, Blocks: blocks, FlightLen: size}
}

// Clear removes flightID from the in-flight region and decrements
// total_size by flightLen. It is an error to clear a flight that does not
// exist.
func (b *Buffer) Clear(flightID uint64, flightLen int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, fl := range b.flights {
		if fl.id != flightID {
			continue
		}

		b.flights = append(b.flights[:i], b.flights[i+1:]...)
		b.totalSize -= flightLen

		return nil
	}

	return fmt.Errorf("%w: flight %d", shuffle.ErrUnknownFlight, flightID)
}

// Get returns an ordered, optionally filtered slice of blocks starting
// immediately after lastBlockID in the combined view of
// [flights ascending by id, then staging]. lastBlockID=-1 or not-found both
// mean "start at the beginning". Blocks accumulate until the next one would
// exceed maxSize, or none remain. A non-nil filter skips non-matching
// blocks entirely: they count toward neither maxSize nor the result.
func (b *Buffer) Get(lastBlockID int64, maxSize int64, filter *int64) []shuffle.Block {
	b.mu.Lock()
	defer b.mu.Unlock()

	combined := b.combinedOrderedLocked()

	start := 0

	if lastBlockID != -1 {
		for i, blk := range combined {
			if blk.BlockID == lastBlockID {
				start = i + 1

				break
			}
		}
	}

	var (
		result []shuffle.Block
		used   int64
	)

	for _, blk := range combined[start:] {
		if filter != nil && blk.TaskAttemptID != *filter {
			continue
		}

		length := int64(blk.Length())
		if used+length > maxSize {
			break
		}

		result = append(result, blk)
		used += length
	}

	return result
}

// combinedOrderedLocked materializes the append-ordered view across flights
// (ascending by id) followed by staging. Callers must hold b.mu.
func (b *Buffer) combinedOrderedLocked() []shuffle.Block {
	n := len(b.staging)
	for _, fl := range b.flights {
		n += len(fl.blocks)
	}

	combined := make([]shuffle.Block, 0, n)

	for _, fl := range b.flights {
		combined = append(combined, fl.blocks...)
	}

	combined = append(combined, b.staging...)

	return combined
}

package memstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rshuffle/worker/internal/shuffle"
)

// shard owns a slice of the partition->buffer map, guarded by its own lock
// so writes to unrelated partitions never contend.
type shard struct {
	mu      sync.RWMutex
	buffers map[shuffle.PartitionedUID]*Buffer
}

// Store is the hot tier: it maps partition id to Buffer and owns the Budget
// and TicketManager, routing every Store-contract call to the right
// collaborator. Buffers are sharded across a fixed number of buckets
// (config's memory shard amount, default 96) so reads are effectively
// lock-free across partitions and writes only ever lock one bucket.
type Store struct {
	budget  *Budget
	tickets *TicketManager
	shards  []*shard

	inflight int64 // atomic: bytes currently in flight to a persistent tier
}

// NewStore builds the hot tier. ttl sets how long a ticket lives before the
// ticket manager reclaims it. No background task is started here: call
// StartReaper with a scan interval once the store is fully wired.
func NewStore(capacity int64, shardAmount int, ttl time.Duration) *Store {
	if shardAmount <= 0 {
		shardAmount = 96
	}

	budget := NewBudget(capacity)

	s := &Store{
		budget: budget,
		shards: make([]*shard, shardAmount),
	}

	for i := range s.shards {
		s.shards[i] = &shard{buffers: make(map[shuffle.PartitionedUID]*Buffer)}
	}

	s.tickets = NewTicketManager(ttl, func(_ string, size int64) {
		_ = s.budget.DecAllocated(size)
	})

	return s
}

// StartReaper starts the ticket manager's periodic expiry scan.
func (s *Store) StartReaper(scanInterval time.Duration) { s.tickets.StartReaper(scanInterval) }

// Stop shuts down the ticket reaper.
func (s *Store) Stop() { s.tickets.Stop() }

func (s *Store) shardFor(uid shuffle.PartitionedUID) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(uid.Key()))

	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

func (s *Store) bufferFor(uid shuffle.PartitionedUID) *Buffer {
	sh := s.shardFor(uid)

	sh.mu.RLock()
	buf, ok := sh.buffers[uid]
	sh.mu.RUnlock()

	if ok {
		return buf
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	buf, ok = sh.buffers[uid]
	if ok {
		return buf
	}

	buf = NewBuffer()
	sh.buffers[uid] = buf

	return buf
}

// RegisterApp is a no-op for the hot tier: memory admission needs no
// per-app configuration.
func (s *Store) RegisterApp(context.Context, string, shuffle.AppConfig) error { return nil }

// RequireBuffer reserves size bytes against the budget and records a
// ticket for later release.
func (s *Store) RequireBuffer(_ context.Context, uid shuffle.PartitionedUID, size int64) (uint64, error) {
	if !s.budget.RequireAllocated(size) {
		return 0, fmt.Errorf("%w: partition %s size %d", shuffle.ErrNoBuffer, uid.Key(), size)
	}

	return s.tickets.Insert(size, uid.AppID), nil
}

// ReleaseTicket releases ticketID's bytes back to the budget.
func (s *Store) ReleaseTicket(ticketID uint64) (int64, error) {
	size, ok := s.tickets.Delete(ticketID)
	if !ok {
		return 0, fmt.Errorf("%w: %d", shuffle.ErrNoTicket, ticketID)
	}

	if err := s.budget.DecAllocated(size); err != nil {
		return 0, err
	}

	return size, nil
}

// Insert moves size bytes from allocated to used, then appends blocks to
// the partition's buffer. Both steps are meant to be applied or rejected
// together; since Append cannot fail, a budget failure is the only
// rejection path and nothing is appended in that case.
func (s *Store) Insert(_ context.Context, req shuffle.InsertRequest) error {
	if err := s.budget.MoveAllocatedToUsed(req.Size); err != nil {
		return err
	}

	s.bufferFor(req.UID).Append(req.Blocks, req.Size)

	return nil
}

// SpillInsert is not applicable to the hot tier: memory is never itself a
// spill target.
func (s *Store) SpillInsert(context.Context, shuffle.InsertRequest) error {
	return fmt.Errorf("%w: memory tier is not a spill target", shuffle.ErrNotApplicable)
}

// Get serves MemoryReading requests from the partition's buffer.
func (s *Store) Get(_ context.Context, uid shuffle.PartitionedUID, opts shuffle.ReadingOptions) (shuffle.ReadResult, error) {
	mem, ok := opts.(shuffle.MemoryReading)
	if !ok {
		return shuffle.ReadResult{}, fmt.Errorf("%w: memory tier only serves MemoryReading", shuffle.ErrNotApplicable)
	}

	blocks := s.bufferFor(uid).Get(mem.LastBlockID, mem.MaxSize, mem.Filter)

	return shuffle.ReadResult{Blocks: blocks}, nil
}

// GetIndex is not applicable: the hot tier has no on-disk index file.
func (s *Store) GetIndex(context.Context, shuffle.PartitionedUID) ([]byte, error) {
	return nil, fmt.Errorf("%w: memory tier has no index", shuffle.ErrNotApplicable)
}

// Purge removes every buffer matching appID (and shuffleID, if >= 0),
// returns the summed bytes removed, and decrements used by that amount. The
// app's tickets are purged only for a whole-app purge (shuffleID < 0).
func (s *Store) Purge(_ context.Context, appID string, shuffleID int32) (int64, error) {
	var total int64

	for _, sh := range s.shards {
		sh.mu.Lock()

		for uid, buf := range sh.buffers {
			if uid.AppID != appID {
				continue
			}

			if shuffleID >= 0 && uid.ShuffleID != shuffleID {
				continue
			}

			total += buf.TotalSize()
			delete(sh.buffers, uid)
		}

		sh.mu.Unlock()
	}

	if total > 0 {
		if err := s.budget.DecUsed(total); err != nil {
			return 0, err
		}
	}

	if shuffleID < 0 {
		s.tickets.PurgeApp(appID)
	}

	return total, nil
}

// IsHealthy is always true for the hot tier: health tracking (capacity
// watermarks, canary checks) only applies to persistent tiers.
func (s *Store) IsHealthy() bool { return true }

// Name reports this tier's storage type tag.
func (s *Store) Name() shuffle.StorageType { return shuffle.StorageMemory }

// Snapshot exposes the budget's current counters.
func (s *Store) Snapshot() shuffle.CapacitySnapshot { return s.budget.Snapshot() }

// UsageRatio computes (used+allocated-inflight)/capacity in floating point.
// Subtracting in-flight bytes avoids re-triggering a spill pass for data
// that is already mid-flight to a persistent tier (see original source's
// calculate_usage_ratio).
func (s *Store) UsageRatio() float64 {
	snap := s.budget.Snapshot()
	inflight := atomic.LoadInt64(&s.inflight)

	if snap.Capacity <= 0 {
		return 0
	}

	return float64(snap.Used+snap.Allocated-inflight) / float64(snap.Capacity)
}

// IncInflight / DecInflight track bytes currently handed off to a spill in
// progress, separately from the budget's used/allocated split.
func (s *Store) IncInflight(n int64) { atomic.AddInt64(&s.inflight, n) }
func (s *Store) DecInflight(n int64) { atomic.AddInt64(&s.inflight, -n) }

// spillCandidate pairs a partition with its buffer for descending-size
// selection.
type spillCandidate struct {
	uid         shuffle.PartitionedUID
	buf         *Buffer
	stagingSize int64
}

// PickupSpillBlocks selects buffers in descending order of staging size,
// accumulating until the sum of staging sizes covers used-memTarget. Ties
// break on the partition key for a deterministic, reproducible selection
// (Design Notes open question 1 leaves this unspecified upstream).
func (s *Store) PickupSpillBlocks(memTarget int64) map[shuffle.PartitionedUID]*Buffer {
	snap := s.budget.Snapshot()
	if snap.Used <= memTarget {
		return nil
	}

	need := snap.Used - memTarget

	var candidates []spillCandidate

	for _, sh := range s.shards {
		sh.mu.RLock()

		for uid, buf := range sh.buffers {
			size := buf.StagingSize()
			if size == 0 {
				continue
			}

			candidates = append(candidates, spillCandidate{uid: uid, buf: buf, stagingSize: size})
		}

		sh.mu.RUnlock()
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].stagingSize != candidates[j].stagingSize {
			return candidates[i].stagingSize > candidates[j].stagingSize
		}

		return candidates[i].uid.Key() < candidates[j].uid.Key()
	})

	selected := make(map[shuffle.PartitionedUID]*Buffer)

	var covered int64

	for _, c := range candidates {
		if covered >= need {
			break
		}

		selected[c.uid] = c.buf
		covered += c.stagingSize
	}

	return selected
}

// ClearSpilledBuffer clears flightID from uid's buffer and decrements used
// by flightLen; called once a persistent tier acknowledges a spill.
func (s *Store) ClearSpilledBuffer(uid shuffle.PartitionedUID, flightID uint64, flightLen int64) error {
	if err := s.bufferFor(uid).Clear(flightID, flightLen); err != nil {
		return err
	}

	return s.budget.DecUsed(flightLen)
}

var _ shuffle.Tier = (*Store)(nil)

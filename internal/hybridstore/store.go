// Package hybridstore composes the hot, warm, and cold tiers into the single
// entry point the server talks to: writes land in memory, a watermark pass
// cuts flights over to the spill bus, and the bus's workers persist them to
// warm or cold with retry escalation. Mirrors the original source's
// HybridStore, which is deliberately not itself a Store trait object (its
// name() and spill_insert() are left unimplemented there) — this package
// follows suit and exposes its own method set instead of satisfying
// [shuffle.Tier].
package hybridstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rshuffle/worker/internal/memstore"
	"github.com/rshuffle/worker/internal/metrics"
	"github.com/rshuffle/worker/internal/shuffle"
	"github.com/rshuffle/worker/internal/spillbus"
)

// Config holds the watermark and retry tuning the Store applies on top of
// its three tiers.
type Config struct {
	HighWatermark float64
	LowWatermark  float64

	// ColdThresholdBytes routes a flight straight to cold when its size
	// exceeds this and warm is healthy. Zero disables the threshold: warm
	// is always preferred while healthy.
	ColdThresholdBytes int64

	SpillMaxConcurrency int
	SpillRetryMax       int
}

// Store is the hybrid tier composition. warm and cold are both optional;
// when neither is set the Store is memory-only and never starts the spill
// bus, matching is_memory_only() in the original source.
type Store struct {
	hot  *memstore.Store
	warm shuffle.Tier
	cold shuffle.Tier

	cfg Config

	spillMu sync.Mutex
	bus     *spillbus.Bus

	log *zap.Logger
	m   *metrics.Registry
}

// New builds a Store. warm and cold may be nil (typed nil interfaces are
// rejected by the caller; pass literal nil).
func New(hot *memstore.Store, warm, cold shuffle.Tier, cfg Config, m *metrics.Registry, log *zap.Logger) *Store {
	s := &Store{
		hot:  hot,
		warm: warm,
		cold: cold,
		cfg:  cfg,
		log:  log,
		m:    m,
	}

	capacity := cfg.SpillMaxConcurrency * 4
	if capacity <= 0 {
		capacity = 64
	}

	s.bus = spillbus.New(capacity, m, s.handleSpillMessage)

	return s
}

// isMemoryOnly reports whether neither persistent tier is configured.
func (s *Store) isMemoryOnly() bool {
	return s.warm == nil && s.cold == nil
}

// Start launches the spill bus's workers. It is a no-op for a memory-only
// Store, matching start() in the original source.
func (s *Store) Start(ctx context.Context) {
	if s.isMemoryOnly() {
		return
	}

	workers := s.cfg.SpillMaxConcurrency
	if workers <= 0 {
		workers = 1
	}

	s.bus.Start(ctx, workers)
}

// Stop drains and stops the spill bus.
func (s *Store) Stop() {
	s.bus.Stop()
}

// RegisterApp registers appID with every configured tier.
func (s *Store) RegisterApp(ctx context.Context, appID string, cfg shuffle.AppConfig) error {
	if err := s.hot.RegisterApp(ctx, appID, cfg); err != nil {
		return fmt.Errorf("register app in hot store: %w", err)
	}

	if s.warm != nil {
		if err := s.warm.RegisterApp(ctx, appID, cfg); err != nil {
			return fmt.Errorf("register app in warm store: %w", err)
		}
	}

	if s.cold != nil {
		if err := s.cold.RegisterApp(ctx, appID, cfg); err != nil {
			return fmt.Errorf("register app in cold store: %w", err)
		}
	}

	return nil
}

// RequireBuffer reserves against the hot tier's budget; only memory ever
// admits tickets.
func (s *Store) RequireBuffer(ctx context.Context, uid shuffle.PartitionedUID, size int64) (uint64, error) {
	return s.hot.RequireBuffer(ctx, uid, size)
}

// ReleaseTicket releases a ticket previously issued by RequireBuffer.
func (s *Store) ReleaseTicket(ticketID uint64) (int64, error) {
	return s.hot.ReleaseTicket(ticketID)
}

// Insert appends to the hot tier, then — if a persistent tier is configured
// and no other goroutine is already mid-pass — checks the usage ratio and
// runs a watermark spill pass when it exceeds the high watermark. The
// try-lock means a caller under contention simply skips the check rather
// than queueing behind it: the next Insert gets another chance.
func (s *Store) Insert(ctx context.Context, req shuffle.InsertRequest) error {
	insertErr := s.hot.Insert(ctx, req)

	if s.isMemoryOnly() {
		return insertErr
	}

	if s.spillMu.TryLock() {
		defer s.spillMu.Unlock()

		if s.hot.UsageRatio() > s.cfg.HighWatermark {
			if err := s.watermarkSpill(ctx); err != nil {
				s.log.Warn("watermark spill pass failed", zap.Error(err))
			}
		}
	}

	return insertErr
}

// watermarkSpill picks buffers largest-staging-first until their staged
// bytes cover used minus mem_target, cuts each one's staging into a flight,
// and publishes one spill message per flight. Called with spillMu held.
func (s *Store) watermarkSpill(ctx context.Context) error {
	snap := s.hot.Snapshot()
	memTarget := int64(float64(snap.Capacity) * s.cfg.LowWatermark)

	buffers := s.hot.PickupSpillBlocks(memTarget)

	var flushed int64

	for uid, buf := range buffers {
		result := buf.Spill()
		flushed += result.FlightLen

		msg := shuffle.SpillMessage{
			UID:       uid,
			Blocks:    result.Blocks,
			FlightID:  result.FlightID,
			FlightLen: result.FlightLen,
		}

		s.publishSpillEvent(ctx, msg)
	}

	s.hot.IncInflight(flushed)

	return nil
}

func (s *Store) publishSpillEvent(_ context.Context, msg shuffle.SpillMessage) {
	if s.m != nil {
		s.m.SpillBatchSize.Observe(float64(msg.FlightLen))
	}

	if err := s.bus.Publish(msg); err != nil {
		s.log.Error("errors on sending spill message to queue; this should not happen",
			zap.String("partition", msg.UID.Key()), zap.Error(err))
	}
}

// handleSpillMessage is the spill bus's Handler: it drives one message to
// completion, republishing on a retryable failure.
func (s *Store) handleSpillMessage(ctx context.Context, msg shuffle.SpillMessage) {
	if err := s.spillToPersistentStore(ctx, msg); err != nil {
		s.log.Debug("spill message did not complete", zap.String("partition", msg.UID.Key()), zap.Error(err))
	}
}

var errNoPersistentTier = errors.New("no persistent tier configured")

// spillToPersistentStore picks a candidate tier for msg and writes to it.
// On failure it republishes with an incremented retry count and the failed
// tier recorded as PreviousTier, up to SpillRetryMax retries after the first
// attempt; beyond that the flight stays resident in memory and the failure
// is only logged.
func (s *Store) spillToPersistentStore(ctx context.Context, msg shuffle.SpillMessage) error {
	if msg.RetryCount > s.cfg.SpillRetryMax {
		if s.m != nil {
			s.m.SpillRetryExhausted.Inc()
		}

		s.log.Error("spill exceeded retry max; flight stays resident in memory",
			zap.String("partition", msg.UID.Key()), zap.Uint64("flight_id", msg.FlightID))

		return fmt.Errorf("%w: partition %s", shuffle.ErrSpillExceedRetryMax, msg.UID.Key())
	}

	candidate := s.pickTier(msg)
	if candidate == nil {
		return errNoPersistentTier
	}

	req := shuffle.InsertRequest{UID: msg.UID, Blocks: msg.Blocks, Size: msg.FlightLen}

	if err := candidate.SpillInsert(ctx, req); err != nil {
		if s.m != nil {
			s.m.SpillFailed.Inc()
		}

		name := candidate.Name()
		next := msg
		next.RetryCount++
		next.PreviousTier = &name

		s.log.Warn("spill attempt failed, retrying",
			zap.String("partition", msg.UID.Key()), zap.String("tier", name.String()),
			zap.Int("retry_count", next.RetryCount), zap.Error(err))

		if pubErr := s.bus.Publish(next); pubErr != nil {
			s.log.Error("failed to republish spill retry", zap.String("partition", msg.UID.Key()), zap.Error(pubErr))
		}

		return err
	}

	switch candidate.Name() {
	case shuffle.StorageLocalFile:
		if s.m != nil {
			s.m.SpillToLocalFile.Inc()
		}
	case shuffle.StorageRemoteFS:
		if s.m != nil {
			s.m.SpillToRemoteFS.Inc()
		}
	case shuffle.StorageMemory:
	}

	if err := s.hot.ClearSpilledBuffer(msg.UID, msg.FlightID, msg.FlightLen); err != nil {
		s.log.Error("clear spilled buffer failed", zap.String("partition", msg.UID.Key()), zap.Error(err))

		return err
	}

	s.hot.DecInflight(msg.FlightLen)

	return nil
}

// pickTier covers the three cases the original source's comment names:
// warm unhealthy routes to cold; a flight over the cold threshold routes
// to cold even when warm is healthy; and any retry (the first attempt
// already failed once) forces cold, on the assumption the cold tier is
// the more available of the two.
func (s *Store) pickTier(msg shuffle.SpillMessage) shuffle.Tier {
	cold := s.cold
	if cold == nil {
		cold = s.warm
	}

	if s.warm == nil {
		return cold
	}

	candidate := s.warm
	if !s.warm.IsHealthy() {
		candidate = cold
	} else if s.cfg.ColdThresholdBytes > 0 && msg.FlightLen > s.cfg.ColdThresholdBytes {
		candidate = cold
	}

	if msg.RetryCount >= 1 {
		candidate = cold
	}

	return candidate
}

// Get routes a memory-mode read to the hot tier and every other mode to
// warm, since cold is never read back by this worker.
func (s *Store) Get(ctx context.Context, uid shuffle.PartitionedUID, opts shuffle.ReadingOptions) (shuffle.ReadResult, error) {
	if _, ok := opts.(shuffle.MemoryReading); ok {
		return s.hot.Get(ctx, uid, opts)
	}

	if s.warm == nil {
		return shuffle.ReadResult{}, shuffle.ErrNotReadableFromTier
	}

	return s.warm.Get(ctx, uid, opts)
}

// GetIndex always serves from warm: the index file only ever lives there.
func (s *Store) GetIndex(ctx context.Context, uid shuffle.PartitionedUID) ([]byte, error) {
	if s.warm == nil {
		return nil, shuffle.ErrNotReadableFromTier
	}

	return s.warm.GetIndex(ctx, uid)
}

// Purge removes appID's (optionally shuffleID-scoped) data from every
// configured tier and returns the summed bytes removed.
func (s *Store) Purge(ctx context.Context, appID string, shuffleID int32) (int64, error) {
	var total int64

	n, err := s.hot.Purge(ctx, appID, shuffleID)
	total += n

	if err != nil {
		return total, fmt.Errorf("purge hot store: %w", err)
	}

	if s.warm != nil {
		n, err = s.warm.Purge(ctx, appID, shuffleID)
		total += n

		if err != nil {
			return total, fmt.Errorf("purge warm store: %w", err)
		}
	}

	if s.cold != nil {
		n, err = s.cold.Purge(ctx, appID, shuffleID)
		total += n

		if err != nil {
			return total, fmt.Errorf("purge cold store: %w", err)
		}
	}

	return total, nil
}

// IsHealthy reports hot.healthy && (warm.healthy || cold.healthy), treating
// an absent tier as healthy so a memory-only Store (and a Store with only
// one persistent tier configured) report correctly.
func (s *Store) IsHealthy() bool {
	warmHealthy := s.warm == nil || s.warm.IsHealthy()
	coldHealthy := s.cold == nil || s.cold.IsHealthy()

	return s.hot.IsHealthy() && (warmHealthy || coldHealthy)
}

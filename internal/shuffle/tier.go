package shuffle

import "context"

// CapacitySnapshot is an immutable view of a budget-backed tier's counters
// at an instant, used for reporting and ratio computation.
type CapacitySnapshot struct {
	Capacity  int64
	Allocated int64
	Used      int64
}

// UsageRatio reports (Used+Allocated)/Capacity in floating point. Integer
// division here would collapse small ratios to 0 and anything at or above
// capacity to 1 (Design Notes, open question 3); always compute in float64.
func (s CapacitySnapshot) UsageRatio() float64 {
	if s.Capacity <= 0 {
		return 0
	}

	return float64(s.Used+s.Allocated) / float64(s.Capacity)
}

// InsertRequest carries an append for a partition plus its declared size,
// matching the Store contract's insert op.
type InsertRequest struct {
	UID    PartitionedUID
	Blocks []Block
	Size   int64
}

// SpillMessage travels the spill event bus from the watermark pass that
// created it to whichever persistent tier's worker picks it up. Its
// lifetime ends when a persistent tier acknowledges the write and the hot
// store's in-flight region is cleared.
type SpillMessage struct {
	UID          PartitionedUID
	Blocks       []Block
	FlightID     uint64
	FlightLen    int64
	RetryCount   int
	PreviousTier *StorageType
}

// Tier is the Store contract every storage tier implements; Hybrid Store
// composes three tier instances (hot/warm/cold) behind this one interface.
// REDESIGN FLAG: replaces trait-object polymorphism with an explicit Go
// interface plus a Name() tag instead of runtime downcasting.
type Tier interface {
	// RegisterApp records per-app configuration (e.g. remote storage root)
	// needed before first use. Tiers that need no configuration may no-op.
	RegisterApp(ctx context.Context, appID string, cfg AppConfig) error

	// RequireBuffer reserves size bytes against the tier's admission
	// control and returns a ticket id to release later. Returns
	// ErrNoBuffer if the reservation cannot be admitted.
	RequireBuffer(ctx context.Context, uid PartitionedUID, size int64) (ticketID uint64, err error)

	// ReleaseTicket releases a previously issued ticket, returning the
	// size that was freed. Returns ErrNoTicket if the ticket is gone.
	ReleaseTicket(ticketID uint64) (releasedSize int64, err error)

	// Insert appends blocks for uid. Returns ErrAppPurged if the owning
	// app was already purged.
	Insert(ctx context.Context, req InsertRequest) error

	// SpillInsert persists blocks handed off from a higher tier. Callers
	// in the spill path treat any error as a retry decision; it is never
	// surfaced to the original block writer.
	SpillInsert(ctx context.Context, req InsertRequest) error

	// Get reads blocks or a byte range per opts. Returns
	// ErrNotReadableFromTier for tiers that do not support reads (cold).
	Get(ctx context.Context, uid PartitionedUID, opts ReadingOptions) (ReadResult, error)

	// GetIndex returns the raw 40-byte-record index bytes for uid.
	// Returns ErrNotReadableFromTier for tiers that do not support it.
	GetIndex(ctx context.Context, uid PartitionedUID) ([]byte, error)

	// Purge removes all state for appID, optionally scoped to a single
	// shuffleID (shuffleID < 0 means "all shuffles of this app"). Returns
	// the number of bytes removed; idempotent — a second purge returns 0.
	Purge(ctx context.Context, appID string, shuffleID int32) (bytesRemoved int64, err error)

	// IsHealthy reports whether the tier can currently accept writes.
	IsHealthy() bool

	// Name returns the tier's tag for logging and metrics.
	Name() StorageType
}

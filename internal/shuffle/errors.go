package shuffle

import "errors"

// Admission and lifecycle errors are expected; callers retry or give up.
var (
	// ErrNoBuffer reports that a buffer reservation could not be admitted
	// because the memory budget has no free space. Use errors.Is.
	ErrNoBuffer = errors.New("no buffer: insufficient memory budget")

	// ErrNoTicket reports that a ticket id was not found: it already
	// expired, was already released, or never existed. Callers should
	// treat this as already-released. Use errors.Is.
	ErrNoTicket = errors.New("no ticket: not found")

	// ErrAppPurged reports that the calling app's partitions were already
	// purged. Use errors.Is.
	ErrAppPurged = errors.New("app purged")
)

// Tier affordance and retry-exhaustion errors.
var (
	// ErrNotReadableFromTier reports that a tier does not support reads
	// for the requested op. The cold (remote filesystem) tier returns
	// this for both Get and GetIndex: readers fetch directly from the
	// remote filesystem outside this worker.
	ErrNotReadableFromTier = errors.New("not readable from this tier")

	// ErrSpillExceedRetryMax reports that a spill flight failed on every
	// configured tier attempt. The flight stays resident in memory and
	// continues to count against used capacity until the owning app is
	// purged.
	ErrSpillExceedRetryMax = errors.New("spill exceeded retry max")
)

// Programmer invariant violations. These indicate a bug in the caller or in
// this package; the operation aborts rather than silently continuing.
var (
	// ErrNotApplicable reports that a tier was given an operation or a
	// ReadingOptions variant it does not support (e.g. FileReading against
	// the hot tier, or RequireBuffer against a persistent tier).
	ErrNotApplicable = errors.New("reading option not applicable to this tier")

	// ErrUnknownFlight reports clear() called with a flight id that does
	// not exist in the buffer.
	ErrUnknownFlight = errors.New("unknown flight id")

	// ErrCounterUnderflow reports a budget counter decrement
	// that would go negative. This is always a programming error.
	ErrCounterUnderflow = errors.New("counter underflow")
)

// Package shuffle holds the data model and error vocabulary shared by every
// storage tier: partition identifiers, blocks, reading options, and the tier
// contract each of hot/warm/cold implements.
package shuffle

import "fmt"

// PartitionedUID identifies a single reducer partition within a shuffle.
type PartitionedUID struct {
	AppID       string
	ShuffleID   int32
	PartitionID int32
}

// Key returns a value usable as a map key or log field; it is stable and
// collision-free across the three components.
func (u PartitionedUID) Key() string {
	return fmt.Sprintf("%s/%d/%d", u.AppID, u.ShuffleID, u.PartitionID)
}

// String implements fmt.Stringer for logging.
func (u PartitionedUID) String() string {
	return u.Key()
}

// Block is one append unit: an immutable record produced by a map task and
// owned by whichever tier currently holds it.
type Block struct {
	BlockID          int64
	TaskAttemptID    int64
	UncompressLength int32
	CRC              int64
	Data             []byte
}

// Length returns the length of Data; by invariant this equals len(Data).
func (b Block) Length() int32 {
	return int32(len(b.Data))
}

// StorageType tags which tier a Spill Message or Store instance belongs to.
// REDESIGN FLAG: replaces trait-object downcasting with an explicit tag.
type StorageType int

const (
	StorageMemory StorageType = iota
	StorageLocalFile
	StorageRemoteFS
)

func (t StorageType) String() string {
	switch t {
	case StorageMemory:
		return "memory"
	case StorageLocalFile:
		return "localfile"
	case StorageRemoteFS:
		return "remotefs"
	default:
		return "unknown"
	}
}

// ReadingOptions is the closed sum of the two reading modes the Store
// contract accepts. Memory mode reads by (last_block_id, max_size[, filter]);
// file mode reads by (offset, length). A tier that cannot serve the given
// kind returns ErrNotApplicable.
type ReadingOptions interface {
	isReadingOptions()
}

// MemoryReading selects blocks following a cursor, for the hot tier.
type MemoryReading struct {
	LastBlockID int64
	MaxSize     int64
	// Filter, when non-nil, restricts results to blocks with this
	// TaskAttemptID; non-matching blocks are skipped entirely — they count
	// toward neither MaxSize nor the returned set (see Design Notes on
	// starvation under heavy filtering).
	Filter *int64
}

func (MemoryReading) isReadingOptions() {}

// FileReading selects a byte range from a persisted data file, for the warm
// tier.
type FileReading struct {
	Offset int64
	Length int64
}

func (FileReading) isReadingOptions() {}

// ReadResult is what Get returns: the matched blocks (memory mode) or a
// contiguous byte range (file mode). Exactly one of the two is populated
// depending on which ReadingOptions kind was requested.
type ReadResult struct {
	Blocks []Block
	Data   []byte
}

// AppConfig is the subset of app-registration configuration a tier needs:
// today only the remote filesystem tier consumes it, to build a per-app
// client from a root URL plus backend-specific key/value options.
type AppConfig struct {
	RemoteStorageRoot string
	RemoteStorageOpts map[string]string
}

package localstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rshuffle/worker/internal/metrics"
	"github.com/rshuffle/worker/internal/shuffle"
)

// partitionEntry is the cached per-partition bookkeeping the spec calls
// "in-memory map partition->(data_path, index_path, next_offset)".
type partitionEntry struct {
	mu         sync.Mutex
	diskIdx    int
	nextOffset int64
}

// FileStore is the warm tier: it shards partitions across the configured
// disks, pins each partition's disk on first write, and appends
// data-then-index per the local file protocol. It implements
// [shuffle.Tier]; Get/GetIndex serve file-mode reads, SpillInsert is the
// write path the Hybrid Store's spill handler calls.
type FileStore struct {
	disks    []*Disk
	workerID string
	m        *metrics.Registry
	catalog  *Catalog

	mu     sync.Mutex
	assign map[shuffle.PartitionedUID]*partitionEntry
}

// NewFileStore builds a warm tier across disks, sharded by partition hash.
func NewFileStore(disks []*Disk, m *metrics.Registry) *FileStore {
	return &FileStore{
		disks:    disks,
		workerID: uuid.NewString(),
		m:        m,
		assign:   make(map[shuffle.PartitionedUID]*partitionEntry),
	}
}

// WithCatalog attaches a durable pin catalog, rebuilding the in-memory
// assignment map from whatever is already on disk under this workerID. It
// must be called before any SpillInsert/Get so pins recovered from a prior
// process lifetime aren't re-derived by re-hashing against a disk set that
// may have changed shape.
func (fs *FileStore) WithCatalog(ctx context.Context, catalog *Catalog) error {
	fs.catalog = catalog

	found, err := catalog.Rebuild(ctx, fs.disks, fs.workerID)
	if err != nil {
		return fmt.Errorf("rebuild catalog: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, uid := range found {
		diskIdx, ok, err := catalog.Lookup(ctx, uid, fs.workerID)
		if err != nil {
			return fmt.Errorf("lookup assignment for %s: %w", uid.Key(), err)
		}

		if ok {
			fs.assign[uid] = &partitionEntry{diskIdx: diskIdx}
		}
	}

	return nil
}

// RegisterApp is a no-op: the warm tier needs no per-app configuration.
func (fs *FileStore) RegisterApp(context.Context, string, shuffle.AppConfig) error { return nil }

// RequireBuffer is not applicable: the warm tier has no admission control
// of its own — reservations only ever happen against the hot tier's
// budget.
func (fs *FileStore) RequireBuffer(context.Context, shuffle.PartitionedUID, int64) (uint64, error) {
	return 0, fmt.Errorf("%w: local file tier has no ticket admission", shuffle.ErrNotApplicable)
}

// ReleaseTicket is not applicable for the same reason as RequireBuffer.
func (fs *FileStore) ReleaseTicket(uint64) (int64, error) {
	return 0, fmt.Errorf("%w: local file tier has no tickets", shuffle.ErrNotApplicable)
}

// Insert is not applicable: callers only ever write to the warm tier via
// SpillInsert, handed off from the hot tier.
func (fs *FileStore) Insert(context.Context, shuffle.InsertRequest) error {
	return fmt.Errorf("%w: use SpillInsert for the warm tier", shuffle.ErrNotApplicable)
}

// aliveDiskIndexes returns the indexes of disks currently healthy and not
// corrupted, in stable order.
func (fs *FileStore) aliveDiskIndexes() []int {
	alive := make([]int, 0, len(fs.disks))

	for i, d := range fs.disks {
		if d.IsHealthy() {
			alive = append(alive, i)
		}
	}

	return alive
}

// pinDisk computes the partition's disk assignment the first time it is
// written, hashing uid modulo the alive-disk count at that moment, then
// caches it for the lifetime of the process (Design Notes open question:
// the original leaves the exact hash unspecified; fnv64a over the
// partition key is a faithful, deterministic choice).
func (fs *FileStore) pinDisk(uid shuffle.PartitionedUID) (*partitionEntry, *Disk, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if entry, ok := fs.assign[uid]; ok {
		return entry, fs.disks[entry.diskIdx], nil
	}

	alive := fs.aliveDiskIndexes()
	if len(alive) == 0 {
		return nil, nil, fmt.Errorf("%w: no healthy local disks", shuffle.ErrNotReadableFromTier)
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(uid.Key()))
	diskIdx := alive[h.Sum64()%uint64(len(alive))]

	entry := &partitionEntry{diskIdx: diskIdx}
	fs.assign[uid] = entry

	if fs.catalog != nil {
		if err := fs.catalog.Put(context.Background(), uid, fs.workerID, diskIdx); err != nil {
			delete(fs.assign, uid)

			return nil, nil, fmt.Errorf("persist pin: %w", err)
		}
	}

	return entry, fs.disks[diskIdx], nil
}

// SpillInsert appends blocks to uid's data file then its index file,
// serialized per-partition so the two files stay in lockstep.
func (fs *FileStore) SpillInsert(ctx context.Context, req shuffle.InsertRequest) error {
	entry, disk, err := fs.pinDisk(req.UID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	dir := PartitionDir(req.UID)
	if err := disk.CreateDir(ctx, dir); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}

	dataPath := DataPath(req.UID, fs.workerID)
	indexPath := IndexPath(req.UID, fs.workerID)

	if entry.nextOffset == 0 {
		recovered, err := fs.recoverNextOffset(disk, indexPath)
		if err != nil {
			return err
		}

		entry.nextOffset = recovered
	}

	var dataBuf []byte

	records := make([]byte, 0, len(req.Blocks)*IndexRecordSize)
	offset := entry.nextOffset

	for _, blk := range req.Blocks {
		rec := IndexRecord{
			Offset:           offset,
			Length:           blk.Length(),
			UncompressLength: blk.UncompressLength,
			CRC:              blk.CRC,
			BlockID:          blk.BlockID,
			TaskAttemptID:    blk.TaskAttemptID,
		}
		records = append(records, rec.Encode()...)
		dataBuf = append(dataBuf, blk.Data...)
		offset += int64(blk.Length())
	}

	newLength, err := disk.Append(ctx, dataPath, dataBuf)
	if err != nil {
		return fmt.Errorf("append data: %w", err)
	}

	if _, err := disk.Append(ctx, indexPath, records); err != nil {
		return fmt.Errorf("append index: %w", err)
	}

	entry.nextOffset = newLength

	return nil
}

// recoverNextOffset truncates the index file to the nearest 40-byte
// boundary (the data file is the source of truth for lengths) and sums
// record lengths to restore next_offset after a crash.
func (fs *FileStore) recoverNextOffset(disk *Disk, indexPath string) (int64, error) {
	exists, size, err := disk.FileStat(indexPath)
	if err != nil {
		return 0, err
	}

	if !exists {
		return 0, nil
	}

	truncated := TruncatedLength(size)

	raw, err := disk.Read(context.Background(), indexPath, 0, truncated)
	if err != nil {
		return 0, fmt.Errorf("read index for recovery: %w", err)
	}

	var total int64

	for _, rec := range DecodeIndexFile(raw) {
		total += int64(rec.Length)
	}

	return total, nil
}

// Get serves FileReading requests: a byte range from the partition's data
// file.
func (fs *FileStore) Get(ctx context.Context, uid shuffle.PartitionedUID, opts shuffle.ReadingOptions) (shuffle.ReadResult, error) {
	file, ok := opts.(shuffle.FileReading)
	if !ok {
		return shuffle.ReadResult{}, fmt.Errorf("%w: warm tier only serves FileReading", shuffle.ErrNotApplicable)
	}

	entry, disk, err := fs.pinDisk(uid)
	if err != nil {
		return shuffle.ReadResult{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	data, err := disk.Read(ctx, DataPath(uid, fs.workerID), file.Offset, file.Length)
	if err != nil {
		return shuffle.ReadResult{}, err
	}

	return shuffle.ReadResult{Data: data}, nil
}

// GetIndex returns the raw 40-byte-record index bytes for uid.
func (fs *FileStore) GetIndex(ctx context.Context, uid shuffle.PartitionedUID) ([]byte, error) {
	entry, disk, err := fs.pinDisk(uid)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return disk.Read(ctx, IndexPath(uid, fs.workerID), 0, -1)
}

// Purge deletes the directory tree for appID (optionally scoped to
// shuffleID) across every disk and drops cached assignment entries with a
// matching prefix. A partial failure across disks is reported rather than
// retried by this layer. The returned byte count is always 0: the warm tier
// does not measure how many bytes it deleted.
func (fs *FileStore) Purge(ctx context.Context, appID string, shuffleID int32) (int64, error) {
	dir := AppDir(appID)
	if shuffleID >= 0 {
		dir = ShuffleDir(appID, shuffleID)
	}

	var errs []error

	for _, disk := range fs.disks {
		exists, _, err := disk.FileStat(dir)
		if err != nil || !exists {
			continue
		}

		if err := disk.Delete(ctx, dir); err != nil {
			errs = append(errs, fmt.Errorf("disk %s: %w", disk.Root, err))
		}
	}

	fs.mu.Lock()
	for uid := range fs.assign {
		if uid.AppID != appID {
			continue
		}

		if shuffleID >= 0 && uid.ShuffleID != shuffleID {
			continue
		}

		delete(fs.assign, uid)
	}
	fs.mu.Unlock()

	if fs.catalog != nil {
		if err := fs.catalog.Purge(ctx, appID, shuffleID); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return 0, fmt.Errorf("partial purge: %w", joinErrors(errs))
	}

	return 0, nil
}

func joinErrors(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}

	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// IsHealthy reports true if at least one disk is healthy.
func (fs *FileStore) IsHealthy() bool {
	for _, d := range fs.disks {
		if d.IsHealthy() {
			return true
		}
	}

	return false
}

// Name reports this tier's storage type tag.
func (fs *FileStore) Name() shuffle.StorageType { return shuffle.StorageLocalFile }

var _ shuffle.Tier = (*FileStore)(nil)

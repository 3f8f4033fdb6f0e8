// Package remotestore implements the cold tier: an HDFS-backed store with
// one client per registered app, append-only data+index files, and no read
// path — once spilled to HDFS, blocks are retrieved out-of-band by whatever
// reads the shuffle output later, not by this worker.
package remotestore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/rshuffle/worker/internal/localstore"
	"github.com/rshuffle/worker/internal/shuffle"
)

// partitionState is the cached per-partition bookkeeping: next_offset for
// the append protocol, and the cumulative bytes written so Purge can report
// how much was reclaimed without a remote stat call.
type partitionState struct {
	mu         sync.Mutex
	nextOffset int64
	dataLen    int64
}

// Store is the remote filesystem tier. One [client] per app_id, a
// concurrency-limiting semaphore shared by all apps, and per-partition
// locks so a partition's data and index files always advance together.
type Store struct {
	sem      *semaphore.Weighted
	workerID string

	mu      sync.Mutex
	clients map[string]*client

	partitionMu sync.Mutex
	partitions  map[shuffle.PartitionedUID]*partitionState
}

// NewStore builds a cold tier with maxConcurrency-bounded HDFS access.
func NewStore(workerID string, maxConcurrency int64) *Store {
	return &Store{
		sem:        semaphore.NewWeighted(maxConcurrency),
		workerID:   workerID,
		clients:    make(map[string]*client),
		partitions: make(map[shuffle.PartitionedUID]*partitionState),
	}
}

// RegisterApp builds this app's HDFS client from its remote storage config.
// A second registration for the same app is a no-op, matching the original
// source's entry-or-insert semantics.
func (s *Store) RegisterApp(ctx context.Context, appID string, cfg shuffle.AppConfig) error {
	if cfg.RemoteStorageRoot == "" {
		return fmt.Errorf("register app %s: remote storage root is required for the remote tier", appID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[appID]; ok {
		return nil
	}

	c, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("register app %s: %w", appID, err)
	}

	s.clients[appID] = c

	return nil
}

// RequireBuffer is not applicable: the cold tier admits no tickets of its
// own, same as the warm tier.
func (s *Store) RequireBuffer(context.Context, shuffle.PartitionedUID, int64) (uint64, error) {
	return 0, fmt.Errorf("%w: remote tier has no ticket admission", shuffle.ErrNotApplicable)
}

// ReleaseTicket is not applicable for the same reason as RequireBuffer.
func (s *Store) ReleaseTicket(uint64) (int64, error) {
	return 0, fmt.Errorf("%w: remote tier has no tickets", shuffle.ErrNotApplicable)
}

func (s *Store) clientFor(appID string) (*client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[appID]
	if !ok {
		return nil, fmt.Errorf("%w: app %s", shuffle.ErrAppPurged, appID)
	}

	return c, nil
}

func (s *Store) partitionFor(uid shuffle.PartitionedUID) *partitionState {
	s.partitionMu.Lock()
	defer s.partitionMu.Unlock()

	p, ok := s.partitions[uid]
	if !ok {
		p = &partitionState{}
		s.partitions[uid] = p
	}

	return p
}

// Insert writes blocks to HDFS in the order given.
func (s *Store) Insert(ctx context.Context, req shuffle.InsertRequest) error {
	return s.dataInsert(ctx, req.UID, req.Blocks)
}

// SpillInsert writes blocks to HDFS after sorting by task attempt id, which
// downstream adaptive query execution relies on for correct merge order.
func (s *Store) SpillInsert(ctx context.Context, req shuffle.InsertRequest) error {
	blocks := make([]shuffle.Block, len(req.Blocks))
	copy(blocks, req.Blocks)

	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].TaskAttemptID < blocks[j].TaskAttemptID
	})

	return s.dataInsert(ctx, req.UID, blocks)
}

func (s *Store) dataInsert(ctx context.Context, uid shuffle.PartitionedUID, blocks []shuffle.Block) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	c, err := s.clientFor(uid.AppID)
	if err != nil {
		return err
	}

	dPath := dataPath(uid, s.workerID)
	iPath := indexPath(uid, s.workerID)

	state := s.partitionFor(uid)

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.nextOffset == 0 && state.dataLen == 0 {
		if err := c.mkdirAll(partitionDir(uid)); err != nil {
			return fmt.Errorf("create partition dir: %w", err)
		}

		if err := c.ensureCreated(dPath); err != nil {
			return err
		}

		if err := c.ensureCreated(iPath); err != nil {
			return err
		}
	}

	var dataBuf []byte

	records := make([]byte, 0, len(blocks)*localstore.IndexRecordSize)
	offset := state.nextOffset
	var flushed int64

	for _, blk := range blocks {
		rec := localstore.IndexRecord{
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
		flushed += int64(blk.Length())
	}

	if err := c.append(dPath, dataBuf); err != nil {
		return fmt.Errorf("append data: %w", err)
	}

	if err := c.append(iPath, records); err != nil {
		return fmt.Errorf("append index: %w", err)
	}

	state.nextOffset = offset
	state.dataLen += flushed

	return nil
}

// Get always fails: the remote tier is never read back by this worker.
func (s *Store) Get(context.Context, shuffle.PartitionedUID, shuffle.ReadingOptions) (shuffle.ReadResult, error) {
	return shuffle.ReadResult{}, fmt.Errorf("%w: remote tier", shuffle.ErrNotReadableFromTier)
}

// GetIndex always fails, for the same reason as Get.
func (s *Store) GetIndex(context.Context, shuffle.PartitionedUID) ([]byte, error) {
	return nil, fmt.Errorf("%w: remote tier", shuffle.ErrNotReadableFromTier)
}

// Purge deletes appID's (optionally shuffleID-scoped) remote directory.
// Without a shuffleID the app's client is dropped entirely; with one, the
// client is kept since other shuffles under the app may still be active.
func (s *Store) Purge(ctx context.Context, appID string, shuffleID int32) (int64, error) {
	var c *client

	s.mu.Lock()
	if shuffleID < 0 {
		c = s.clients[appID]
		delete(s.clients, appID)
	} else {
		c = s.clients[appID]
	}
	s.mu.Unlock()

	if c == nil {
		return 0, nil
	}

	dir := appDir(appID)
	if shuffleID >= 0 {
		dir = shuffleDir(appID, shuffleID)
	}

	var removed int64

	s.partitionMu.Lock()
	for uid, state := range s.partitions {
		if uid.AppID != appID {
			continue
		}

		if shuffleID >= 0 && uid.ShuffleID != shuffleID {
			continue
		}

		removed += state.dataLen
		delete(s.partitions, uid)
	}
	s.partitionMu.Unlock()

	if err := c.removeAll(dir); err != nil {
		return removed, fmt.Errorf("remove remote dir %s: %w", dir, err)
	}

	return removed, nil
}

// IsHealthy is always true: the remote tier has no local health probe and
// surfaces connectivity failures directly from the operation that hit them.
func (s *Store) IsHealthy() bool { return true }

// Name reports this tier's storage type tag.
func (s *Store) Name() shuffle.StorageType { return shuffle.StorageRemoteFS }

var _ shuffle.Tier = (*Store)(nil)

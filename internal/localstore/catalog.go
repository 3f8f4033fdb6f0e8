package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/fileproc"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rshuffle/worker/internal/shuffle"
)

// Catalog is a durable record of partition->disk pins, so a restarted
// worker does not have to re-derive assignments by re-hashing against
// whatever disks happen to still be alive (which could silently relocate a
// partition that already has data sitting on a now-unlucky disk index).
type Catalog struct {
	db *sql.DB
}

const catalogBusyTimeoutMS = 10000

// OpenCatalog opens (creating if needed) the sqlite-backed pin catalog at
// path and ensures its schema exists.
func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("open catalog: path is empty")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`, catalogBusyTimeoutMS))
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS partition_assignment (
			app_id      TEXT NOT NULL,
			shuffle_id  INTEGER NOT NULL,
			partition_id INTEGER NOT NULL,
			worker_id   TEXT NOT NULL,
			disk_index  INTEGER NOT NULL,
			PRIMARY KEY (app_id, shuffle_id, partition_id, worker_id)
		)
	`)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error { return c.db.Close() }

// Put records uid's pinned disk index under workerID, replacing any prior
// pin (pins are only ever written once per process lifetime, but Rebuild
// may re-derive and overwrite a stale one after a crash).
func (c *Catalog) Put(ctx context.Context, uid shuffle.PartitionedUID, workerID string, diskIndex int) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO partition_assignment (app_id, shuffle_id, partition_id, worker_id, disk_index)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (app_id, shuffle_id, partition_id, worker_id) DO UPDATE SET disk_index = excluded.disk_index
	`, uid.AppID, uid.ShuffleID, uid.PartitionID, workerID, diskIndex)
	if err != nil {
		return fmt.Errorf("put assignment: %w", err)
	}

	return nil
}

// Lookup returns the pinned disk index for uid under workerID, if any.
func (c *Catalog) Lookup(ctx context.Context, uid shuffle.PartitionedUID, workerID string) (diskIndex int, ok bool, err error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT disk_index FROM partition_assignment
		WHERE app_id = ? AND shuffle_id = ? AND partition_id = ? AND worker_id = ?
	`, uid.AppID, uid.ShuffleID, uid.PartitionID, workerID)

	err = row.Scan(&diskIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("lookup assignment: %w", err)
	}

	return diskIndex, true, nil
}

// Purge deletes every assignment for appID, optionally scoped to one
// shuffleID (<0 means every shuffle under the app).
func (c *Catalog) Purge(ctx context.Context, appID string, shuffleID int32) error {
	var err error

	if shuffleID < 0 {
		_, err = c.db.ExecContext(ctx, `DELETE FROM partition_assignment WHERE app_id = ?`, appID)
	} else {
		_, err = c.db.ExecContext(ctx, `DELETE FROM partition_assignment WHERE app_id = ? AND shuffle_id = ?`, appID, shuffleID)
	}

	if err != nil {
		return fmt.Errorf("purge assignments: %w", err)
	}

	return nil
}

// Rebuild walks every disk's root for <worker_id>.data files and
// repopulates the catalog from what is actually on disk, recovering from a
// lost or corrupted catalog database without needing to trust any
// in-memory state. It returns every uid recovered so the caller can read
// back its disk pin via Lookup instead of re-walking the disks itself.
func (c *Catalog) Rebuild(ctx context.Context, disks []*Disk, workerID string) ([]shuffle.PartitionedUID, error) {
	var recovered []shuffle.PartitionedUID

	for diskIndex, disk := range disks {
		found, err := scanDiskAssignments(ctx, disk.Root, workerID)
		if err != nil {
			return nil, fmt.Errorf("scan disk %s: %w", disk.Root, err)
		}

		for _, uid := range found {
			if err := c.Put(ctx, uid, workerID, diskIndex); err != nil {
				return nil, err
			}

			recovered = append(recovered, uid)
		}
	}

	return recovered, nil
}

// scanDiskAssignments finds every partition directory on disk that holds a
// data file for workerID, using fileproc to walk the tree the same way the
// catalog's ticket-index counterpart walks a directory of markdown files.
func scanDiskAssignments(ctx context.Context, root, workerID string) ([]shuffle.PartitionedUID, error) {
	suffix := workerID + ".data"

	opts := fileproc.Options{
		Recursive: true,
		Suffix:    ".data",
		OnError: func(err error, _, _ int) bool {
			return !errors.Is(err, errSkipForeignWorker)
		},
	}

	results, errs := fileproc.ProcessStat(ctx, root, func(path []byte, _ fileproc.Stat, _ fileproc.LazyFile) (*shuffle.PartitionedUID, error) {
		p := string(path)
		if !strings.HasSuffix(p, suffix) {
			return nil, errSkipForeignWorker
		}

		uid, err := parseDataPath(p, workerID)
		if err != nil {
			return nil, fmt.Errorf("parse data path %s: %w", p, err)
		}

		return &uid, nil
	}, opts)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	found := make([]shuffle.PartitionedUID, 0, len(results))
	for _, r := range results {
		found = append(found, r.Value)
	}

	return found, nil
}

var errSkipForeignWorker = errors.New("data file belongs to another worker")

// parseDataPath reverses [DataPath]'s layout: appId/shuffleId/partitionId-partitionId/workerId.data.
func parseDataPath(relPath, workerID string) (shuffle.PartitionedUID, error) {
	relPath = strings.TrimPrefix(relPath, "/")
	parts := strings.Split(relPath, "/")

	if len(parts) != 4 {
		return shuffle.PartitionedUID{}, fmt.Errorf("expected 4 path segments, got %d", len(parts))
	}

	if parts[3] != workerID+".data" {
		return shuffle.PartitionedUID{}, fmt.Errorf("unexpected file name %q", parts[3])
	}

	shuffleID, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return shuffle.PartitionedUID{}, fmt.Errorf("parse shuffle id: %w", err)
	}

	partitionPair := strings.SplitN(parts[2], "-", 2)
	if len(partitionPair) != 2 {
		return shuffle.PartitionedUID{}, fmt.Errorf("malformed partition dir %q", parts[2])
	}

	partitionID, err := strconv.ParseInt(partitionPair[0], 10, 32)
	if err != nil {
		return shuffle.PartitionedUID{}, fmt.Errorf("parse partition id: %w", err)
	}

	return shuffle.PartitionedUID{
		AppID:       parts[0],
		ShuffleID:   int32(shuffleID),
		PartitionID: int32(partitionID),
	}, nil
}

package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rshuffle/worker/internal/shuffle"
)

func Test_Catalog_PutLookupPurge(t *testing.T) {
	ctx := t.Context()

	cat, err := OpenCatalog(ctx, filepath.Join(t.TempDir(), "catalog.sqlite"))
	require.NoError(t, err)
	defer func() { _ = cat.Close() }()

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 1, PartitionID: 2}

	_, ok, err := cat.Lookup(ctx, uid, "worker-a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cat.Put(ctx, uid, "worker-a", 3))

	diskIdx, ok, err := cat.Lookup(ctx, uid, "worker-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, diskIdx)

	require.NoError(t, cat.Put(ctx, uid, "worker-a", 5))

	diskIdx, ok, err = cat.Lookup(ctx, uid, "worker-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, diskIdx)

	require.NoError(t, cat.Purge(ctx, "app1", -1))

	_, ok, err = cat.Lookup(ctx, uid, "worker-a")
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_FileStore_WithCatalog_RecoversPinsAcrossRestart(t *testing.T) {
	ctx := t.Context()

	disk := newTestDisk(t)
	store := NewFileStore([]*Disk{disk}, nil)

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 1, PartitionID: 1}

	cat, err := OpenCatalog(ctx, filepath.Join(t.TempDir(), "catalog.sqlite"))
	require.NoError(t, err)
	defer func() { _ = cat.Close() }()

	require.NoError(t, store.WithCatalog(ctx, cat))
	require.NoError(t, store.SpillInsert(ctx, shuffle.InsertRequest{
		UID:    uid,
		Blocks: []shuffle.Block{{BlockID: 0, TaskAttemptID: 1, Data: []byte("x")}},
		Size:   1,
	}))

	diskIdx, ok, err := cat.Lookup(ctx, uid, store.workerID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, diskIdx)

	// Fresh store, same workerID and disk: WithCatalog should repopulate the
	// in-memory assignment map purely from what is already on disk.
	restarted := NewFileStore([]*Disk{disk}, nil)
	restarted.workerID = store.workerID
	require.NoError(t, restarted.WithCatalog(ctx, cat))

	res, err := restarted.Get(ctx, uid, shuffle.FileReading{Offset: 0, Length: -1})
	require.NoError(t, err)
	require.Equal(t, "x", string(res.Data))
}

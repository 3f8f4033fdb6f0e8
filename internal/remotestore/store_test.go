package remotestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rshuffle/worker/internal/localstore"
	"github.com/rshuffle/worker/internal/shuffle"
)

func newTestStore(t *testing.T, appID string) (*Store, *fakeDelegator) {
	t.Helper()

	s := NewStore("worker-1", 4)
	fake := newFakeDelegator()
	s.clients[appID] = &client{hdfs: fake, root: ""}

	return s, fake
}

func Test_Store_Insert_WritesDataThenIndexInOrder(t *testing.T) {
	s, fake := newTestStore(t, "app1")

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 1}
	blocks := []shuffle.Block{
		{BlockID: 0, TaskAttemptID: 10, Data: []byte("abcde")},
		{BlockID: 1, TaskAttemptID: 10, Data: []byte("fg")},
	}

	ctx := t.Context()
	require.NoError(t, s.Insert(ctx, shuffle.InsertRequest{UID: uid, Blocks: blocks, Size: 7}))

	data := fake.contents("/"+dataPath(uid, "worker-1"))
	require.Equal(t, "abcdefg", string(data))

	index := fake.contents("/"+indexPath(uid, "worker-1"))
	records := localstore.DecodeIndexFile(index)
	require.Len(t, records, 2)
	require.Equal(t, int64(0), records[0].Offset)
	require.Equal(t, int32(5), records[0].Length)
	require.Equal(t, int64(5), records[1].Offset)
	require.Equal(t, int32(2), records[1].Length)
}

func Test_Store_SpillInsert_SortsByTaskAttemptID(t *testing.T) {
	s, fake := newTestStore(t, "app1")

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 1}
	blocks := []shuffle.Block{
		{BlockID: 0, TaskAttemptID: 20, Data: []byte("b")},
		{BlockID: 1, TaskAttemptID: 10, Data: []byte("a")},
	}

	ctx := t.Context()
	require.NoError(t, s.SpillInsert(ctx, shuffle.InsertRequest{UID: uid, Blocks: blocks, Size: 2}))

	data := fake.contents("/"+dataPath(uid, "worker-1"))
	require.Equal(t, "ab", string(data))
}

func Test_Store_Purge_WithoutShuffleID_DropsClient(t *testing.T) {
	s, fake := newTestStore(t, "app1")

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 1}
	require.NoError(t, s.Insert(t.Context(), shuffle.InsertRequest{
		UID:    uid,
		Blocks: []shuffle.Block{{BlockID: 0, TaskAttemptID: 1, Data: []byte("x")}},
		Size:   1,
	}))

	removed, err := s.Purge(t.Context(), "app1", -1)
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	_, ok := s.clients["app1"]
	require.False(t, ok)
	require.Empty(t, fake.contents("/"+dataPath(uid, "worker-1")))
}

func Test_Store_Get_NeverReadable(t *testing.T) {
	s, _ := newTestStore(t, "app1")

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 1}
	_, err := s.Get(t.Context(), uid, shuffle.FileReading{Offset: 0, Length: -1})
	require.ErrorIs(t, err, shuffle.ErrNotReadableFromTier)

	_, err = s.GetIndex(t.Context(), uid)
	require.ErrorIs(t, err, shuffle.ErrNotReadableFromTier)
}

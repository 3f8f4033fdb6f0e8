package hybridstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rshuffle/worker/internal/memstore"
	"github.com/rshuffle/worker/internal/shuffle"
)

// fakeTier is an in-memory shuffle.Tier test double: it records every
// SpillInsert call and can be configured to fail a fixed number of times
// before succeeding, to exercise retry escalation.
type fakeTier struct {
	mu        sync.Mutex
	name      shuffle.StorageType
	healthy   bool
	failTimes int
	calls     []shuffle.InsertRequest
}

func newFakeTier(name shuffle.StorageType) *fakeTier {
	return &fakeTier{name: name, healthy: true}
}

func (f *fakeTier) RegisterApp(context.Context, string, shuffle.AppConfig) error { return nil }

func (f *fakeTier) RequireBuffer(context.Context, shuffle.PartitionedUID, int64) (uint64, error) {
	return 0, shuffle.ErrNotApplicable
}

func (f *fakeTier) ReleaseTicket(uint64) (int64, error) { return 0, shuffle.ErrNotApplicable }

func (f *fakeTier) Insert(context.Context, shuffle.InsertRequest) error {
	return shuffle.ErrNotApplicable
}

func (f *fakeTier) SpillInsert(_ context.Context, req shuffle.InsertRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, req)

	if f.failTimes > 0 {
		f.failTimes--

		return fmt.Errorf("fake tier %s: induced failure", f.name)
	}

	return nil
}

func (f *fakeTier) Get(context.Context, shuffle.PartitionedUID, shuffle.ReadingOptions) (shuffle.ReadResult, error) {
	return shuffle.ReadResult{}, shuffle.ErrNotReadableFromTier
}

func (f *fakeTier) GetIndex(context.Context, shuffle.PartitionedUID) ([]byte, error) {
	return nil, shuffle.ErrNotReadableFromTier
}

func (f *fakeTier) Purge(context.Context, string, int32) (int64, error) { return 0, nil }

func (f *fakeTier) IsHealthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.healthy
}

func (f *fakeTier) Name() shuffle.StorageType { return f.name }

func (f *fakeTier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *fakeTier) setHealthy(h bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.healthy = h
}

func newHotStore(capacity int64) *memstore.Store {
	return memstore.NewStore(capacity, 4, time.Minute)
}

func insertWithTicket(t *testing.T, s *Store, uid shuffle.PartitionedUID, data string) {
	t.Helper()

	ctx := t.Context()
	size := int64(len(data))

	_, err := s.RequireBuffer(ctx, uid, size)
	require.NoError(t, err)

	blocks := []shuffle.Block{{BlockID: 0, TaskAttemptID: 1, Data: []byte(data)}}
	require.NoError(t, s.Insert(ctx, shuffle.InsertRequest{UID: uid, Blocks: blocks, Size: size}))
}

func Test_Store_MemoryOnly_NeverSpills(t *testing.T) {
	hot := newHotStore(1 << 20)
	s := New(hot, nil, nil, Config{HighWatermark: 0.01, LowWatermark: 0.0, SpillRetryMax: 3}, nil, zap.NewNop())

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 0}
	insertWithTicket(t, s, uid, "hello world")

	require.True(t, s.IsHealthy())

	result, err := s.Get(t.Context(), uid, shuffle.MemoryReading{LastBlockID: -1, MaxSize: 1 << 20})
	require.NoError(t, err)
	require.Len(t, result.Blocks, 1)
}

func Test_Store_WatermarkSpill_PersistsToWarm(t *testing.T) {
	hot := newHotStore(20)
	warm := newFakeTier(shuffle.StorageLocalFile)

	s := New(hot, warm, nil, Config{
		HighWatermark:       0.5,
		LowWatermark:        0.1,
		SpillMaxConcurrency: 2,
		SpillRetryMax:       3,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 0}
	insertWithTicket(t, s, uid, "0123456789012")

	require.Eventually(t, func() bool {
		return warm.callCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func Test_Store_RetryEscalation_FallsBackToCold(t *testing.T) {
	hot := newHotStore(20)
	warm := newFakeTier(shuffle.StorageLocalFile)
	warm.failTimes = 1
	cold := newFakeTier(shuffle.StorageRemoteFS)

	s := New(hot, warm, cold, Config{
		HighWatermark:       0.5,
		LowWatermark:        0.1,
		SpillMaxConcurrency: 2,
		SpillRetryMax:       3,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 0}
	insertWithTicket(t, s, uid, "0123456789012")

	require.Eventually(t, func() bool {
		return warm.callCount() == 1 && cold.callCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func Test_Store_UnhealthyWarm_RoutesToCold(t *testing.T) {
	hot := newHotStore(20)
	warm := newFakeTier(shuffle.StorageLocalFile)
	warm.setHealthy(false)
	cold := newFakeTier(shuffle.StorageRemoteFS)

	s := New(hot, warm, cold, Config{
		HighWatermark:       0.5,
		LowWatermark:        0.1,
		SpillMaxConcurrency: 2,
		SpillRetryMax:       3,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 0}
	insertWithTicket(t, s, uid, "0123456789012")

	require.Eventually(t, func() bool {
		return cold.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 0, warm.callCount())
}

func Test_Store_ColdThreshold_RoutesLargeFlightToCold(t *testing.T) {
	hot := newHotStore(20)
	warm := newFakeTier(shuffle.StorageLocalFile)
	cold := newFakeTier(shuffle.StorageRemoteFS)

	s := New(hot, warm, cold, Config{
		HighWatermark:       0.5,
		LowWatermark:        0.1,
		ColdThresholdBytes:  4,
		SpillMaxConcurrency: 2,
		SpillRetryMax:       3,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 0}
	insertWithTicket(t, s, uid, "0123456789012")

	require.Eventually(t, func() bool {
		return cold.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 0, warm.callCount())
}

func Test_Store_SpillExceedRetryMax_NeverCallsTier(t *testing.T) {
	hot := newHotStore(20)
	warm := newFakeTier(shuffle.StorageLocalFile)

	s := New(hot, warm, nil, Config{
		HighWatermark:       0.5,
		LowWatermark:        0.1,
		SpillMaxConcurrency: 1,
		SpillRetryMax:       3,
	}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	defer s.Stop()

	uid := shuffle.PartitionedUID{AppID: "app1", ShuffleID: 0, PartitionID: 0}
	msg := shuffle.SpillMessage{UID: uid, Blocks: nil, FlightID: 1, FlightLen: 1, RetryCount: 4}
	require.NoError(t, s.bus.Publish(msg))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, warm.callCount())
}

func Test_Store_IsHealthy_Aggregate(t *testing.T) {
	hot := newHotStore(20)
	warm := newFakeTier(shuffle.StorageLocalFile)
	warm.setHealthy(false)
	cold := newFakeTier(shuffle.StorageRemoteFS)
	cold.setHealthy(false)

	s := New(hot, warm, cold, Config{SpillRetryMax: 3}, nil, zap.NewNop())
	require.False(t, s.IsHealthy())

	cold.setHealthy(true)
	require.True(t, s.IsHealthy())
}

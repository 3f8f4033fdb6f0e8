package memstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_TicketManager_InsertDelete_ReturnsExactSize(t *testing.T) {
	tm := NewTicketManager(time.Minute, nil)

	id := tm.Insert(80, "app1")

	size, ok := tm.Delete(id)
	require.True(t, ok)
	require.Equal(t, int64(80), size)
}

func Test_TicketManager_Delete_UnknownReturnsNotOK(t *testing.T) {
	tm := NewTicketManager(time.Minute, nil)

	_, ok := tm.Delete(9999)
	require.False(t, ok)
}

func Test_TicketManager_Delete_Idempotent(t *testing.T) {
	tm := NewTicketManager(time.Minute, nil)

	id := tm.Insert(10, "app1")

	_, ok := tm.Delete(id)
	require.True(t, ok)

	_, ok = tm.Delete(id)
	require.False(t, ok)
}

func Test_TicketManager_PurgeApp_ReleasesOnlyMatchingApp(t *testing.T) {
	tm := NewTicketManager(time.Minute, nil)

	tm.Insert(10, "app1")
	tm.Insert(20, "app1")
	idOther := tm.Insert(30, "app2")

	released := tm.PurgeApp("app1")
	require.Equal(t, int64(30), released)

	size, ok := tm.Delete(idOther)
	require.True(t, ok)
	require.Equal(t, int64(30), size)
}

func Test_TicketManager_Reaper_ExpiresOldTickets(t *testing.T) {
	var mu sync.Mutex

	var released []int64

	tm := NewTicketManager(10*time.Millisecond, func(_ string, size int64) {
		mu.Lock()
		released = append(released, size)
		mu.Unlock()
	})

	tm.Insert(42, "app1")

	reaped := tm.reapExpired(time.Now().Add(time.Second))
	require.Equal(t, 1, reaped)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{42}, released)
}

func Test_TicketManager_Reaper_ScanIsBoundedToExpired(t *testing.T) {
	tm := NewTicketManager(time.Minute, nil)

	tm.Insert(1, "app1")
	liveID := tm.Insert(2, "app1")

	// Neither ticket is older than the TTL yet.
	reaped := tm.reapExpired(time.Now())
	require.Equal(t, 0, reaped)

	_, ok := tm.Delete(liveID)
	require.True(t, ok)
}

func Test_TicketManager_StartStop(t *testing.T) {
	tm := NewTicketManager(5*time.Millisecond, nil)
	tm.StartReaper(time.Millisecond)

	tm.Insert(1, "app1")
	time.Sleep(20 * time.Millisecond)

	tm.Stop()
}

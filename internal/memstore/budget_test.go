package memstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rshuffle/worker/internal/shuffle"
)

func Test_Budget_CapacityGate(t *testing.T) {
	b := NewBudget(100)

	require.True(t, b.RequireAllocated(80))
	require.False(t, b.RequireAllocated(30))

	require.NoError(t, b.DecAllocated(80))
	require.True(t, b.RequireAllocated(30))

	snap := b.Snapshot()
	require.Equal(t, shuffle.CapacitySnapshot{Capacity: 100, Allocated: 30, Used: 0}, snap)
}

func Test_Budget_RequireAllocated_DoesNotPartiallyApplyOnFailure(t *testing.T) {
	b := NewBudget(100)

	require.True(t, b.RequireAllocated(100))
	require.False(t, b.RequireAllocated(1))

	snap := b.Snapshot()
	require.Equal(t, int64(100), snap.Allocated)
}

func Test_Budget_MoveAllocatedToUsed(t *testing.T) {
	b := NewBudget(100)

	require.True(t, b.RequireAllocated(50))
	require.NoError(t, b.MoveAllocatedToUsed(50))

	snap := b.Snapshot()
	require.Equal(t, int64(0), snap.Allocated)
	require.Equal(t, int64(50), snap.Used)
}

func Test_Budget_MoveAllocatedToUsed_UnderflowIsFatal(t *testing.T) {
	b := NewBudget(100)

	err := b.MoveAllocatedToUsed(1)
	require.Error(t, err)
	require.True(t, errors.Is(err, shuffle.ErrCounterUnderflow))
}

func Test_Budget_DecUsed_UnderflowIsFatal(t *testing.T) {
	b := NewBudget(100)

	err := b.DecUsed(1)
	require.Error(t, err)
	require.True(t, errors.Is(err, shuffle.ErrCounterUnderflow))
}

func Test_Budget_RequireBufferSizeGreaterThanCapacity(t *testing.T) {
	b := NewBudget(100)

	require.False(t, b.RequireAllocated(101))

	snap := b.Snapshot()
	require.Equal(t, shuffle.CapacitySnapshot{Capacity: 100, Allocated: 0, Used: 0}, snap)
}

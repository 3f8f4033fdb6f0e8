package memstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rshuffle/worker/internal/shuffle"
)

func blocksOf(ids ...int64) []shuffle.Block {
	blocks := make([]shuffle.Block, len(ids))
	for i, id := range ids {
		blocks[i] = shuffle.Block{BlockID: id, TaskAttemptID: id, Data: []byte("0123456789")}
	}

	return blocks
}

func Test_Buffer_ReadCursor(t *testing.T) {
	buf := NewBuffer()
	blocks := blocksOf(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	buf.Append(blocks, 100)

	got := buf.Get(-1, 20, nil)
	require.Equal(t, []int64{0, 1}, blockIDs(got))

	got = buf.Get(1, 20, nil)
	require.Equal(t, []int64{2, 3}, blockIDs(got))

	filterID := int64(7)
	got = buf.Get(3, 20, &filterID)
	require.Equal(t, []int64{7}, blockIDs(got))
}

func Test_Buffer_Get_NonexistentLastBlockIDBehavesAsMinusOne(t *testing.T) {
	buf := NewBuffer()
	buf.Append(blocksOf(0, 1, 2), 30)

	got := buf.Get(999, 20, nil)
	require.Equal(t, []int64{0, 1}, blockIDs(got))
}

func Test_Buffer_Get_ZeroMaxSizeReturnsNoBlocks(t *testing.T) {
	buf := NewBuffer()
	buf.Append(blocksOf(0, 1), 20)

	got := buf.Get(-1, 0, nil)
	require.Empty(t, got)
}

func Test_Buffer_SpillIsAtomicWithRespectToGet(t *testing.T) {
	buf := NewBuffer()
	buf.Append(blocksOf(0, 1, 2), 30)

	result := buf.Spill()
	require.Equal(t, []int64{0, 1, 2}, blockIDs(result.Blocks))
	require.Equal(t, int64(30), result.FlightLen)

	// Staging is now empty but the flight is visible through Get.
	got := buf.Get(-1, 100, nil)
	require.Equal(t, []int64{0, 1, 2}, blockIDs(got))
	require.Equal(t, int64(30), buf.TotalSize())
}

func Test_Buffer_Clear_RemovesFlightAndDecrementsTotal(t *testing.T) {
	buf := NewBuffer()
	buf.Append(blocksOf(0, 1), 20)

	result := buf.Spill()
	require.NoError(t, buf.Clear(result.FlightID, result.FlightLen))
	require.Equal(t, int64(0), buf.TotalSize())
}

func Test_Buffer_Clear_UnknownFlightFails(t *testing.T) {
	buf := NewBuffer()

	err := buf.Clear(42, 10)
	require.Error(t, err)
	require.True(t, errors.Is(err, shuffle.ErrUnknownFlight))
}

func Test_Buffer_FlightsOrderedByIdThenStaging(t *testing.T) {
	buf := NewBuffer()
	buf.Append(blocksOf(0, 1), 20)
	buf.Spill() // flight 1: [0,1]

	buf.Append(blocksOf(2, 3), 20)
	buf.Spill() // flight 2: [2,3]

	buf.Append(blocksOf(4, 5), 20) // staging: [4,5]

	got := buf.Get(-1, 1000, nil)
	require.Equal(t, []int64{0, 1, 2, 3, 4, 5}, blockIDs(got))
}

func blockIDs(blocks []shuffle.Block) []int64 {
	ids := make([]int64, len(blocks))
	for i, b := range blocks {
		ids[i] = b.BlockID
	}

	return ids
}

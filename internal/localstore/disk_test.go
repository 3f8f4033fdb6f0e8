package localstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	shufflefs "github.com/rshuffle/worker/pkg/fs"
)

func fixedUsage(total, available uint64) DiskUsage {
	return func(string) (uint64, uint64, error) {
		return total, available, nil
	}
}

func Test_Disk_CapacityCheck_Hysteresis(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk(dir, 4, 0.8, 0.2, shufflefs.NewReal(), fixedUsage(100, 100), nil)

	d.capacityCheck()
	require.True(t, d.IsHealthy())

	d.usage = fixedUsage(100, 10) // used ratio 0.9 > high watermark
	d.capacityCheck()
	require.False(t, d.healthy.Load())

	d.usage = fixedUsage(100, 50) // ratio 0.5, between watermarks: stays unhealthy
	d.capacityCheck()
	require.False(t, d.healthy.Load())

	d.usage = fixedUsage(100, 90) // ratio 0.1 < low watermark: recovers
	d.capacityCheck()
	require.True(t, d.healthy.Load())
}

func Test_Disk_CanaryCheck_StickyCorruption(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk(dir, 4, 0.8, 0.2, shufflefs.NewReal(), fixedUsage(100, 100), nil)

	d.canaryCheck()
	require.False(t, d.IsCorrupted())

	// Force corruption and confirm it is sticky across subsequent checks.
	d.markCorrupted()
	require.True(t, d.IsCorrupted())

	d.runChecksOnce() // capacity + canary both skipped once corrupted
	require.True(t, d.IsCorrupted())
	require.False(t, d.IsHealthy())
}

func Test_Disk_AppendReportsNewLength(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk(dir, 4, 0.8, 0.2, shufflefs.NewReal(), fixedUsage(100, 100), nil)

	n, err := d.Append(t.Context(), "p/data", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	n, err = d.Append(t.Context(), "p/data", []byte("world"))
	require.NoError(t, err)
	require.Equal(t, int64(10), n)

	got, err := d.Read(t.Context(), "p/data", 0, -1)
	require.NoError(t, err)
	require.Equal(t, "helloworld", string(got))
}

// Package localstore implements the warm tier: a bounded-concurrency,
// health-tracked local disk delegator and the sharded local file store built
// on top of it.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rshuffle/worker/internal/metrics"
	"github.com/rshuffle/worker/pkg/fs"
)

// DiskUsage reports total and available bytes for a root directory.
// Implemented separately per-OS (see disk_usage_unix.go) so Disk itself
// stays platform-agnostic.
type DiskUsage func(root string) (total, available uint64, err error)

// Disk owns one local root directory. It tracks a two-boolean health state
// machine (healthy, corrupted) exactly as specified: corrupted is sticky
// and, once set, every subsequent scheduled check is skipped — mirroring
// the original source's delegator loop, which exits its whole tick early
// once corruption is observed rather than merely skipping the canary check.
type Disk struct {
	Root string

	fs  fs.FS
	sem *semaphore.Weighted

	usage DiskUsage

	healthy   atomic.Bool
	corrupted atomic.Bool

	highWatermark float64
	lowWatermark  float64

	label string
	m     *metrics.Registry

	stop chan struct{}
	done chan struct{}
}

// NewDisk constructs a Disk rooted at root. maxConcurrency bounds in-flight
// I/O submissions via a weighted semaphore so disk work never stalls
// memory-store progress.
func NewDisk(root string, maxConcurrency int64, highWatermark, lowWatermark float64, realFS fs.FS, usage DiskUsage, m *metrics.Registry) *Disk {
	d := &Disk{
		Root:          root,
		fs:            realFS,
		sem:           semaphore.NewWeighted(maxConcurrency),
		usage:         usage,
		highWatermark: highWatermark,
		lowWatermark:  lowWatermark,
		label:         filepath.Base(root),
		m:             m,
	}

	d.healthy.Store(true)

	return d
}

// IsHealthy reports the aggregate of the capacity and corruption checks.
func (d *Disk) IsHealthy() bool {
	return d.healthy.Load() && !d.corrupted.Load()
}

// IsCorrupted reports whether the canary check has ever failed. Sticky:
// once true, it never reverts without a process restart.
func (d *Disk) IsCorrupted() bool { return d.corrupted.Load() }

// acquire gates one I/O submission behind the concurrency semaphore.
func (d *Disk) acquire(ctx context.Context) error {
	return d.sem.Acquire(ctx, 1)
}

func (d *Disk) release() { d.sem.Release(1) }

// CreateDir ensures dir exists under the disk root.
func (d *Disk) CreateDir(ctx context.Context, dir string) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	return d.fs.MkdirAll(filepath.Join(d.Root, dir), 0o750)
}

// Append opens path for append (creating it if necessary) and writes data,
// returning the file's length after the write so the caller can compute the
// next_offset for its index record.
func (d *Disk) Append(ctx context.Context, path string, data []byte) (newLength int64, err error) {
	if err := d.acquire(ctx); err != nil {
		return 0, err
	}
	defer d.release()

	full := filepath.Join(d.Root, path)

	f, err := d.fs.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return 0, fmt.Errorf("open %s for append: %w", full, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return 0, fmt.Errorf("append %s: %w", full, err)
	}

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", full, err)
	}

	return info.Size(), nil
}

// Read reads length bytes at offset from path. length<0 reads to EOF.
func (d *Disk) Read(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.release()

	full := filepath.Join(d.Root, path)

	f, err := d.fs.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", full, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, fmt.Errorf("seek %s: %w", full, err)
	}

	if length < 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", full, err)
		}

		length = info.Size() - offset
	}

	buf := make([]byte, length)

	if _, err := readFull(f, buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", full, err)
	}

	return buf, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n

		if err != nil {
			return total, err
		}

		if n == 0 {
			return total, errors.New("short read")
		}
	}

	return total, nil
}

// Write overwrites path's full contents atomically (temp file plus rename).
// Used only for the health canary file, never for partition data
// (partitions are append-only); a torn write here would otherwise be
// indistinguishable from real corruption and flip the disk unhealthy.
func (d *Disk) Write(ctx context.Context, path string, data []byte) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	return d.fs.WriteFileAtomic(filepath.Join(d.Root, path), data, 0o640)
}

// Delete removes path (file or directory tree) from the disk root.
func (d *Disk) Delete(ctx context.Context, path string) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	return d.fs.RemoveAll(filepath.Join(d.Root, path))
}

// FileStat reports whether path exists under the disk root.
func (d *Disk) FileStat(path string) (exists bool, size int64, err error) {
	full := filepath.Join(d.Root, path)

	info, statErr := d.fs.Stat(full)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return false, 0, nil
		}

		return false, 0, statErr
	}

	return true, info.Size(), nil
}

// StartHealthLoop spawns the periodic capacity and canary checks.
func (d *Disk) StartHealthLoop(interval time.Duration) {
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				d.runChecksOnce()
			}
		}
	}()
}

// Stop shuts down the health loop.
func (d *Disk) Stop() {
	if d.stop == nil {
		return
	}

	close(d.stop)
	<-d.done
}

// runChecksOnce performs one capacity check and one canary check. Once
// corrupted is set, both checks are skipped on every subsequent tick.
func (d *Disk) runChecksOnce() {
	if d.corrupted.Load() {
		return
	}

	d.capacityCheck()

	if d.corrupted.Load() {
		return
	}

	d.canaryCheck()
}

// capacityCheck applies hysteresis: healthy flips to false above the high
// watermark, and only flips back to true below the low watermark.
func (d *Disk) capacityCheck() {
	total, available, err := d.usage(d.Root)
	if err != nil || total == 0 {
		return
	}

	used := total - available
	ratio := float64(used) / float64(total)

	switch {
	case d.healthy.Load() && ratio > d.highWatermark:
		d.healthy.Store(false)
	case !d.healthy.Load() && ratio < d.lowWatermark:
		d.healthy.Store(true)
	}

	if d.m != nil {
		v := 0.0
		if d.healthy.Load() {
			v = 1.0
		}

		d.m.LocalDiskHealthy.WithLabelValues(d.label).Set(v)
	}
}

const canaryPayloadSize = 64

// canaryCheck writes a random payload to a well-known file and reads it
// back; any I/O error or mismatch sets corrupted (sticky).
func (d *Disk) canaryCheck() {
	payload := make([]byte, canaryPayloadSize)

	id := uuid.New()
	copy(payload, id[:])

	canaryPath := ".health-canary"

	ctx := context.Background()

	if err := d.Write(ctx, canaryPath, payload); err != nil {
		d.markCorrupted()

		return
	}

	got, err := d.Read(ctx, canaryPath, 0, canaryPayloadSize)
	if err != nil || !bytesEqual(got, payload) {
		d.markCorrupted()

		return
	}
}

func (d *Disk) markCorrupted() {
	d.corrupted.Store(true)

	if d.m != nil {
		d.m.LocalDiskCorrupted.WithLabelValues(d.label).Set(1)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

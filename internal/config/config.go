// Package config loads the storage core's structured configuration from a
// JSONC file, the way the teacher's config.go loads .tk.json: defaults
// first, then a file. Command-line flags choose the file; none of them
// overrides a configuration value.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Memory holds the hot tier's budget and sharding options.
type Memory struct {
	CapacityBytes int64 `json:"capacity_bytes"`
	ShardAmount   int   `json:"shard_amount"`
}

// Hybrid holds watermark and spill-bus options for the composing store.
type Hybrid struct {
	HighWatermark       float64 `json:"high_watermark"`
	LowWatermark        float64 `json:"low_watermark"`
	ColdThresholdBytes  int64   `json:"cold_threshold_bytes"`
	SpillMaxConcurrency int     `json:"spill_max_concurrency"`
	SpillRetryMax       int     `json:"spill_retry_max"`
}

// LocalDisk holds per-disk concurrency, watermark, and health-check options.
type LocalDisk struct {
	Roots                []string `json:"roots"`
	MaxConcurrency       int      `json:"max_concurrency"`
	HighWatermark        float64  `json:"high_watermark"`
	LowWatermark         float64  `json:"low_watermark"`
	HealthCheckIntervalS int      `json:"health_check_interval_seconds"`
}

// RemoteFS holds the remote filesystem tier's concurrency limit.
type RemoteFS struct {
	MaxConcurrency int `json:"max_concurrency"`
}

// Ticket holds reservation TTL and reaper-scan options.
type Ticket struct {
	TTLSeconds          int `json:"ttl_seconds"`
	ReaperIntervalSeconds int `json:"reaper_interval_seconds"`
}

// Config is the full structured configuration the storage core consumes.
type Config struct {
	Memory    Memory    `json:"memory"`
	Hybrid    Hybrid    `json:"hybrid"`
	LocalDisk LocalDisk `json:"local_disk"`
	RemoteFS  RemoteFS  `json:"remote_fs"`
	Ticket    Ticket    `json:"ticket"`
}

// Default returns the configuration defaults named in the external
// interface section of the specification.
func Default() Config {
	return Config{
		Memory: Memory{
			CapacityBytes: 1 << 30, // 1 GiB
			ShardAmount:   96,
		},
		Hybrid: Hybrid{
			HighWatermark:       0.8,
			LowWatermark:        0.2,
			ColdThresholdBytes:  0, // 0 disables the threshold: warm is always preferred when healthy
			SpillMaxConcurrency: 20,
			SpillRetryMax:       3,
		},
		LocalDisk: LocalDisk{
			MaxConcurrency:       8,
			HighWatermark:        0.9,
			LowWatermark:         0.7,
			HealthCheckIntervalS: 30,
		},
		RemoteFS: RemoteFS{
			MaxConcurrency: 16,
		},
		Ticket: Ticket{
			TTLSeconds:            300,
			ReaperIntervalSeconds: 10,
		},
	}
}

var errConfigFileRead = errors.New("read config file")

// Load reads defaults, then overlays path if it exists (JSONC via hujson).
// A missing path is not an error: Load falls back to Default().
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-provided config path
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Memory.CapacityBytes <= 0 {
		return errors.New("memory.capacity_bytes must be positive")
	}

	if cfg.Memory.ShardAmount <= 0 {
		return errors.New("memory.shard_amount must be positive")
	}

	if cfg.Hybrid.HighWatermark <= cfg.Hybrid.LowWatermark {
		return errors.New("hybrid.high_watermark must be greater than hybrid.low_watermark")
	}

	if cfg.Ticket.TTLSeconds <= 0 {
		return errors.New("ticket.ttl_seconds must be positive")
	}

	if cfg.Ticket.ReaperIntervalSeconds <= 0 {
		return errors.New("ticket.reaper_interval_seconds must be positive")
	}

	return nil
}

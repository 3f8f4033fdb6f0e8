// Command shuffleworker boots the storage core: it owns process lifecycle,
// background loops, and a /metrics endpoint. The RPC front end that would
// accept write/read/register calls from the driver and executors is out of
// scope here — this binary only constructs and runs the storage engine
// underneath it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rshuffle/worker/internal/config"
	"github.com/rshuffle/worker/internal/hybridstore"
	"github.com/rshuffle/worker/internal/localstore"
	"github.com/rshuffle/worker/internal/logging"
	"github.com/rshuffle/worker/internal/memstore"
	"github.com/rshuffle/worker/internal/metrics"
	"github.com/rshuffle/worker/internal/remotestore"
	"github.com/rshuffle/worker/internal/shuffle"
	"github.com/rshuffle/worker/pkg/fs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "shuffleworker:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to a JSONC config file; defaults are used if omitted")
		logLevel    = flag.String("log-level", "info", "zap log level")
		dev         = flag.Bool("dev", false, "use a human-readable console log encoder")
		catalogDSN  = flag.String("catalog", "", "path to the warm tier's durable pin catalog; empty disables it")
		metricsAddr = flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	)
	flag.Parse()

	log, err := logging.New(*dev, *logLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m := metrics.New()

	hot := memstore.NewStore(cfg.Memory.CapacityBytes, cfg.Memory.ShardAmount, time.Duration(cfg.Ticket.TTLSeconds)*time.Second)
	hot.StartReaper(time.Duration(cfg.Ticket.ReaperIntervalSeconds) * time.Second)
	defer hot.Stop()

	var warm shuffle.Tier

	disks, err := buildDisks(cfg, m)
	if err != nil {
		return fmt.Errorf("build local disks: %w", err)
	}

	if len(disks) > 0 {
		fileStore := localstore.NewFileStore(disks, m)

		if *catalogDSN != "" {
			catalog, err := localstore.OpenCatalog(context.Background(), *catalogDSN)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer func() { _ = catalog.Close() }()

			if err := fileStore.WithCatalog(context.Background(), catalog); err != nil {
				return fmt.Errorf("attach catalog: %w", err)
			}
		}

		for _, d := range disks {
			d.StartHealthLoop(time.Duration(cfg.LocalDisk.HealthCheckIntervalS) * time.Second)
			defer d.Stop()
		}

		warm = fileStore
	}

	var cold shuffle.Tier
	if cfg.RemoteFS.MaxConcurrency > 0 {
		cold = remotestore.NewStore(workerID(), int64(cfg.RemoteFS.MaxConcurrency))
	}

	store := hybridstore.New(hot, warm, cold, hybridstore.Config{
		HighWatermark:       cfg.Hybrid.HighWatermark,
		LowWatermark:        cfg.Hybrid.LowWatermark,
		ColdThresholdBytes:  cfg.Hybrid.ColdThresholdBytes,
		SpillMaxConcurrency: cfg.Hybrid.SpillMaxConcurrency,
		SpillRetryMax:       cfg.Hybrid.SpillRetryMax,
	}, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.Start(ctx)
	defer store.Stop()

	srv := &http.Server{
		Addr:              *metricsAddr,
		Handler:           promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("serving metrics", zap.String("addr", *metricsAddr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown error", zap.Error(err))
	}

	return nil
}

func buildDisks(cfg config.Config, m *metrics.Registry) ([]*localstore.Disk, error) {
	disks := make([]*localstore.Disk, 0, len(cfg.LocalDisk.Roots))

	for _, root := range cfg.LocalDisk.Roots {
		if err := os.MkdirAll(root, 0o750); err != nil {
			return nil, fmt.Errorf("create disk root %s: %w", root, err)
		}

		disks = append(disks, localstore.NewDisk(
			root,
			int64(cfg.LocalDisk.MaxConcurrency),
			cfg.LocalDisk.HighWatermark,
			cfg.LocalDisk.LowWatermark,
			fs.NewReal(),
			localstore.StatfsUsage,
			m,
		))
	}

	return disks, nil
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "shuffleworker"
	}

	return host
}

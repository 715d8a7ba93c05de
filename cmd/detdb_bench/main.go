package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sushant-115/detdb/config"
	"github.com/sushant-115/detdb/core/durability/memstore"
	"github.com/sushant-115/detdb/core/engine"
	"github.com/sushant-115/detdb/core/txservice"
	"github.com/sushant-115/detdb/internal/workload/intunif"
	"github.com/sushant-115/detdb/pkg/logger"
	"github.com/sushant-115/detdb/pkg/telemetry"
)

type u64 = uint64

func main() {
	configPath := flag.String("config", "", "path to the YAML config")
	protocol := flag.String("protocol", "", "override the configured protocol")
	workers := flag.Int("workers", 0, "override the configured worker count")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *protocol != "" {
		cfg.Protocol = *protocol
	}
	if *workers > 0 {
		cfg.Service.Workers = *workers
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zlogger.Sync()

	runID := uuid.New().String()
	zlogger = zlogger.With(zap.String("run", runID))

	if err := run(cfg, zlogger); err != nil {
		zlogger.Error("Benchmark failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, zlogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	if tel.MetricsAddr != "" {
		zlogger.Info("Serving metrics", zap.String("addr", tel.MetricsAddr))
	}

	con, err := engine.NewControl[u64, u64, u64, u64](cfg.Protocol, engine.Options{
		Logger: zlogger,
		Meter:  tel.Meter,
	})
	if err != nil {
		return err
	}
	store := memstore.New[u64, u64, u64, u64](cfg.Store, zlogger)

	svc, err := txservice.New[u64, u64, u64, u64](cfg.Service, con, store, zlogger,
		txservice.WithMeter(tel.Meter),
		txservice.WithTracer(tel.Tracer),
	)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}

	gen, err := intunif.NewGen(cfg.Bench.Seed, cfg.Bench.Mix, cfg.Bench.ValueRange)
	if err != nil {
		return err
	}

	total := cfg.Bench.Warmup + cfg.Bench.Txns
	zlogger.Info("Starting benchmark",
		zap.String("protocol", cfg.Protocol),
		zap.Int("workers", cfg.Service.Workers),
		zap.Int("warmup", cfg.Bench.Warmup),
		zap.Int("txns", cfg.Bench.Txns))

	var (
		start     time.Time
		committed int
	)
	g, gctx := errgroup.WithContext(ctx)
	h := svc.Handle()

	g.Go(func() error {
		for i := 0; i < total; i++ {
			if err := h.PutContext(gctx, gen.Get()); err != nil {
				return fmt.Errorf("submit: %w", err)
			}
		}
		return nil
	})

	g.Go(func() error {
		if cfg.Bench.Warmup == 0 {
			start = time.Now()
		}
		for id := u64(1); id <= u64(total); id++ {
			for {
				_, ok, err := h.Get(id)
				if err == nil {
					if ok && id > u64(cfg.Bench.Warmup) {
						committed++
					}
					break
				}
				if !errors.Is(err, txservice.ErrPending) {
					return err
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(10 * time.Microsecond):
				}
			}
			if id == u64(cfg.Bench.Warmup) {
				start = time.Now()
			}
		}
		return nil
	})

	waitErr := g.Wait()
	elapsed := time.Since(start)
	closeErr := svc.Close()
	if err := errors.Join(waitErr, closeErr); err != nil {
		return err
	}

	tps := float64(cfg.Bench.Txns) / elapsed.Seconds()
	zlogger.Info("Benchmark finished",
		zap.Duration("elapsed", elapsed),
		zap.Int("committed", committed),
		zap.Int("aborted", cfg.Bench.Txns-committed),
		zap.Float64("txnsPerSecond", tps),
		zap.Int("storedKeys", store.Len()))
	fmt.Printf("%s %d workers: %d txns in %v (%.0f txn/s)\n",
		cfg.Protocol, cfg.Service.Workers, cfg.Bench.Txns, elapsed, tps)
	return nil
}

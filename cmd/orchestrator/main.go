// Command orchestrator runs a migration worker against the configured
// backend. Tenant ids passed as arguments are enqueued before the worker
// starts, which makes the command usable both as a long-running worker and
// as a one-shot scheduling tool.
//
// Usage:
//
//	orchestrator -config config.yaml tenant-1 tenant-2
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	orchestrator "github.com/getpup/migration-orchestrator"
	"github.com/getpup/migration-orchestrator/engine"
	"github.com/getpup/migration-orchestrator/internal/config"
	"github.com/getpup/migration-orchestrator/logging"
	"github.com/getpup/migration-orchestrator/metrics"
	"github.com/getpup/migration-orchestrator/registry"
	"github.com/getpup/migration-orchestrator/store"
	"github.com/getpup/migration-orchestrator/store/memory"
	"github.com/getpup/migration-orchestrator/store/postgres"
	redisstore "github.com/getpup/migration-orchestrator/store/redis"
	"github.com/getpup/migration-orchestrator/supervisor"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: search standard locations)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zl := newZerolog(cfg.Server)
	logger := logging.NewZerolog(zl)

	jobs, states, cleanup, err := openStores(cfg.Store)
	if err != nil {
		zl.Fatal().Err(err).Msg("Failed to open store")
	}
	defer cleanup()

	// Demo migrations. A real deployment embeds the engine as a library and
	// registers its own migration steps here.
	reg := registry.MustNew(
		orchestrator.MigrationFunc("0001_init", func(ctx context.Context, tenantID string) error {
			return nil
		}),
		orchestrator.MigrationFunc("0002_indexes", func(ctx context.Context, tenantID string) error {
			return nil
		}),
	)

	eng, err := engine.New(engine.Config{
		Jobs:                 jobs,
		States:               states,
		Registry:             reg,
		QueueName:            cfg.Queue.Name,
		Concurrency:          cfg.Queue.Concurrency,
		MaxAttempts:          cfg.Queue.MaxAttempts,
		RetryBackoff:         cfg.Queue.RetryBackoff,
		StalledCheckInterval: cfg.Queue.StalledCheckInterval,
		StalledTimeout:       cfg.Queue.StalledTimeout,
		MaxStalledCount:      cfg.Queue.MaxStalledCount,
		HeartbeatInterval:    cfg.Queue.HeartbeatInterval,
		PollInterval:         cfg.Queue.PollInterval,
		RemoveOnComplete:     &cfg.Queue.RemoveOnComplete,
		RemoveOnFail:         &cfg.Queue.RemoveOnFail,
		MetricsEnabled:       &cfg.Metrics.Enabled,
		Alerter:              supervisor.NewLogAlerter(logger),
		Logger:               logger,
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("Failed to create engine")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		zl.Info().Msg("Received shutdown signal, stopping orchestrator")
		cancel()
	}()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr)
		metricsServer.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
		zl.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics server started")
	}

	// Schedule any tenants named on the command line before consuming.
	for _, tenantID := range flag.Args() {
		job, err := eng.Enqueue(ctx, tenantID)
		if err != nil {
			zl.Fatal().Err(err).Str("tenant_id", tenantID).Msg("Failed to enqueue tenant")
		}
		zl.Info().Str("tenant_id", tenantID).Str("job_id", job.ID).Msg("Enqueued migration job")
	}

	zl.Info().
		Str("backend", cfg.Store.Backend).
		Int("concurrency", cfg.Queue.Concurrency).
		Msg("Starting migration orchestrator")

	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		zl.Fatal().Err(err).Msg("Orchestrator error")
	}

	zl.Info().Msg("Orchestrator stopped")
}

func newZerolog(cfg config.Server) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	return logger.Level(level).With().Timestamp().Logger()
}

// openStores builds the configured storage backend. The returned cleanup
// closes any underlying connections.
func openStores(cfg config.Store) (store.JobStore, store.TenantStateStore, func(), error) {
	switch cfg.Backend {
	case "memory":
		s := memory.New()
		return s, s, func() {}, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open postgres connection: %w", err)
		}
		s := postgres.NewWithConfig(db, postgres.TableConfig{
			JobsTable:             cfg.Postgres.JobsTable,
			TenantMigrationsTable: cfg.Postgres.TenantMigrationsTable,
		})
		return s, s, func() { _ = db.Close() }, nil

	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s := redisstore.NewWithPrefix(rdb, cfg.Redis.KeyPrefix)
		return s, s, func() { _ = rdb.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

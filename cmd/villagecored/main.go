// Command villagecored runs the population lifecycle daemon: it opens the
// entity store, generates or loads the world map, seeds the habitable
// tiles, and drives one lifecycle pass per simulated day until stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"villagecore/internal/adapters/snapshot"
	"villagecore/internal/calendar"
	"villagecore/internal/core"
	blobcore "villagecore/internal/infra/blob/core"
	blobfs "villagecore/internal/infra/blob/fs"
	blobmem "villagecore/internal/infra/blob/memory"
	blobs3 "villagecore/internal/infra/blob/s3"
	kvmemory "villagecore/internal/infra/kv/memory"
	kvpostgres "villagecore/internal/infra/kv/postgres"
	kvsqlite "villagecore/internal/infra/kv/sqlite"
	"villagecore/internal/infra/lock"
	"villagecore/internal/infra/worlddb"
	"villagecore/pkg/domain"
)

type serverConfig struct {
	KVDriver string `env:"VILLAGECORE_KV_DRIVER" envDefault:"memory"`
	KVPath   string `env:"VILLAGECORE_KV_PATH" envDefault:"villagecore.db"`
	KVDSN    string `env:"VILLAGECORE_KV_DSN"`

	WorldDBPath string `env:"VILLAGECORE_WORLD_DB" envDefault:"world.db"`
	WorldWidth  int    `env:"VILLAGECORE_WORLD_WIDTH" envDefault:"32"`
	WorldHeight int    `env:"VILLAGECORE_WORLD_HEIGHT" envDefault:"32"`
	WorldSeed   int64  `env:"VILLAGECORE_WORLD_SEED" envDefault:"1"`
	SeedTiles   int    `env:"VILLAGECORE_SEED_TILES" envDefault:"16"`
	SeedTarget  int    `env:"VILLAGECORE_SEED_TARGET" envDefault:"40"`

	ArchiveDriver string `env:"VILLAGECORE_ARCHIVE_DRIVER" envDefault:"fs"`
	ArchivePath   string `env:"VILLAGECORE_ARCHIVE_PATH" envDefault:"./archives"`

	TickInterval time.Duration `env:"VILLAGECORE_TICK_INTERVAL" envDefault:"1s"`
	MetricsAddr  string        `env:"VILLAGECORE_METRICS_ADDR" envDefault:":9114"`
	LogLevel     slog.Level    `env:"VILLAGECORE_LOG_LEVEL" envDefault:"info"`
	VerifyHard   bool          `env:"VILLAGECORE_VERIFY_HARD" envDefault:"false"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("villagecored exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openKV(cfg)
	if err != nil {
		return err
	}
	defer closeKV()

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}

	world, err := worlddb.Open(cfg.WorldDBPath)
	if err != nil {
		return err
	}
	defer world.Close()
	tileIDs, err := prepareWorld(ctx, world, cfg, log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	clock := calendar.NewClock(domain.SimDate{Year: 1, Month: 1, Day: 1}, log)
	engine := core.New(kv, lock.New(kv), clock,
		core.WithLogger(log),
		core.WithMetrics(metrics),
		core.WithBroadcaster(core.LogBroadcaster{Log: log}),
	)

	if _, err := engine.VerifyAndRepair(ctx, cfg.VerifyHard); err != nil {
		return fmt.Errorf("startup verification: %w", err)
	}
	demo, err := engine.Demographics(ctx)
	if err != nil {
		return err
	}
	if demo.Population == 0 {
		report, err := engine.SeedTiles(ctx, tileIDs, core.SeedOptions{TargetPerTile: cfg.SeedTarget})
		if err != nil {
			return fmt.Errorf("seed world: %w", err)
		}
		log.Info("world seeded", "tiles", report.TilesSeeded, "persons", report.PersonsCreated)
	}

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "error", err)
		}
	}()

	clock.Start(cfg.TickInterval, func(date domain.SimDate) {
		if err := engine.DailyPass(ctx); err != nil {
			log.Error("daily pass failed", "date", date, "error", err)
		}
	})
	log.Info("villagecored running",
		"kv_driver", cfg.KVDriver, "tiles", len(tileIDs), "tick", cfg.TickInterval)

	<-ctx.Done()
	clock.Stop()

	// Final snapshot on the way down; archives can be re-imported through
	// the snapshot service.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc := snapshot.NewService(engine)
	export, err := svc.Export(shutdownCtx)
	if err != nil {
		log.Error("export final snapshot", "error", err)
	} else {
		key, _, err := snapshot.NewArchiver(archive).Archive(shutdownCtx, export)
		if err != nil {
			log.Error("archive final snapshot", "error", err)
		} else {
			log.Info("final snapshot archived", "key", key, "date", export.Date)
		}
	}
	return metricsSrv.Shutdown(shutdownCtx)
}

func openKV(cfg serverConfig) (domain.KVStore, func(), error) {
	switch cfg.KVDriver {
	case "memory":
		return kvmemory.NewStore(), func() {}, nil
	case "sqlite":
		store, err := kvsqlite.NewStore(cfg.KVPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, func() { store.Close() }, nil
	case "postgres":
		store, err := kvpostgres.NewStore(cfg.KVDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, func() { store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown kv driver %q", cfg.KVDriver)
	}
}

func openArchive(ctx context.Context, cfg serverConfig) (blobcore.Store, error) {
	switch cfg.ArchiveDriver {
	case "memory":
		return blobmem.New(), nil
	case "fs":
		return blobfs.New(cfg.ArchivePath)
	case "s3":
		return blobs3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.ArchiveDriver)
	}
}

// prepareWorld generates the tile map on first boot and returns the
// habitable tile ids the seeder works with.
func prepareWorld(ctx context.Context, world *worlddb.DB, cfg serverConfig, log *slog.Logger) ([]int64, error) {
	habitable, err := world.HabitableTileIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(habitable) == 0 {
		tiles := worlddb.Generate(cfg.WorldWidth, cfg.WorldHeight, cfg.WorldSeed)
		if err := world.Replace(ctx, tiles); err != nil {
			return nil, fmt.Errorf("load world map: %w", err)
		}
		habitable, err = world.HabitableTileIDs(ctx)
		if err != nil {
			return nil, err
		}
		log.Info("world map generated",
			"width", cfg.WorldWidth, "height", cfg.WorldHeight, "habitable", len(habitable))
	}
	if cfg.SeedTiles > 0 && len(habitable) > cfg.SeedTiles {
		habitable = habitable[:cfg.SeedTiles]
	}
	return habitable, nil
}

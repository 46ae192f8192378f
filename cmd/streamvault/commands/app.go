package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/voyagen/streamvault/internal/cache"
	"github.com/voyagen/streamvault/internal/config"
	"github.com/voyagen/streamvault/internal/fetcher"
	"github.com/voyagen/streamvault/internal/ingest"
	"github.com/voyagen/streamvault/internal/service"
	"github.com/voyagen/streamvault/internal/store"
)

// app is the wired dependency graph shared by the serve and sync commands.
type app struct {
	cfg    *config.Config
	store  store.Store
	cache  cache.Cache
	memory *cache.Memory // nil when Redis is the cache
	redis  *cache.Redis  // nil when REDIS_URL is not set
	fetch  fetcher.Options
	syncer *service.Syncer
}

// openStore runs migrations and connects to the configured database.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		// NewSQLite applies the schema on its own handle.
		db, err := store.NewSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		return db, nil
	default:
		if err := store.RunMigrations(config.DriverPostgres, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		return db, nil
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	if cfg.RedisURL != "" {
		rds, err := cache.New(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		if err := rds.Ping(ctx); err != nil {
			_ = rds.Close()
			db.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.redis = rds
		a.cache = rds
		slog.Info("redis connected", "cache", "redis", "sync_queue", true)
	} else {
		a.memory = cache.NewMemory()
		a.cache = a.memory
		slog.Info("redis disabled (REDIS_URL not set)", "cache", "memory")
	}
	a.store = store.NewCachedStore(db, a.cache)

	if err := a.seedSources(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.fetch = fetcher.Options{
		Client:    &http.Client{Timeout: cfg.Timeout},
		UserAgent: cfg.UserAgent,
	}
	opts := service.SyncOptions{
		Fetch:       a.fetch,
		XtreamRPS:   cfg.XtreamRPS,
		Concurrency: cfg.SyncConcurrency,
	}
	if a.redis != nil {
		opts.Locker = a.redis
	}
	a.syncer = service.NewSyncer(a.store, ingest.NewWriter(a.store, cfg.BatchSize), a.cache, opts)
	return a, nil
}

// seedSources upserts the sources listed in the config file by name.
func (a *app) seedSources(ctx context.Context) error {
	for _, sc := range a.cfg.Sources {
		id, err := a.store.UpsertSource(ctx, sc.Source())
		if err != nil {
			return fmt.Errorf("seed source %q: %w", sc.Name, err)
		}
		slog.Info("source provisioned", "source_id", id, "source", sc.Name, "type", sc.Type)
	}
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.store.Close()
}

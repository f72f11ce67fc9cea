package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/okian/bikeharvest/internal/adapters/catalog"
	"github.com/okian/bikeharvest/internal/adapters/export"
	"github.com/okian/bikeharvest/internal/adapters/fetch"
	"github.com/okian/bikeharvest/internal/adapters/lock"
	"github.com/okian/bikeharvest/internal/adapters/repository"
	"github.com/okian/bikeharvest/internal/config"
	"github.com/okian/bikeharvest/internal/domain/extract"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/resolve"
	"github.com/okian/bikeharvest/pkg/logger"
)

// BootstrapOptions are the command-line overrides applied on top of config.
type BootstrapOptions struct {
	// CatalogPath overrides cfg.CatalogPath when set.
	CatalogPath string
	// Live opens a browser for tier 3 even when cfg disables it.
	Live bool
	// SkipLock leaves the claim lock out, for read-only tools.
	SkipLock bool
}

// Resources are the long-lived collaborators opened from config.
type Resources struct {
	Store   repository.Store
	Catalog catalog.Source
	Makers  *normalize.StaticDirectory
	Locker  resolve.Locker
	// Fetcher is nil when live fetch is off.
	Fetcher resolve.Fetcher

	closers []func() error
}

// Bootstrap opens the store, the catalog source, the maker directory, the
// claim lock and, when live fetch is on, the browser. Each failure wraps one
// of ErrStore, ErrCatalog, ErrLock or ErrBrowser. Whatever was opened before
// a failure is closed again.
func Bootstrap(ctx context.Context, cfg *config.Config, opts BootstrapOptions) (res *Resources, err error) {
	log := logger.Get().Named("bootstrap")
	res = &Resources{}
	defer func() {
		if err != nil {
			_ = res.Close()
			res = nil
		}
	}()

	if err := res.openStore(ctx, cfg, log); err != nil {
		return res, err
	}
	if err := res.openCatalog(cfg, opts.CatalogPath); err != nil {
		return res, err
	}
	if err := res.loadMakers(ctx, cfg, log); err != nil {
		return res, err
	}
	if !opts.SkipLock {
		if err := res.openLocker(ctx, cfg, log); err != nil {
			return res, err
		}
	}
	if opts.Live || cfg.Pipeline.LiveFetch {
		if err := res.openFetcher(ctx, cfg, log); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Resources) openStore(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		store, err := repository.NewPostgresStore(ctx, cfg.Store.DSN, repository.WithMigrate(cfg.Store.Migrate))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		r.Store = store
	default:
		store, err := repository.NewMemoryStore(ctx, repository.WithSnapshotPath(cfg.Store.SnapshotPath))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStore, err)
		}
		r.Store = store
	}
	r.closers = append(r.closers, r.Store.Close)
	log.Info(ctx, "record store opened", logger.String("driver", cfg.Store.Driver))
	return nil
}

func (r *Resources) openCatalog(cfg *config.Config, path string) error {
	if cfg.Store.CatalogFromDB {
		src, ok := r.Store.(catalog.Source)
		if !ok {
			return fmt.Errorf("%w: store %s cannot serve the catalog", ErrCatalog, cfg.Store.Driver)
		}
		r.Catalog = src
		return nil
	}
	if path == "" {
		path = cfg.CatalogPath
	}
	if path == "" {
		return fmt.Errorf("%w: no catalog path given", ErrCatalog)
	}
	r.Catalog = catalog.FileSource{Path: path}
	return nil
}

// makerSource is implemented by stores that hold a makers table.
type makerSource interface {
	Makers(ctx context.Context) (map[string]string, error)
}

func (r *Resources) loadMakers(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	r.Makers = normalize.NewStaticDirectory(cfg.Makers)
	if src, ok := r.Store.(makerSource); ok {
		makers, err := src.Makers(ctx)
		if err != nil {
			return fmt.Errorf("%w: load makers: %w", ErrStore, err)
		}
		r.Makers.Add(makers)
	}
	log.Info(ctx, "maker directory loaded", logger.Int("makers", r.Makers.Len()))
	return nil
}

func (r *Resources) openLocker(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	if cfg.Redis.Addr == "" {
		r.Locker = lock.NewLocalLocker()
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	locker := lock.NewRedisLocker(client, lock.WithTTL(cfg.Redis.LockTTL))
	r.closers = append(r.closers, locker.Close)
	if err := locker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrLock, err)
	}
	r.Locker = locker
	log.Info(ctx, "redis claim lock connected", logger.String("addr", cfg.Redis.Addr))
	return nil
}

func (r *Resources) openFetcher(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	nav, err := fetch.NewRodNavigator(ctx,
		fetch.WithBrowserBin(cfg.Browser.Bin),
		fetch.WithHeadless(cfg.Browser.Headless),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBrowser, err)
	}
	r.closers = append(r.closers, nav.Close)

	fetcher := fetch.New(nav,
		fetch.WithBaseTimeout(cfg.Browser.BaseTimeout),
		fetch.WithExtendedTimeout(cfg.Browser.ExtendedTimeout),
		fetch.WithSettleDelay(cfg.Browser.SettleDelay),
		fetch.WithMinTextLength(cfg.Browser.MinTextLength),
	)
	r.Fetcher = fetch.NewRetrying(fetcher, cfg.Pipeline.RetryAttempts, cfg.Pipeline.RetryBackoff)
	log.Info(ctx, "browser launched", logger.Any("headless", cfg.Browser.Headless))
	return nil
}

// ServiceOptions turns r and cfg into Service options. workers overrides
// cfg when positive.
func (r *Resources) ServiceOptions(cfg *config.Config, workers int) []Option {
	if workers <= 0 {
		workers = cfg.Pipeline.Workers
	}
	opts := []Option{
		WithCatalog(r.Catalog),
		WithMakers(r.Makers),
		WithWorkerCount(workers),
		WithQueueSize(cfg.Pipeline.QueueSize),
		WithItemDelay(cfg.Pipeline.ItemDelay),
		WithRefreshPolicy(cfg.Pipeline.StalenessWindow, cfg.Pipeline.RefreshCap),
		WithDefaultCurrency(cfg.Normalize.DefaultCurrency),
		WithExporter(export.New(cfg.Export.Dir,
			export.WithThreshold(cfg.Export.Threshold),
			export.WithChunkSize(cfg.Export.ChunkSize),
			export.WithEmergencyChunkSize(cfg.Export.EmergencyChunkSize),
			export.WithParallelism(cfg.Export.Parallelism),
		), cfg.Export.Base),
	}
	if r.Locker != nil {
		opts = append(opts, WithLocker(r.Locker))
	}
	if r.Fetcher != nil {
		opts = append(opts, WithLiveFetch(r.Fetcher, extract.New()))
	}
	return opts
}

// Close releases everything in reverse opening order.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Package service wires the harvesting pipeline: catalog, work queue, tiered
// resolution, normalization, the persistence gate and the export.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/bikeharvest/internal/adapters/catalog"
	"github.com/okian/bikeharvest/internal/adapters/export"
	"github.com/okian/bikeharvest/internal/adapters/mq/queue"
	"github.com/okian/bikeharvest/internal/adapters/mq/worker"
	"github.com/okian/bikeharvest/internal/adapters/repository"
	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/persist"
	"github.com/okian/bikeharvest/internal/domain/report"
	"github.com/okian/bikeharvest/internal/domain/resolve"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/internal/domain/workqueue"
	"github.com/okian/bikeharvest/pkg/logger"
	"github.com/okian/bikeharvest/pkg/metrics"
)

// Defaults.
const (
	defaultQueueSize  = 1024
	defaultItemDelay  = time.Second
	defaultExportDir  = "exports"
	defaultExportBase = "bikes"
	defaultCurrency   = "USD"
)

// RunOptions tune a single run.
type RunOptions struct {
	// Limit caps the number of work items when positive.
	Limit int
	// Force re-resolves acceptable records regardless of age.
	Force bool
	// NoOutput skips the export.
	NoOutput bool
}

// Service runs the pipeline over one store. Runs are serialized.
type Service struct {
	mu sync.RWMutex

	// Collaborators
	store     repository.Store
	catalog   catalog.Source
	fetcher   resolve.Fetcher
	extractor resolve.Extractor
	locker    resolve.Locker
	makers    normalize.MakerDirectory
	exporter  *export.Exporter

	// Pipeline stages, built once in New
	loader     *catalog.Loader
	builder    *workqueue.Builder
	resolver   *resolve.Resolver
	normalizer *normalize.Normalizer
	gate       *persist.Gate

	// Configuration
	workerCount int
	queueSize   int
	itemDelay   time.Duration
	staleness   time.Duration
	refreshCap  int
	currency    string
	exportBase  string
	now         func() time.Time

	// State
	running bool
	last    *report.RunReport

	logger logger.Logger
}

// New constructs a Service over store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		workerCount: 1,
		queueSize:   defaultQueueSize,
		itemDelay:   defaultItemDelay,
		staleness:   workqueue.DefaultStalenessWindow,
		refreshCap:  workqueue.DefaultRefreshCap,
		currency:    defaultCurrency,
		exportBase:  defaultExportBase,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.makers == nil {
		s.makers = normalize.NewStaticDirectory(nil)
	}
	if s.exporter == nil {
		s.exporter = export.New(defaultExportDir)
	}

	decoder := resolve.NewDecoder()
	s.loader = catalog.NewLoader()
	s.builder = workqueue.NewBuilder(
		workqueue.WithDecoder(decoder),
		workqueue.WithStalenessWindow(s.staleness),
		workqueue.WithRefreshCap(s.refreshCap),
		workqueue.WithClock(s.now),
	)

	ropts := []resolve.Option{resolve.WithDecoder(decoder), resolve.WithMakers(s.makers)}
	if s.fetcher != nil && s.extractor != nil {
		ropts = append(ropts, resolve.WithLiveFetch(s.fetcher, s.extractor))
	}
	if s.locker != nil {
		ropts = append(ropts, resolve.WithLocker(s.locker))
	}
	s.resolver = resolve.New(store, ropts...)

	s.normalizer = normalize.New(
		normalize.WithDefaultCurrency(s.currency),
		normalize.WithMakers(s.makers),
		normalize.WithClock(s.now),
	)
	s.gate = persist.New(store, persist.WithMakers(s.makers), persist.WithClock(s.now))
	return s
}

// Run performs one full pass: build the queue, drain it through the workers,
// then export the canonical store. Only setup failures are returned as
// errors; every item outcome lands in the report.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*report.RunReport, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	if !s.begin() {
		return nil, ErrRunInProgress
	}
	defer s.end()

	rep := report.New(s.now())
	s.logger.Info(ctx, "starting run",
		logger.String("run_id", rep.RunID),
		logger.Int("limit", opts.Limit),
		logger.Any("force", opts.Force),
		logger.Any("live_fetch", s.resolver.LiveFetch()),
		logger.Int("workers", s.workerCount),
	)

	cat, err := s.loader.Load(ctx, s.catalog)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalog, err)
	}

	items, sum, err := s.builder.Build(ctx, cat.Entries, s.store, workqueue.BuildOptions{Force: opts.Force, Limit: opts.Limit})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildQueue, err)
	}
	rep.Queued = sum.Queued
	rep.Buckets = sum.Buckets
	for p := types.PriorityFailed; p <= types.PriorityNeverScraped; p++ {
		metrics.UpdateBucketSize(p.String(), sum.Buckets[p])
	}

	s.drain(ctx, items, rep)

	if !opts.NoOutput {
		rep.ExportFiles = s.export(context.WithoutCancel(ctx))
	}
	s.flush(ctx)

	rep.Finish(s.now())
	metrics.RecordRun(rep.Attempted)

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	s.logger.Info(ctx, "run finished", rep.Fields()...)
	return rep, nil
}

// drain feeds items through a fresh queue and worker pool.
func (s *Service) drain(ctx context.Context, items []model.WorkItem, rep *report.RunReport) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize), queue.WithSizeHint(len(items)))
	pool := worker.NewPool(s.workerCount, q, s.resolver, s.normalizer, s.gate,
		worker.WithItemDelay(s.itemDelay),
		worker.WithClock(s.now),
	)

	go func() {
		defer func() { _ = q.Close() }()
		for _, item := range items {
			if err := q.Put(ctx, item); err != nil {
				s.logger.Warn(ctx, "stopped feeding work queue", logger.Error(err))
				return
			}
		}
	}()

	pool.Run(ctx, rep)
}

// export writes every canonical record and returns the files written. A
// failed export is logged; the run itself still completes.
func (s *Service) export(ctx context.Context) []string {
	records, err := s.store.Canonicals(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to read canonical records", logger.Error(err))
		metrics.RecordErrorByComponent("service", "export_read")
		return nil
	}
	manifest, err := s.exporter.Export(ctx, s.exportBase, records)
	files := manifest.Files
	if manifest.ManifestFile != "" {
		files = append(files, manifest.ManifestFile)
	}
	if err != nil {
		s.logger.Error(ctx, "export incomplete",
			logger.Int("files", len(files)),
			logger.Error(err))
		metrics.RecordErrorByComponent("service", "export")
		return files
	}
	s.logger.Info(ctx, "export written",
		logger.Int("records", len(records)),
		logger.Int("files", len(files)))
	return files
}

// flush persists stores that buffer writes in memory.
func (s *Service) flush(ctx context.Context) {
	f, ok := s.store.(interface{ Flush() error })
	if !ok {
		return
	}
	if err := f.Flush(); err != nil {
		s.logger.Error(ctx, "failed to flush store", logger.Error(err))
		metrics.RecordErrorByComponent("service", "flush")
	}
}

func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// LastReport returns the report of the most recent completed run, or nil.
func (s *Service) LastReport() *report.RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Running reports whether a run is in progress.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"running":     s.running,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"liveFetch":   s.resolver.LiveFetch(),
	}
	if counts, err := s.store.Count(ctx); err == nil {
		stats["records"] = counts
		for name, n := range counts {
			metrics.UpdateStoreRecords(name, n)
		}
	}
	if s.last != nil {
		stats["lastRunId"] = s.last.RunID
		stats["lastRunFinishedAt"] = s.last.FinishedAt
	}
	return stats
}

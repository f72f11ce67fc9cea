// Package worker drains the work queue: each item is resolved, normalized and
// handed to the persistence gate, and its outcome lands in a run report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/bikeharvest/internal/adapters/fetch"
	"github.com/okian/bikeharvest/internal/adapters/mq/queue"
	"github.com/okian/bikeharvest/internal/domain/dedupe"
	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/persist"
	"github.com/okian/bikeharvest/internal/domain/report"
	"github.com/okian/bikeharvest/internal/domain/resolve"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
	"github.com/okian/bikeharvest/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Resolver finds the record for an item.
type Resolver interface {
	Resolve(ctx context.Context, item model.WorkItem) (resolve.Resolution, error)
}

// Normalizer converts a raw record into its canonical form.
type Normalizer interface {
	Normalize(ctx context.Context, raw *model.RawRecord) (*model.CanonicalRecord, error)
}

// Gate persists records and terminal failures.
type Gate interface {
	Persist(ctx context.Context, key string, raw model.RawRecord, canonical *model.CanonicalRecord) (persist.Outcome, error)
	RecordFailure(ctx context.Context, key, url string, reason types.FailureReason, detail string, attempts int) error
}

// Queue defines how workers receive items.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Item
}

// Worker processes items one at a time to completion.
type Worker struct {
	resolver   Resolver
	normalizer Normalizer
	gate       Gate
	claims     dedupe.Deduper
	name       string
	delay      time.Duration
	now        func() time.Time

	// Shutdown control
	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	report *report.RunReport
	logger logger.Logger
}

// NewWorker creates a worker.
func NewWorker(resolver Resolver, normalizer Normalizer, gate Gate, opts ...Option) *Worker {
	w := &Worker{
		resolver:   resolver,
		normalizer: normalizer,
		gate:       gate,
		name:       "worker",
		now:        time.Now,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.claims == nil {
		w.claims = dedupe.NewInMemoryDeduper()
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	w.report = report.New(w.now())
	return w
}

// Report returns the worker's own report. Read it only after Run returns.
func (w *Worker) Report() *report.RunReport {
	return w.report
}

// Run processes items until the channel closes, ctx is cancelled or Shutdown
// is called. An item in progress always finishes.
func (w *Worker) Run(ctx context.Context, items <-chan queue.Item) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			res, fetched := w.Process(context.WithoutCancel(ctx), item)
			w.report.Record(res)
			if fetched && w.delay > 0 {
				if !w.pause(ctx) {
					return
				}
			}
		}
	}
}

func (w *Worker) pause(ctx context.Context) bool {
	t := time.NewTimer(w.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.shutdown:
		return false
	case <-t.C:
		return true
	}
}

// Shutdown stops the worker between items.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.signal()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *Worker) signal() {
	w.stopOnce.Do(func() { close(w.shutdown) })
}

// Process runs one item through the pipeline. Skips and failures are
// outcomes, never errors. fetched reports whether the live tier was reached.
func (w *Worker) Process(ctx context.Context, item model.WorkItem) (res report.ItemResult, fetched bool) { //nolint:gocritic // hugeParam: items are passed by value for channel semantics
	start := time.Now()
	res = report.ItemResult{Key: item.Key, Priority: item.Score.Priority, Score: item.Score.Score}
	defer func() {
		res.Duration = time.Since(start)
		metrics.RecordItemOutcome(string(res.Outcome))
		metrics.RecordItemLatency(float64(res.Duration.Milliseconds()))
		w.logger.Debug(ctx, "item finished",
			logger.String("key", res.Key),
			logger.String("outcome", string(res.Outcome)),
			logger.String("source", string(res.Source)),
			logger.Duration("elapsed", res.Duration))
	}()

	if w.claims.SeenAndRecord(ctx, item.Key) {
		res.Outcome = types.OutcomeSkippedDuplicate
		res.Detail = "already attempted in this run"
		return res, false
	}

	resolution, err := w.resolver.Resolve(ctx, item)
	fetched = resolution.Source == types.SourceTier3
	if err != nil && !w.routable(ctx, item, err, resolution, &res) {
		if _, _, ok := fetch.ReasonOf(err); ok || errors.Is(err, resolve.ErrExtractionFailed) {
			fetched = true
		}
		return res, fetched
	}

	rec := resolution.Record
	res.Source = resolution.Source
	metrics.RecordResolution(string(res.Source))

	canonical, err := w.normalizer.Normalize(ctx, rec)
	if err != nil {
		// the gate turns missing identity into skipped_insufficient
		w.logger.Debug(ctx, "normalization produced no canonical record",
			logger.String("key", item.Key), logger.Error(err))
		canonical = nil
	}
	if canonical != nil {
		res.SyntheticKey = canonical.SyntheticKey
	}

	persistStart := time.Now()
	out, err := w.gate.Persist(ctx, item.Key, *rec, canonical)
	metrics.RecordPersistLatency(float64(time.Since(persistStart).Milliseconds()))
	res.Outcome = out.Status
	res.Missing = out.Missing
	res.CombinationDuplicateOf = out.CombinationDuplicateOf
	if err != nil {
		res.Outcome = types.OutcomeFailed
		res.Detail = err.Error()
		metrics.RecordErrorByComponent("worker", "persist_error")
		return res, fetched
	}
	if res.CombinationDuplicateOf != "" {
		metrics.RecordCombinationDuplicate()
	}
	return res, fetched
}

// routable classifies a resolver error. It returns true when the item should
// still go to the gate, which is only the case for an insufficient live result.
func (w *Worker) routable(ctx context.Context, item model.WorkItem, err error, resolution resolve.Resolution, res *report.ItemResult) bool { //nolint:gocritic // hugeParam
	var insufficient *resolve.InsufficientDataError
	switch {
	case errors.As(err, &insufficient):
		if resolution.Record != nil {
			return true
		}
		res.Outcome = types.OutcomeSkippedInsufficient
		res.Source = insufficient.Source
		res.Missing = insufficient.Missing
		res.Detail = err.Error()
		return false

	case errors.Is(err, resolve.ErrClaimed):
		res.Outcome = types.OutcomeSkippedClaimed
		res.Detail = err.Error()
		return false
	}

	res.Outcome = types.OutcomeFailed
	res.Detail = err.Error()

	reason, attempts, ok := fetch.ReasonOf(err)
	switch {
	case ok:
	case errors.Is(err, resolve.ErrExtractionFailed):
		reason, attempts, ok = types.FailurePage, 1, true
	}
	if !ok {
		metrics.RecordErrorByComponent("worker", "resolve_error")
		w.logger.Error(ctx, "resolution failed", logger.String("key", item.Key), logger.Error(err))
		return false
	}

	res.Source = types.SourceTier3
	res.Failure = reason
	if ferr := w.gate.RecordFailure(ctx, item.Key, item.SourceURL, reason, err.Error(), attempts); ferr != nil {
		metrics.RecordErrorByComponent("worker", "failure_log_error")
		w.logger.Error(ctx, "failed to record fetch failure",
			logger.String("key", item.Key), logger.Error(ferr))
	}
	w.logger.Warn(ctx, "live fetch failed",
		logger.String("key", item.Key),
		logger.String("reason", string(reason)),
		logger.Int("attempts", attempts),
		logger.Error(err))
	return false
}

// Pool runs workers over one queue and merges their reports.
type Pool struct {
	workers []*Worker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing one claim set. The
// default is a single worker.
func NewPool(workerCount int, q Queue, resolver Resolver, normalizer Normalizer, gate Gate, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	claims := dedupe.NewInMemoryDeduper()
	p := &Pool{
		workers: make([]*Worker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithClaims(claims)}, opts...)
		wopts = append(wopts, WithName(fmt.Sprintf("worker-%d", i)))
		p.workers[i] = NewWorker(resolver, normalizer, gate, wopts...)
	}
	return p
}

// Run drains the queue and folds every worker's results into into. It
// returns when the queue is closed and empty or ctx is cancelled.
func (p *Pool) Run(ctx context.Context, into *report.RunReport) {
	items := p.queue.Dequeue(ctx)
	metrics.UpdateWorkerActiveCount(len(p.workers))
	defer metrics.UpdateWorkerActiveCount(0)

	for _, w := range p.workers {
		go w.Run(ctx, items)
	}
	for _, w := range p.workers {
		<-w.done
	}
	for _, w := range p.workers {
		into.Merge(w.Report())
	}
	p.logger.Info(ctx, "workers finished", into.Fields()...)
}

// Shutdown stops every worker after its current item.
func (p *Pool) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

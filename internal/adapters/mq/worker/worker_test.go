package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/bikeharvest/internal/adapters/fetch"
	queue "github.com/okian/bikeharvest/internal/adapters/mq/queue"
	worker "github.com/okian/bikeharvest/internal/adapters/mq/worker"
	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/persist"
	"github.com/okian/bikeharvest/internal/domain/report"
	"github.com/okian/bikeharvest/internal/domain/resolve"
	"github.com/okian/bikeharvest/internal/domain/types"
	logging "github.com/okian/bikeharvest/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

type resolution struct {
	res resolve.Resolution
	err error
}

type mockResolver struct {
	mu      sync.Mutex
	results map[string]resolution
	calls   map[string]int
}

func newMockResolver() *mockResolver {
	return &mockResolver{results: map[string]resolution{}, calls: map[string]int{}}
}

func (m *mockResolver) Resolve(_ context.Context, item model.WorkItem) (resolve.Resolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[item.Key]++
	if r, ok := m.results[item.Key]; ok {
		return r.res, r.err
	}
	rec := record(item.Key)
	return resolve.Resolution{Source: types.SourceTier2, Record: &rec}, nil
}

func (m *mockResolver) set(key string, res resolve.Resolution, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key] = resolution{res: res, err: err}
}

func (m *mockResolver) callCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

type mockNormalizer struct {
	err error
}

func (m *mockNormalizer) Normalize(_ context.Context, raw *model.RawRecord) (*model.CanonicalRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &model.CanonicalRecord{
		SyntheticKey: "bk_" + raw.Key,
		Make:         raw.Identity.Make,
		Model:        raw.Identity.Model,
		Year:         raw.Identity.Year,
		RawKey:       raw.Key,
	}, nil
}

type failure struct {
	reason   types.FailureReason
	attempts int
}

type mockGate struct {
	mu         sync.Mutex
	outcomes   map[string]persist.Outcome
	errs       map[string]error
	persisted  map[string]*model.CanonicalRecord
	failures   map[string]failure
	persistCnt int
}

func newMockGate() *mockGate {
	return &mockGate{
		outcomes:  map[string]persist.Outcome{},
		errs:      map[string]error{},
		persisted: map[string]*model.CanonicalRecord{},
		failures:  map[string]failure{},
	}
}

func (g *mockGate) Persist(_ context.Context, key string, _ model.RawRecord, canonical *model.CanonicalRecord) (persist.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.persistCnt++
	if err := g.errs[key]; err != nil {
		return persist.Outcome{Status: types.OutcomeFailed}, err
	}
	g.persisted[key] = canonical
	if out, ok := g.outcomes[key]; ok {
		return out, nil
	}
	return persist.Outcome{Status: types.OutcomePersisted}, nil
}

func (g *mockGate) RecordFailure(_ context.Context, key, _ string, reason types.FailureReason, _ string, attempts int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[key] = failure{reason: reason, attempts: attempts}
	return nil
}

func record(key string) model.RawRecord {
	return model.RawRecord{
		Key:      key,
		Success:  true,
		Identity: model.Identity{Make: "Trek", Model: "FX 3", Year: 2024, MakerID: "mk_trek"},
	}
}

func item(key string) model.WorkItem {
	return model.WorkItem{
		Key:       key,
		SourceURL: "https://shop.example/" + key,
		Score:     model.QualityScore{Score: 40, Priority: types.PriorityPoor},
	}
}

func TestWorker_Process(t *testing.T) {
	convey.Convey("Given a worker with mock collaborators", t, func() {
		ctx := context.Background()
		resolver := newMockResolver()
		normalizer := &mockNormalizer{}
		gate := newMockGate()
		w := worker.NewWorker(resolver, normalizer, gate)

		convey.Convey("When a stored record resolves", func() {
			rec := record("k1")
			resolver.set("k1", resolve.Resolution{Source: types.SourceTier1, Record: &rec}, nil)
			res, fetched := w.Process(ctx, item("k1"))

			convey.Convey("Then it is normalized and persisted", func() {
				convey.So(res.Outcome, convey.ShouldEqual, types.OutcomePersisted)
				convey.So(res.Source, convey.ShouldEqual, types.SourceTier1)
				convey.So(res.SyntheticKey, convey.ShouldEqual, "bk_k1")
				convey.So(res.Priority, convey.ShouldEqual, types.PriorityPoor)
				convey.So(fetched, convey.ShouldBeFalse)
				convey.So(gate.persisted["k1"], convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the same key comes twice in one run", func() {
			_, _ = w.Process(ctx, item("k1"))
			res, _ := w.Process(ctx, item("k1"))

			convey.Convey("Then the second attempt is skipped without resolving", func() {
				convey.So(res.Outcome, convey.ShouldEqual, types.OutcomeSkippedDuplicate)
				convey.So(resolver.callCount("k1"), convey.ShouldEqual, 1)
			})
		})

		convey.Convey("When nothing sufficient exists and live fetch is off", func() {
			resolver.set("k2", resolve.Resolution{}, &resolve.InsufficientDataError{
				Key: "k2", Source: types.SourceTier2, Missing: []string{"year"}, Err: resolve.ErrLiveFetchDisabled,
			})
			res, _ := w.Process(ctx, item("k2"))

			convey.Convey("Then the item is skipped as insufficient and nothing is written", func() {
				convey.So(res.Outcome, convey.ShouldEqual, types.OutcomeSkippedInsufficient)
				convey.So(res.Missing, convey.ShouldResemble, []string{"year"})
				convey.So(gate.persistCnt, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a live result is still insufficient", func() {
			rec := record("k3")
			rec.Identity.Year = 0
			resolver.set("k3", resolve.Resolution{Source: types.SourceTier3, Record: &rec},
				&resolve.InsufficientDataError{Key: "k3", Source: types.SourceTier3, Missing: []string{"year"}})
			gate.outcomes["k3"] = persist.Outcome{Status: types.OutcomeSkippedInsufficient, Missing: []string{"year"}}
			res, fetched := w.Process(ctx, item("k3"))

			convey.Convey("Then the gate decides and reports the skip", func() {
				convey.So(gate.persistCnt, convey.ShouldEqual, 1)
				convey.So(res.Outcome, convey.ShouldEqual, types.OutcomeSkippedInsufficient)
				convey.So(res.Source, convey.ShouldEqual, types.SourceTier3)
				convey.So(fetched, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When another worker holds the claim", func() {
			resolver.set("k4", resolve.Resolution{}, resolve.ErrClaimed)
			res, _ := w.Process(ctx, item("k4"))

			convey.So(res.Outcome, convey.ShouldEqual, types.OutcomeSkippedClaimed)
		})

		convey.Convey("When the live fetch fails", func() {
			ferr := &fetch.Error{Kind: types.FailureNotFound, URL: "https://shop.example/k5", Attempts: 1}
			resolver.set("k5", resolve.Resolution{}, ferr)
			res, fetched := w.Process(ctx, item("k5"))

			convey.Convey("Then the failure is recorded for the next run", func() {
				convey.So(res.Outcome, convey.ShouldEqual, types.OutcomeFailed)
				convey.So(res.Failure, convey.ShouldEqual, types.FailureNotFound)
				convey.So(fetched, convey.ShouldBeTrue)
				convey.So(gate.failures["k5"], convey.ShouldResemble, failure{reason: types.FailureNotFound, attempts: 1})
				convey.So(gate.persistCnt, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the fetched page yields no record", func() {
			resolver.set("k6", resolve.Resolution{}, fmt.Errorf("%w: k6: no product", resolve.ErrExtractionFailed))
			res, _ := w.Process(ctx, item("k6"))

			convey.So(res.Outcome, convey.ShouldEqual, types.OutcomeFailed)
			convey.So(gate.failures["k6"].reason, convey.ShouldEqual, types.FailurePage)
		})

		convey.Convey("When a store lookup fails", func() {
			resolver.set("k7", resolve.Resolution{}, errors.New("connection refused"))
			res, _ := w.Process(ctx, item("k7"))

			convey.Convey("Then the item fails without a failure log entry", func() {
				convey.So(res.Outcome, convey.ShouldEqual, types.OutcomeFailed)
				convey.So(res.Detail, convey.ShouldContainSubstring, "connection refused")
				convey.So(gate.failures, convey.ShouldNotContainKey, "k7")
			})
		})

		convey.Convey("When normalization cannot build a canonical record", func() {
			normalizer.err = errors.New("missing identity")
			_, _ = w.Process(ctx, item("k8"))

			convey.So(gate.persistCnt, convey.ShouldEqual, 1)
			convey.So(gate.persisted["k8"], convey.ShouldBeNil)
		})

		convey.Convey("When the gate rolls back", func() {
			gate.errs["k9"] = errors.New("disk full")
			res, _ := w.Process(ctx, item("k9"))

			convey.So(res.Outcome, convey.ShouldEqual, types.OutcomeFailed)
			convey.So(res.Detail, convey.ShouldContainSubstring, "disk full")
		})

		convey.Convey("When the combination is already held", func() {
			gate.outcomes["k10"] = persist.Outcome{Status: types.OutcomePersisted, CombinationDuplicateOf: "bk_other"}
			res, _ := w.Process(ctx, item("k10"))

			convey.So(res.Outcome, convey.ShouldEqual, types.OutcomePersisted)
			convey.So(res.CombinationDuplicateOf, convey.ShouldEqual, "bk_other")
		})
	})
}

func TestWorker_Run(t *testing.T) {
	convey.Convey("Given a worker reading from a channel", t, func() {
		items := make(chan queue.Item, 4)
		w := worker.NewWorker(newMockResolver(), &mockNormalizer{}, newMockGate(), worker.WithName("test-worker"))

		convey.Convey("When the channel closes", func() {
			items <- item("a")
			items <- item("b")
			close(items)
			w.Run(context.Background(), items)

			convey.Convey("Then every item is in the worker's report", func() {
				convey.So(w.Report().Attempted, convey.ShouldEqual, 2)
				convey.So(w.Report().Persisted, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When shut down while idle", func() {
			go w.Run(context.Background(), items)
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
			convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of three workers over a queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		resolver := newMockResolver()
		gate := newMockGate()
		pool := worker.NewPool(3, q, resolver, &mockNormalizer{}, gate)

		const count = 40
		for i := 0; i < count; i++ {
			convey.So(q.Put(ctx, item(fmt.Sprintf("key-%02d", i))), convey.ShouldBeNil)
		}
		// a repeated key is attempted once across all workers
		convey.So(q.Put(ctx, item("key-00")), convey.ShouldBeNil)
		convey.So(q.Close(), convey.ShouldBeNil)

		into := report.New(time.Now())
		pool.Run(ctx, into)

		convey.Convey("Then every item lands in the merged report once", func() {
			convey.So(into.Attempted, convey.ShouldEqual, count+1)
			convey.So(into.Persisted, convey.ShouldEqual, count)
			convey.So(into.SkippedDuplicate, convey.ShouldEqual, 1)
			convey.So(into.BySource[types.SourceTier2], convey.ShouldEqual, count)
			convey.So(resolver.callCount("key-00"), convey.ShouldEqual, 1)
		})

		convey.Convey("Then shutdown after the run returns immediately", func() {
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)
		})
	})
}

func TestWorkerItemDelay(t *testing.T) {
	convey.Convey("Given a worker with an item delay", t, func() {
		resolver := newMockResolver()
		w := worker.NewWorker(resolver, &mockNormalizer{}, newMockGate(), worker.WithItemDelay(time.Hour))

		convey.Convey("Stored records do not wait", func() {
			items := make(chan queue.Item, 2)
			items <- item("a")
			items <- item("b")
			close(items)

			done := make(chan struct{})
			go func() {
				w.Run(context.Background(), items)
				close(done)
			}()

			select {
			case <-done:
				convey.So(w.Report().Attempted, convey.ShouldEqual, 2)
			case <-time.After(time.Second):
				convey.So("worker waited between stored records", convey.ShouldBeEmpty)
			}
		})

		convey.Convey("Cancellation ends the wait after a live fetch", func() {
			rec := record("live")
			resolver.set("live", resolve.Resolution{Source: types.SourceTier3, Record: &rec}, nil)
			items := make(chan queue.Item, 2)
			items <- item("live")
			items <- item("next")

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			w.Run(ctx, items)

			convey.So(w.Report().Attempted, convey.ShouldEqual, 1)
		})
	})
}

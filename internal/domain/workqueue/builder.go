// Package workqueue classifies catalog entries into priority buckets and
// assembles the ordered queue for one run.
package workqueue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/scoring"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Defaults for the refresh bucket.
const (
	DefaultStalenessWindow = 7 * 24 * time.Hour
	DefaultRefreshCap      = 100
)

// Lookup is the read view over the stores. Each method returns nil and no
// error when the key is absent.
type Lookup interface {
	Comprehensive(ctx context.Context, key string) (*model.ComprehensiveRecord, error)
	Raw(ctx context.Context, key string) (*model.RawRecord, error)
	LastFailure(ctx context.Context, key string) (*model.FailureRecord, error)
}

// Decoder turns a tier-1 comprehensive record into a raw record.
type Decoder interface {
	Decode(rec *model.ComprehensiveRecord) (*model.RawRecord, error)
}

// BuildOptions tune a single build.
type BuildOptions struct {
	// Force refreshes every acceptable record regardless of age and lifts the cap.
	Force bool
	// Limit truncates the final queue when positive.
	Limit int
}

// Summary describes a build.
type Summary struct {
	CatalogEntries int                    `json:"catalog_entries"`
	DuplicateKeys  int                    `json:"duplicate_keys"`
	Buckets        map[types.Priority]int `json:"buckets"`
	Fresh          int                    `json:"fresh"`  // acceptable and not yet stale
	Capped         int                    `json:"capped"` // stale but over the refresh cap
	Truncated      int                    `json:"truncated"`
	Queued         int                    `json:"queued"`
}

// Builder assembles work queues. It holds no per-build state.
type Builder struct {
	scorer     scoring.Scorer
	decoder    Decoder
	staleness  time.Duration
	refreshCap int
	now        func() time.Time
	log        logger.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		scorer:     scoring.NewRubricScorer(),
		staleness:  DefaultStalenessWindow,
		refreshCap: DefaultRefreshCap,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Get().Named("workqueue")
	}
	return b
}

// Build returns the ordered queue: buckets 1 and 2 ascending by score,
// bucket 3 descending, stale bucket 4 oldest first and capped, bucket 5 in
// catalog order. Ties keep catalog order.
func (b *Builder) Build(ctx context.Context, catalog []model.CatalogEntry, lookup Lookup, opts BuildOptions) ([]model.WorkItem, Summary, error) {
	if lookup == nil {
		return nil, Summary{}, ErrNoLookup
	}
	sum := Summary{CatalogEntries: len(catalog), Buckets: map[types.Priority]int{}}
	buckets := map[types.Priority][]model.WorkItem{}
	seen := make(map[string]struct{}, len(catalog))

	for _, entry := range catalog {
		if _, dup := seen[entry.Key]; dup {
			sum.DuplicateKeys++
			continue
		}
		seen[entry.Key] = struct{}{}

		item, err := b.classify(ctx, entry, lookup)
		if err != nil {
			return nil, Summary{}, err
		}
		p := item.Score.Priority
		buckets[p] = append(buckets[p], item)
	}

	sortByScore(buckets[types.PriorityFailed], true)
	sortByScore(buckets[types.PriorityPoor], true)
	sortByScore(buckets[types.PriorityImprovable], false)
	buckets[types.PriorityAcceptable] = b.refreshable(buckets[types.PriorityAcceptable], opts.Force, &sum)

	var queue []model.WorkItem
	for p := types.PriorityFailed; p <= types.PriorityNeverScraped; p++ {
		sum.Buckets[p] = len(buckets[p])
		queue = append(queue, buckets[p]...)
	}
	if opts.Limit > 0 && len(queue) > opts.Limit {
		sum.Truncated = len(queue) - opts.Limit
		queue = queue[:opts.Limit]
	}
	sum.Queued = len(queue)

	b.log.Info(ctx, "work queue built",
		logger.Int("catalog", sum.CatalogEntries),
		logger.Int("queued", sum.Queued),
		logger.Int("p1", sum.Buckets[types.PriorityFailed]),
		logger.Int("p2", sum.Buckets[types.PriorityPoor]),
		logger.Int("p3", sum.Buckets[types.PriorityImprovable]),
		logger.Int("p4", sum.Buckets[types.PriorityAcceptable]),
		logger.Int("p5", sum.Buckets[types.PriorityNeverScraped]),
		logger.Int("capped", sum.Capped),
		logger.Int("duplicate_keys", sum.DuplicateKeys),
	)
	return queue, sum, nil
}

// classify scores the best existing record for entry.
func (b *Builder) classify(ctx context.Context, entry model.CatalogEntry, lookup Lookup) (model.WorkItem, error) {
	item := model.WorkItem{Key: entry.Key, SourceURL: entry.URL, Identity: entry.Identity()}

	var candidates []*model.RawRecord
	t1, err := lookup.Comprehensive(ctx, entry.Key)
	if err != nil {
		return item, fmt.Errorf("%w: tier1 %s: %w", ErrLookup, entry.Key, err)
	}
	if t1 != nil && b.decoder != nil {
		if rec, err := b.decoder.Decode(t1); err == nil && rec != nil {
			candidates = append(candidates, rec)
		} else if err != nil {
			b.log.Debug(ctx, "tier1 record not decodable", logger.String("key", entry.Key), logger.Error(err))
		}
	}
	t2, err := lookup.Raw(ctx, entry.Key)
	if err != nil {
		return item, fmt.Errorf("%w: tier2 %s: %w", ErrLookup, entry.Key, err)
	}
	if t2 != nil {
		candidates = append(candidates, t2)
	}

	var best *model.RawRecord
	var bestScore model.QualityScore
	for _, rec := range candidates {
		s := b.scorer.Score(rec)
		if best == nil || s.Score > bestScore.Score {
			best, bestScore = rec, s
		}
	}

	if best == nil {
		f, err := lookup.LastFailure(ctx, entry.Key)
		if err != nil {
			return item, fmt.Errorf("%w: failure log %s: %w", ErrLookup, entry.Key, err)
		}
		if f != nil {
			failed := model.Failed(entry.Key, entry.URL, f.Reason, f.Detail, f.FailedAt)
			best = &failed
		}
		bestScore = b.scorer.Score(best)
	}

	item.Prior = best
	item.Score = bestScore
	if best != nil && !best.ExtractedAt.IsZero() {
		at := best.ExtractedAt
		item.LastExtractedAt = &at
	}
	return item, nil
}

// refreshable keeps stale acceptable items, oldest first, up to the cap.
func (b *Builder) refreshable(items []model.WorkItem, force bool, sum *Summary) []model.WorkItem {
	if force {
		sort.SliceStable(items, func(i, j int) bool { return older(items[i], items[j]) })
		return items
	}
	cutoff := b.now().Add(-b.staleness)
	var stale []model.WorkItem
	for _, it := range items {
		if it.LastExtractedAt == nil || it.LastExtractedAt.Before(cutoff) {
			stale = append(stale, it)
		} else {
			sum.Fresh++
		}
	}
	sort.SliceStable(stale, func(i, j int) bool { return older(stale[i], stale[j]) })
	if b.refreshCap > 0 && len(stale) > b.refreshCap {
		sum.Capped = len(stale) - b.refreshCap
		stale = stale[:b.refreshCap]
	}
	return stale
}

func older(a, b model.WorkItem) bool {
	switch {
	case a.LastExtractedAt == nil:
		return b.LastExtractedAt != nil
	case b.LastExtractedAt == nil:
		return false
	}
	return a.LastExtractedAt.Before(*b.LastExtractedAt)
}

func sortByScore(items []model.WorkItem, ascending bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if ascending {
			return items[i].Score.Score < items[j].Score.Score
		}
		return items[i].Score.Score > items[j].Score.Score
	})
}

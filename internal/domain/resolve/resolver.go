// Package resolve picks the best available record for a work item, trying the
// comprehensive store, then the raw store, then a live fetch.
package resolve

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
)

// missingRecord is reported when no tier had anything for the key.
const missingRecord = "record"

// Store is the read view over tiers 1 and 2. Both methods return nil and no
// error when the key is absent.
type Store interface {
	Comprehensive(ctx context.Context, key string) (*model.ComprehensiveRecord, error)
	Raw(ctx context.Context, key string) (*model.RawRecord, error)
}

// Fetcher loads a rendered page. Errors are returned to the caller unchanged.
type Fetcher interface {
	FetchDocument(ctx context.Context, url string) (*goquery.Document, error)
}

// Extractor turns a page into a raw record.
type Extractor interface {
	Extract(ctx context.Context, key, pageURL string, doc *goquery.Document) model.RawRecord
}

// Locker claims a key for the duration of a live fetch. ok is false when
// another holder has it.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error)
}

// Resolution is the record chosen for an item and the tier it came from.
type Resolution struct {
	Source types.Source
	Record *model.RawRecord
}

// Resolver implements tiered resolution. Live fetch is on only when both a
// fetcher and an extractor are configured.
type Resolver struct {
	store     Store
	decoder   *Decoder
	fetcher   Fetcher
	extractor Extractor
	locker    Locker
	makers    normalize.MakerDirectory
	log       logger.Logger
}

// New creates a Resolver over store.
func New(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, decoder: NewDecoder()}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("resolver")
	}
	return r
}

// LiveFetch reports whether tier 3 is available.
func (r *Resolver) LiveFetch() bool {
	return r.fetcher != nil && r.extractor != nil
}

// Resolve returns the first sufficient record for item. Tier 3 results are
// returned even when insufficient, together with an *InsufficientDataError.
func (r *Resolver) Resolve(ctx context.Context, item model.WorkItem) (Resolution, error) {
	suff := normalize.Sufficiency{Makers: r.makers}
	var last types.Source
	var missing []string

	res, miss, err := r.fromComprehensive(ctx, item, suff)
	if err != nil || res.Record != nil {
		return res, err
	}
	if miss != nil {
		last, missing = types.SourceTier1, miss
	}

	res, miss, err = r.fromRaw(ctx, item, suff)
	if err != nil || res.Record != nil {
		return res, err
	}
	if miss != nil {
		last, missing = types.SourceTier2, miss
	}

	if !r.LiveFetch() {
		if missing == nil {
			missing = []string{missingRecord}
		}
		return Resolution{}, &InsufficientDataError{Key: item.Key, Source: last, Missing: missing, Err: ErrLiveFetchDisabled}
	}
	return r.live(ctx, item, suff)
}

func (r *Resolver) fromComprehensive(ctx context.Context, item model.WorkItem, suff normalize.Sufficiency) (Resolution, []string, error) {
	comp, err := r.store.Comprehensive(ctx, item.Key)
	if err != nil {
		return Resolution{}, nil, fmt.Errorf("tier1 lookup %s: %w", item.Key, err)
	}
	if comp == nil {
		return Resolution{}, nil, nil
	}
	rec, err := r.decoder.Decode(comp)
	if err != nil {
		r.log.Debug(ctx, "tier1 record not decodable",
			logger.String("key", item.Key), logger.Error(err))
		return Resolution{}, []string{missingRecord}, nil
	}
	if rec.URL == "" {
		rec.URL = item.SourceURL
	}
	rec.Identity = normalize.IdentityOf(rec)
	if miss := suff.Missing(rec.Identity); len(miss) > 0 {
		return Resolution{}, miss, nil
	}
	return Resolution{Source: types.SourceTier1, Record: rec}, nil, nil
}

func (r *Resolver) fromRaw(ctx context.Context, item model.WorkItem, suff normalize.Sufficiency) (Resolution, []string, error) {
	rec, err := r.store.Raw(ctx, item.Key)
	if err != nil {
		return Resolution{}, nil, fmt.Errorf("tier2 lookup %s: %w", item.Key, err)
	}
	if rec == nil {
		return Resolution{}, nil, nil
	}
	if !rec.Success {
		return Resolution{}, []string{missingRecord}, nil
	}
	if miss := suff.Missing(normalize.IdentityOf(rec)); len(miss) > 0 {
		return Resolution{}, miss, nil
	}
	return Resolution{Source: types.SourceTier2, Record: rec}, nil, nil
}

func (r *Resolver) live(ctx context.Context, item model.WorkItem, suff normalize.Sufficiency) (Resolution, error) {
	if r.locker != nil {
		release, ok, err := r.locker.Lock(ctx, item.Key)
		if err != nil {
			return Resolution{}, fmt.Errorf("claim %s: %w", item.Key, err)
		}
		if !ok {
			return Resolution{}, ErrClaimed
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.log.Warn(ctx, "failed to release claim",
					logger.String("key", item.Key), logger.Error(err))
			}
		}()

		// another worker may have finished while we waited
		res, _, err := r.fromRaw(ctx, item, suff)
		if err != nil || res.Record != nil {
			return res, err
		}
	}

	doc, err := r.fetcher.FetchDocument(ctx, item.SourceURL)
	if err != nil {
		return Resolution{}, err
	}
	rec := r.extractor.Extract(ctx, item.Key, item.SourceURL, doc)
	if !rec.Success {
		return Resolution{}, fmt.Errorf("%w: %s: %s", ErrExtractionFailed, item.Key, rec.FailureDetail)
	}

	// page values first, catalog fills the gaps, then derive again so a model
	// can be cut from the name once the make is known
	rec.Identity = normalize.MergeIdentity(normalize.IdentityOf(&rec), item.Identity)
	id := normalize.IdentityOf(&rec)
	if id.MakerID == "" && r.makers != nil {
		id.MakerID, _ = r.makers.Lookup(id.Make)
	}
	rec.Identity = id

	res := Resolution{Source: types.SourceTier3, Record: &rec}
	if miss := suff.Missing(id); len(miss) > 0 {
		return res, &InsufficientDataError{Key: item.Key, Source: types.SourceTier3, Missing: miss}
	}
	return res, nil
}

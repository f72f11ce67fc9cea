// Package persist is the only writer of tier-2 and canonical records. Every
// write happens inside one store transaction.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Tx is the set of writes available inside a transaction.
type Tx interface {
	RawExists(ctx context.Context, key string) (bool, error)
	InsertRaw(ctx context.Context, rec model.RawRecord) error
	// CombinationOwner returns the synthetic key already holding c, or "".
	CombinationOwner(ctx context.Context, c model.Combination) (string, error)
	UpsertCanonical(ctx context.Context, rec *model.CanonicalRecord) error
}

// Store runs fn in a transaction: committed when fn returns nil, rolled back
// otherwise.
type Store interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	RecordFailure(ctx context.Context, rec model.FailureRecord) error
}

// Outcome is the result of one Persist call.
type Outcome struct {
	Status  types.Outcome `json:"status"`
	Missing []string      `json:"missing,omitempty"`
	// CombinationDuplicateOf names another synthetic key holding the same
	// make/model/year/variant. The record is persisted regardless.
	CombinationDuplicateOf string `json:"combination_duplicate_of,omitempty"`
}

// Gate guards the write-once stores.
type Gate struct {
	store Store
	suff  normalize.Sufficiency
	now   func() time.Time
	log   logger.Logger
}

// New creates a Gate over store.
func New(store Store, opts ...Option) *Gate {
	g := &Gate{store: store, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Get().Named("persist")
	}
	return g
}

// Persist writes raw into tier 2 and upserts canonical, atomically. An
// existing tier-2 record for key is never overwritten.
func (g *Gate) Persist(ctx context.Context, key string, raw model.RawRecord, canonical *model.CanonicalRecord) (Outcome, error) {
	if g.store == nil {
		return Outcome{Status: types.OutcomeFailed}, ErrNoStore
	}
	if raw.Key == "" {
		raw.Key = key
	}
	if raw.Key != key {
		return Outcome{Status: types.OutcomeFailed}, fmt.Errorf("%w: %q != %q", ErrKeyMismatch, raw.Key, key)
	}

	var out Outcome
	err := g.store.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		exists, err := tx.RawExists(ctx, key)
		if err != nil {
			return fmt.Errorf("check tier2 %s: %w", key, err)
		}
		if exists {
			out.Status = types.OutcomeSkippedDuplicate
			return errAbort
		}

		if missing := g.suff.Missing(normalize.IdentityOf(&raw)); len(missing) > 0 {
			out.Status = types.OutcomeSkippedInsufficient
			out.Missing = missing
			return errAbort
		}

		if err := tx.InsertRaw(ctx, raw); err != nil {
			return fmt.Errorf("insert tier2 %s: %w", key, err)
		}

		if canonical != nil {
			owner, err := tx.CombinationOwner(ctx, canonical.Combination())
			if err != nil {
				return fmt.Errorf("check combination %s: %w", key, err)
			}
			if owner != "" && owner != canonical.SyntheticKey {
				out.CombinationDuplicateOf = owner
			}
			if err := tx.UpsertCanonical(ctx, canonical); err != nil {
				return fmt.Errorf("upsert canonical %s: %w", canonical.SyntheticKey, err)
			}
		}
		out.Status = types.OutcomePersisted
		return nil
	})

	switch {
	case errors.Is(err, errAbort):
		return out, nil
	case err != nil:
		g.log.Error(ctx, "persist rolled back", logger.String("key", key), logger.Error(err))
		return Outcome{Status: types.OutcomeFailed}, err
	}
	if out.CombinationDuplicateOf != "" {
		g.log.Warn(ctx, "combination already held by another key",
			logger.String("key", key),
			logger.String("synthetic_key", canonical.SyntheticKey),
			logger.String("other", out.CombinationDuplicateOf))
	}
	return out, nil
}

// RecordFailure logs a terminal fetch failure so the next build ranks the key
// as failed.
func (g *Gate) RecordFailure(ctx context.Context, key, url string, reason types.FailureReason, detail string, attempts int) error {
	if g.store == nil {
		return ErrNoStore
	}
	rec := model.FailureRecord{
		Key:      key,
		URL:      url,
		Reason:   reason,
		Detail:   detail,
		Attempts: attempts,
		FailedAt: g.now(),
	}
	if err := g.store.RecordFailure(ctx, rec); err != nil {
		return fmt.Errorf("record failure %s: %w", key, err)
	}
	return nil
}

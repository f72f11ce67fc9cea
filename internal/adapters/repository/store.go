// Package repository holds the record stores: tier-1 comprehensive records,
// tier-2 raw records, the fetch failure log and canonical records.
package repository

import (
	"context"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/persist"
)

// Store names used for metrics labels and counts.
const (
	StoreComprehensive = "tier1"
	StoreRaw           = "tier2"
	StoreFailures      = "failures"
	StoreCanonical     = "canonical"
)

// Counts is the number of records per store.
type Counts map[string]int

// Store provides every read and write the pipeline needs. Lookups return nil
// and no error when the key is absent.
type Store interface {
	Comprehensive(ctx context.Context, key string) (*model.ComprehensiveRecord, error)
	Raw(ctx context.Context, key string) (*model.RawRecord, error)
	LastFailure(ctx context.Context, key string) (*model.FailureRecord, error)
	Canonical(ctx context.Context, syntheticKey string) (*model.CanonicalRecord, error)
	// Canonicals returns every canonical record ordered by synthetic key.
	Canonicals(ctx context.Context) ([]*model.CanonicalRecord, error)

	// PutComprehensive loads a tier-1 record. Tier 1 is input to the pipeline
	// and is never written by the persistence gate.
	PutComprehensive(ctx context.Context, rec model.ComprehensiveRecord) error

	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx persist.Tx) error) error
	RecordFailure(ctx context.Context, rec model.FailureRecord) error

	Count(ctx context.Context) (Counts, error)
	Close() error
}

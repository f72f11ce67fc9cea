package workqueue

import (
	"time"

	"github.com/okian/bikeharvest/internal/domain/scoring"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithScorer sets the quality scorer.
func WithScorer(s scoring.Scorer) Option {
	return func(b *Builder) {
		b.scorer = s
	}
}

// WithDecoder sets the tier-1 decoder. Without one, tier-1 records are ignored.
func WithDecoder(d Decoder) Option {
	return func(b *Builder) {
		b.decoder = d
	}
}

// WithStalenessWindow sets how old a priority-4 record must be before it is refreshed.
func WithStalenessWindow(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.staleness = d
		}
	}
}

// WithRefreshCap bounds the refresh bucket. Zero or negative means no cap.
func WithRefreshCap(n int) Option {
	return func(b *Builder) {
		b.refreshCap = n
	}
}

// WithClock sets the time source for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		b.log = l
	}
}

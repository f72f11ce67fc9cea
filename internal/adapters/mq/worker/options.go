package worker

import (
	"time"

	"github.com/okian/bikeharvest/internal/domain/dedupe"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to a Worker.
type Option func(*Worker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClaims shares a per-run claim set between workers.
func WithClaims(d dedupe.Deduper) Option {
	return func(w *Worker) {
		if d != nil {
			w.claims = d
		}
	}
}

// WithItemDelay sets the fixed pause after every item that reached the live
// fetch tier.
func WithItemDelay(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.delay = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

package fetch

import (
	"context"
	"time"

	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the Fetcher.
type Option func(*Fetcher)

// WithBaseTimeout sets the first navigation timeout.
func WithBaseTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.baseTimeout = d
		}
	}
}

// WithExtendedTimeout sets the timeout of the single retry after a timeout.
func WithExtendedTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.extendedTimeout = d
		}
	}
}

// WithSettleDelay sets the wait after load. The same delay is added on the
// timeout retry and before the empty-page recheck.
func WithSettleDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		if d >= 0 {
			f.settle = d
		}
	}
}

// WithMinTextLength sets the shortest visible text a real page may have.
func WithMinTextLength(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.minText = n
		}
	}
}

// WithSleep replaces the context-aware sleep used for settle waits.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Fetcher) {
		f.log = l
	}
}

// RodOption configures a RodNavigator.
type RodOption func(*RodNavigator)

// WithBrowserBin sets the browser binary. Empty lets the launcher pick or
// download one.
func WithBrowserBin(bin string) RodOption {
	return func(n *RodNavigator) {
		n.bin = bin
	}
}

// WithHeadless toggles headless mode.
func WithHeadless(headless bool) RodOption {
	return func(n *RodNavigator) {
		n.headless = headless
	}
}

// WithRodLogger sets the navigator logger.
func WithRodLogger(l logger.Logger) RodOption {
	return func(n *RodNavigator) {
		n.log = l
	}
}

// RetryOption configures a Retrying fetcher.
type RetryOption func(*Retrying)

// WithRetrySleep replaces the backoff sleep.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *Retrying) {
		r.policy.Sleep = sleep
	}
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l logger.Logger) RetryOption {
	return func(r *Retrying) {
		r.log = l
	}
}

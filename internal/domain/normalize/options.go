package normalize

import (
	"time"

	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the Normalizer.
type Option func(*Normalizer)

// WithDefaultCurrency sets the ISO code used for prices without a symbol.
func WithDefaultCurrency(code string) Option {
	return func(n *Normalizer) {
		if code != "" {
			n.currency = code
		}
	}
}

// WithMakers lets the normalizer fill a missing maker id by manufacturer name.
func WithMakers(d MakerDirectory) Option {
	return func(n *Normalizer) {
		n.makers = d
	}
}

// WithRegistry replaces the field alias registry.
func WithRegistry(r Registry) Option {
	return func(n *Normalizer) {
		n.registry = r
	}
}

// WithClock sets the time source for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(n *Normalizer) {
		n.log = l
	}
}

package resolve

import (
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithLiveFetch enables tier 3 using fetcher and extractor.
func WithLiveFetch(fetcher Fetcher, extractor Extractor) Option {
	return func(r *Resolver) {
		r.fetcher = fetcher
		r.extractor = extractor
	}
}

// WithLocker serializes live fetches of the same key across workers.
func WithLocker(l Locker) Option {
	return func(r *Resolver) {
		r.locker = l
	}
}

// WithMakers sets the maker directory used for sufficiency and id lookup.
func WithMakers(d normalize.MakerDirectory) Option {
	return func(r *Resolver) {
		r.makers = d
	}
}

// WithDecoder replaces the tier-1 decoder.
func WithDecoder(d *Decoder) Option {
	return func(r *Resolver) {
		r.decoder = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		r.log = l
	}
}

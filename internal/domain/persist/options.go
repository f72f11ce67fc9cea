package persist

import (
	"time"

	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the Gate.
type Option func(*Gate)

// WithMakers sets the directory the sufficiency check resolves maker ids against.
func WithMakers(d normalize.MakerDirectory) Option {
	return func(g *Gate) {
		g.suff = normalize.Sufficiency{Makers: d}
	}
}

// WithClock sets the time source for failure records.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		g.log = l
	}
}

package export

import (
	"time"

	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the Exporter.
type Option func(*Exporter)

// WithThreshold sets the largest item count written as a single file.
func WithThreshold(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithChunkSize sets the items per chunk above the threshold.
func WithChunkSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithEmergencyChunkSize sets the items per part when a chunk is re-split.
func WithEmergencyChunkSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.emergencySize = n
		}
	}
}

// WithParallelism bounds concurrent chunk writes.
func WithParallelism(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithMaxFileBytes bounds a single serialized file. Zero disables the bound.
func WithMaxFileBytes(n int) Option {
	return func(e *Exporter) {
		if n >= 0 {
			e.maxBytes = n
		}
	}
}

// WithWriter replaces the file writer.
func WithWriter(w Writer) Option {
	return func(e *Exporter) {
		if w != nil {
			e.writer = w
		}
	}
}

// WithClock sets the time source for file timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Exporter) {
		e.log = l
	}
}

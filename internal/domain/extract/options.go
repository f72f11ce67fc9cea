package extract

import (
	"time"

	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the Extractor.
type Option func(*Extractor)

// WithMinImageSize drops images whose declared width or height is below the limits.
func WithMinImageSize(width, height int) Option {
	return func(e *Extractor) {
		e.minImageWidth = width
		e.minImageHeight = height
	}
}

// WithShrinkBounds bounds the progressive-shrink parse: candidates shorter
// than minLength are not tried and at most maxAttempts prefixes are parsed.
func WithShrinkBounds(minLength, maxAttempts int) Option {
	return func(e *Extractor) {
		if minLength > 0 {
			e.minShrinkLength = minLength
		}
		if maxAttempts > 0 {
			e.maxShrinkAttempts = maxAttempts
		}
	}
}

// WithMaxDecodeDepth bounds how many layers of string-encoded JSON are decoded.
func WithMaxDecodeDepth(depth int) Option {
	return func(e *Extractor) {
		if depth >= 0 {
			e.maxDecodeDepth = depth
		}
	}
}

// WithClock sets the time source for ExtractedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Extractor) {
		e.log = l
	}
}

package audit

import (
	"github.com/okian/bikeharvest/internal/domain/workqueue"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Option configures an Auditor.
type Option func(*Auditor)

// WithDecoder sets the tier-1 decoder.
func WithDecoder(d workqueue.Decoder) Option {
	return func(a *Auditor) {
		if d != nil {
			a.decoder = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Auditor) { a.log = l }
}

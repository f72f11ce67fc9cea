package service

import (
	"time"

	"github.com/okian/bikeharvest/internal/adapters/catalog"
	"github.com/okian/bikeharvest/internal/adapters/export"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/resolve"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithCatalog sets the catalog source read at the start of every run.
func WithCatalog(src catalog.Source) Option {
	return func(s *Service) {
		s.catalog = src
	}
}

// WithLiveFetch enables tier 3. Both halves are required.
func WithLiveFetch(fetcher resolve.Fetcher, extractor resolve.Extractor) Option {
	return func(s *Service) {
		s.fetcher = fetcher
		s.extractor = extractor
	}
}

// WithLocker sets the claim lock taken around live fetches.
func WithLocker(l resolve.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithMakers sets the maker directory used for sufficiency and normalization.
func WithMakers(d normalize.MakerDirectory) Option {
	return func(s *Service) {
		s.makers = d
	}
}

// WithExporter replaces the default exporter.
func WithExporter(e *export.Exporter, base string) Option {
	return func(s *Service) {
		if e != nil {
			s.exporter = e
		}
		if base != "" {
			s.exportBase = base
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the work queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithItemDelay sets the pause after each item that reached the network.
func WithItemDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.itemDelay = d
		}
	}
}

// WithRefreshPolicy sets the staleness window and cap of the refresh bucket.
func WithRefreshPolicy(staleness time.Duration, refreshCap int) Option {
	return func(s *Service) {
		if staleness > 0 {
			s.staleness = staleness
		}
		if refreshCap >= 0 {
			s.refreshCap = refreshCap
		}
	}
}

// WithDefaultCurrency sets the currency assumed for bare price strings.
func WithDefaultCurrency(code string) Option {
	return func(s *Service) {
		if code != "" {
			s.currency = code
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

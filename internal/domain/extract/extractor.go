// Package extract turns a rendered product page into a raw record, preferring
// embedded structured data and falling back to DOM scraping.
package extract

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/normalize"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
)

// Default extraction bounds.
const (
	defaultMinImageWidth     = 200
	defaultMinImageHeight    = 200
	defaultMinShrinkLength   = 16
	defaultMaxShrinkAttempts = 64
	defaultMaxDecodeDepth    = 3
	maxSearchDepth           = 12
)

// Extractor builds raw records from rendered documents. It is safe for
// concurrent use.
type Extractor struct {
	minImageWidth     int
	minImageHeight    int
	minShrinkLength   int
	maxShrinkAttempts int
	maxDecodeDepth    int
	policy            *bluemonday.Policy
	now               func() time.Time
	log               logger.Logger
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		minImageWidth:     defaultMinImageWidth,
		minImageHeight:    defaultMinImageHeight,
		minShrinkLength:   defaultMinShrinkLength,
		maxShrinkAttempts: defaultMaxShrinkAttempts,
		maxDecodeDepth:    defaultMaxDecodeDepth,
		policy:            bluemonday.StrictPolicy(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("extract")
	}
	return e
}

// Extract reads doc. Missing optional fields never fail extraction; a nil
// document yields a failed record with FailurePage.
func (e *Extractor) Extract(ctx context.Context, key, pageURL string, doc *goquery.Document) model.RawRecord {
	at := e.now().UTC()
	if doc == nil {
		return model.Failed(key, pageURL, types.FailurePage, "no rendered document", at)
	}

	rec := model.RawRecord{
		Key:         key,
		URL:         pageURL,
		Source:      types.SourceTier3,
		ExtractedAt: at,
		Success:     true,
	}

	payload, diag := e.scanStructured(doc)
	rec.Diagnostics = diag
	if payload != nil {
		rec.Payload = *payload
	} else {
		rec.Payload = e.scrapeDom(doc, pageURL)
	}

	fields := normalize.Reconcile(&rec)
	rec.Stats = fields.Stats()
	rec.Diagnostics.Geometry, rec.Diagnostics.GeometryImage = e.diagnoseGeometry(doc, pageURL, rec.Stats)

	e.log.Debug(ctx, "extracted page",
		logger.String("key", key),
		logger.String("payload", string(rec.Payload.Kind())),
		logger.Int("specs", rec.Stats.Specs),
		logger.Int("geometry_sizes", rec.Stats.GeometrySizes),
		logger.String("geometry", string(rec.Diagnostics.Geometry)),
	)
	return rec
}

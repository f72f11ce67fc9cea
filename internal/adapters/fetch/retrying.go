package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/okian/bikeharvest/internal/retry"
	"github.com/okian/bikeharvest/pkg/logger"
	"github.com/okian/bikeharvest/pkg/metrics"
)

// Doer is anything that fetches a page.
type Doer interface {
	Fetch(ctx context.Context, url string) (Result, error)
}

// Retrying retries retryable fetch failures a fixed number of times with a
// fixed backoff. The final error carries the number of attempts.
type Retrying struct {
	next   Doer
	policy retry.Policy
	log    logger.Logger
}

// NewRetrying wraps next.
func NewRetrying(next Doer, attempts int, backoff time.Duration, opts ...RetryOption) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	r := &Retrying{next: next, policy: retry.Policy{Attempts: attempts, Backoff: backoff}}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("fetch_retry")
	}
	return r
}

// Fetch implements Doer.
func (r *Retrying) Fetch(ctx context.Context, url string) (Result, error) {
	var res Result
	out := retry.Do(ctx, r.policy, Retryable, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			metrics.RecordFetchRetry()
			r.log.Debug(ctx, "retrying fetch", logger.String("url", url), logger.Int("attempt", attempt))
		}
		var err error
		res, err = r.next.Fetch(ctx, url)
		return err
	})
	if out.Err != nil {
		var fe *Error
		if errors.As(out.Err, &fe) {
			fe.Attempts = out.Attempts
		}
		return Result{}, out.Err
	}
	return res, nil
}

// FetchDocument is Fetch reduced to the parsed document.
func (r *Retrying) FetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	res, err := r.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

// Package fetch loads rendered product pages through a browser and
// classifies every failure into a small closed set of kinds.
package fetch

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
	"github.com/okian/bikeharvest/pkg/metrics"
)

// Defaults for the navigation policy.
const (
	DefaultBaseTimeout     = 30 * time.Second
	DefaultExtendedTimeout = 60 * time.Second
	DefaultSettleDelay     = 2 * time.Second
	DefaultMinTextLength   = 200
)

var (
	notFoundTitle = []string{"not found", "404"}
	notFoundBody  = []string{
		"page not found",
		"page could not be found",
		"page you requested could not be found",
		"page you are looking for does not exist",
		"this page does not exist",
		"this page doesn't exist",
	}
	// Only trusted in the main heading; product pages use it for sizes.
	notFoundHeading  = []string{"no longer available"}
	errorPagePhrases = []string{
		"something went wrong",
		"internal server error",
		"service unavailable",
		"an error occurred",
		"error occurred while processing",
		"bad gateway",
		"access denied",
	}
	errorPageBody = []string{
		"internal server error",
		"service unavailable",
		"bad gateway",
		"error occurred while processing your request",
	}
)

// Result is a successfully rendered page.
type Result struct {
	Status        int
	FinalURL      string
	Title         string
	ContentLength int
	HTML          string
	Document      *goquery.Document
}

// Fetcher renders pages through a Navigator.
type Fetcher struct {
	nav             Navigator
	baseTimeout     time.Duration
	extendedTimeout time.Duration
	settle          time.Duration
	minText         int
	sleep           func(ctx context.Context, d time.Duration) error
	log             logger.Logger
}

// New creates a Fetcher over nav.
func New(nav Navigator, opts ...Option) *Fetcher {
	f := &Fetcher{
		nav:             nav,
		baseTimeout:     DefaultBaseTimeout,
		extendedTimeout: DefaultExtendedTimeout,
		settle:          DefaultSettleDelay,
		minText:         DefaultMinTextLength,
		sleep:           sleep,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger.Get().Named("fetcher")
	}
	return f
}

// Fetch navigates to url and classifies the outcome. Every error is an *Error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Result, error) {
	if f.nav == nil {
		return Result{}, ErrNoNavigator
	}
	start := time.Now()
	res, err := f.fetch(ctx, url)
	metrics.RecordFetchLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			metrics.RecordFetchError(string(fe.Kind))
		}
		f.log.Debug(ctx, "fetch failed",
			logger.String("url", url),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return Result{}, err
	}
	return res, nil
}

// FetchDocument is Fetch reduced to the parsed document.
func (f *Fetcher) FetchDocument(ctx context.Context, url string) (*goquery.Document, error) {
	res, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return res.Document, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (Result, error) {
	page, err := f.nav.Navigate(ctx, url, NavigateOptions{Timeout: f.baseTimeout, Settle: f.settle})
	if err != nil && isTimeout(err) && ctx.Err() == nil {
		f.log.Warn(ctx, "navigation timed out, retrying with extended timeout",
			logger.String("url", url),
			logger.Duration("timeout", f.extendedTimeout))
		page, err = f.nav.Navigate(ctx, url, NavigateOptions{Timeout: f.extendedTimeout, Settle: 2 * f.settle})
		if err != nil && isTimeout(err) {
			return Result{}, newError(types.FailureTimeout, url, 0, err)
		}
	}
	if err != nil {
		if isTimeout(err) {
			return Result{}, newError(types.FailureTimeout, url, 0, err)
		}
		return Result{}, newError(types.FailureNetwork, url, 0, err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			f.log.Debug(ctx, "failed to close page", logger.String("url", url), logger.Error(cerr))
		}
	}()
	return f.classify(ctx, url, page)
}

func (f *Fetcher) classify(ctx context.Context, url string, page Page) (Result, error) {
	res := Result{Status: page.Status(), FinalURL: page.URL(), Title: page.Title()}
	if res.FinalURL == "" {
		res.FinalURL = url
	}
	if res.Status >= 400 {
		return Result{}, newError(types.FailureHTTP, url, res.Status, nil)
	}

	doc, html, err := f.render(page)
	if err != nil {
		return Result{}, newError(types.FailureNetwork, url, res.Status, err)
	}
	title := strings.ToLower(res.Title)
	heading := strings.ToLower(strings.TrimSpace(doc.Find("h1").First().Text()))
	body := strings.ToLower(visibleText(doc))

	switch {
	case containsAny(title, notFoundTitle...) || containsAny(heading, notFoundTitle...) ||
		containsAny(heading, notFoundHeading...) || containsAny(body, notFoundBody...):
		return Result{}, newError(types.FailureNotFound, url, res.Status, nil)
	case containsAny(title, errorPagePhrases...) || containsAny(heading, errorPagePhrases...) ||
		containsAny(body, errorPageBody...):
		return Result{}, newError(types.FailurePage, url, res.Status, nil)
	}

	n, err := page.TextLength()
	if err != nil {
		return Result{}, newError(types.FailureNetwork, url, res.Status, err)
	}
	if n < f.minText {
		if err := f.sleep(ctx, f.settle); err != nil {
			return Result{}, newError(types.FailureNetwork, url, res.Status, err)
		}
		if n, err = page.TextLength(); err != nil {
			return Result{}, newError(types.FailureNetwork, url, res.Status, err)
		}
		if n < f.minText {
			return Result{}, newError(types.FailureEmpty, url, res.Status, nil)
		}
		// late rendering, take the document again
		if doc, html, err = f.render(page); err != nil {
			return Result{}, newError(types.FailureNetwork, url, res.Status, err)
		}
	}

	res.HTML = html
	res.ContentLength = len(html)
	res.Document = doc
	return res, nil
}

func (f *Fetcher) render(page Page) (*goquery.Document, string, error) {
	html, err := page.HTML()
	if err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", err
	}
	return doc, html, nil
}

// visibleText is the body text without script, style and noscript content.
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func containsAny(s string, phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fakePage struct {
	status  int
	url     string
	title   string
	html    string
	lengths []int // successive TextLength answers, the last one repeats
	reads   int
	closed  bool
}

func (p *fakePage) Status() int           { return p.status }
func (p *fakePage) URL() string           { return p.url }
func (p *fakePage) Title() string         { return p.title }
func (p *fakePage) HTML() (string, error) { return p.html, nil }

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

func (p *fakePage) TextLength() (int, error) {
	i := p.reads
	if i >= len(p.lengths) {
		i = len(p.lengths) - 1
	}
	p.reads++
	return p.lengths[i], nil
}

type navigation struct {
	page *fakePage
	err  error
}

type fakeNavigator struct {
	steps []navigation
	calls []NavigateOptions
}

func (n *fakeNavigator) Navigate(_ context.Context, _ string, opts NavigateOptions) (Page, error) {
	n.calls = append(n.calls, opts)
	step := n.steps[len(n.calls)-1]
	if step.err != nil {
		return nil, step.err
	}
	return step.page, nil
}

func productPage() *fakePage {
	body := strings.Repeat("Aluminium frame, Shimano drivetrain. ", 10)
	return &fakePage{
		status:  200,
		url:     "https://shop.example/bikes/fx-3",
		title:   "Trek FX 3 | Shop",
		html:    "<html><head><title>Trek FX 3</title></head><body><h1>FX 3</h1><p>" + body + "</p></body></html>",
		lengths: []int{len(body)},
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestFetcher(nav Navigator) *Fetcher {
	return New(nav,
		WithBaseTimeout(time.Second),
		WithExtendedTimeout(3*time.Second),
		WithSettleDelay(100*time.Millisecond),
		WithMinTextLength(50),
		WithSleep(noSleep),
	)
}

func TestFetcher_Fetch(t *testing.T) {
	ctx := context.Background()
	url := "https://shop.example/bikes/fx-3"

	Convey("Given a fetcher over a fake browser", t, func() {
		Convey("A rendered product page is returned with its document", func() {
			page := productPage()
			nav := &fakeNavigator{steps: []navigation{{page: page}}}
			res, err := newTestFetcher(nav).Fetch(ctx, url)

			So(err, ShouldBeNil)
			So(res.Status, ShouldEqual, 200)
			So(res.Title, ShouldEqual, "Trek FX 3 | Shop")
			So(res.FinalURL, ShouldEqual, "https://shop.example/bikes/fx-3")
			So(res.ContentLength, ShouldEqual, len(page.html))
			So(res.Document.Find("h1").Text(), ShouldEqual, "FX 3")
			So(page.closed, ShouldBeTrue)
			So(nav.calls[0].Timeout, ShouldEqual, time.Second)
		})

		Convey("A first timeout is retried once with the extended timeout and extra settle", func() {
			nav := &fakeNavigator{steps: []navigation{
				{err: fmt.Errorf("navigate: %w", context.DeadlineExceeded)},
				{page: productPage()},
			}}
			_, err := newTestFetcher(nav).Fetch(ctx, url)

			So(err, ShouldBeNil)
			So(nav.calls, ShouldHaveLength, 2)
			So(nav.calls[1].Timeout, ShouldEqual, 3*time.Second)
			So(nav.calls[1].Settle, ShouldEqual, 200*time.Millisecond)
		})

		Convey("A second timeout is a timeout error", func() {
			nav := &fakeNavigator{steps: []navigation{
				{err: context.DeadlineExceeded},
				{err: context.DeadlineExceeded},
			}}
			_, err := newTestFetcher(nav).Fetch(ctx, url)

			So(errors.Is(err, ErrTimeout), ShouldBeTrue)
			So(Retryable(err), ShouldBeTrue)
			kind, _, ok := ReasonOf(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, types.FailureTimeout)
		})

		Convey("A transport failure is a network error", func() {
			nav := &fakeNavigator{steps: []navigation{{err: errors.New("net::ERR_CONNECTION_RESET")}}}
			_, err := newTestFetcher(nav).Fetch(ctx, url)

			So(errors.Is(err, ErrNetwork), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "ERR_CONNECTION_RESET")
			So(nav.calls, ShouldHaveLength, 1)
		})

		Convey("Status codes of 400 and above are http errors", func() {
			page := productPage()
			page.status = 503
			_, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			var fe *Error
			So(errors.As(err, &fe), ShouldBeTrue)
			So(fe.Kind, ShouldEqual, types.FailureHTTP)
			So(fe.Status, ShouldEqual, 503)
			So(Retryable(err), ShouldBeTrue)
		})

		Convey("A 404 title is not found even with a 200 status", func() {
			page := productPage()
			page.title = "404 | Shop"
			_, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			So(Retryable(err), ShouldBeFalse)
		})

		Convey("A not-found body phrase is not found", func() {
			page := productPage()
			page.html = "<html><body><p>Sorry, the page you requested could not be found.</p></body></html>"
			_, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("A sold-out size note on a product page is not a missing page", func() {
			page := productPage()
			page.html = strings.Replace(page.html, "</p>", "</p><p>Size XL is no longer available.</p>", 1)
			res, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(err, ShouldBeNil)
			So(res.Document, ShouldNotBeNil)
		})

		Convey("Not-found strings inside scripts are ignored", func() {
			page := productPage()
			page.html = strings.Replace(page.html, "</body>",
				`<script id="__NEXT_DATA__" type="application/json">{"i18n":{"notFound":"Page not found","error":"Internal server error"}}</script></body>`, 1)
			_, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(err, ShouldBeNil)
		})

		Convey("A no-longer-available heading is not found", func() {
			page := productPage()
			page.html = "<html><body><h1>This bike is no longer available</h1></body></html>"
			_, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("A generic error in the visible body is a page error", func() {
			page := productPage()
			page.html = "<html><body><h1>Oops</h1><p>503 Service Unavailable. Please retry later.</p></body></html>"
			_, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(errors.Is(err, ErrPage), ShouldBeTrue)
		})

		Convey("A generic error title is a page error", func() {
			page := productPage()
			page.title = "Something went wrong"
			_, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(errors.Is(err, ErrPage), ShouldBeTrue)
		})

		Convey("Short text that stays short after the settle wait is an empty page", func() {
			page := productPage()
			page.lengths = []int{3, 10}
			_, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(errors.Is(err, ErrEmptyPage), ShouldBeTrue)
			So(page.reads, ShouldEqual, 2)
		})

		Convey("Text that renders late is accepted", func() {
			page := productPage()
			page.lengths = []int{0, 400}
			res, err := newTestFetcher(&fakeNavigator{steps: []navigation{{page: page}}}).Fetch(ctx, url)

			So(err, ShouldBeNil)
			So(res.Document, ShouldNotBeNil)
		})

		Convey("Without a navigator nothing is fetched", func() {
			_, err := New(nil).Fetch(ctx, url)
			So(err, ShouldEqual, ErrNoNavigator)
		})
	})
}

type scriptedDoer struct {
	errs  []error
	calls int
}

func (d *scriptedDoer) Fetch(context.Context, string) (Result, error) {
	d.calls++
	if d.calls <= len(d.errs) {
		return Result{}, d.errs[d.calls-1]
	}
	return Result{Status: 200}, nil
}

func TestRetrying(t *testing.T) {
	ctx := context.Background()

	Convey("Given a retrying fetcher with three attempts", t, func() {
		var slept []time.Duration
		sleepRec := func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}

		Convey("Retryable failures are retried until success", func() {
			doer := &scriptedDoer{errs: []error{
				newError(types.FailureNetwork, "u", 0, nil),
				newError(types.FailureHTTP, "u", 502, nil),
			}}
			res, err := NewRetrying(doer, 3, time.Second, WithRetrySleep(sleepRec)).Fetch(ctx, "u")

			So(err, ShouldBeNil)
			So(res.Status, ShouldEqual, 200)
			So(doer.calls, ShouldEqual, 3)
			So(slept, ShouldResemble, []time.Duration{time.Second, time.Second})
		})

		Convey("Not found stops immediately", func() {
			doer := &scriptedDoer{errs: []error{newError(types.FailureNotFound, "u", 0, nil)}}
			_, err := NewRetrying(doer, 3, time.Second, WithRetrySleep(sleepRec)).Fetch(ctx, "u")

			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			So(doer.calls, ShouldEqual, 1)
			_, attempts, _ := ReasonOf(err)
			So(attempts, ShouldEqual, 1)
		})

		Convey("Client errors other than 429 are not retried", func() {
			doer := &scriptedDoer{errs: []error{newError(types.FailureHTTP, "u", 403, nil)}}
			_, err := NewRetrying(doer, 3, time.Second, WithRetrySleep(sleepRec)).Fetch(ctx, "u")

			So(errors.Is(err, ErrHTTP), ShouldBeTrue)
			So(doer.calls, ShouldEqual, 1)
		})

		Convey("Exhausted attempts return the last error with the attempt count", func() {
			fail := newError(types.FailureEmpty, "u", 200, nil)
			doer := &scriptedDoer{errs: []error{fail, fail, fail}}
			_, err := NewRetrying(doer, 3, time.Second, WithRetrySleep(sleepRec)).Fetch(ctx, "u")

			So(errors.Is(err, ErrEmptyPage), ShouldBeTrue)
			_, attempts, _ := ReasonOf(err)
			So(attempts, ShouldEqual, 3)
		})
	})
}

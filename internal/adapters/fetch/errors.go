package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/bikeharvest/internal/domain/types"
)

// Sentinels matched by *Error through errors.Is.
var (
	ErrNotFound  = errors.New("page not found")
	ErrHTTP      = errors.New("http error status")
	ErrPage      = errors.New("error page")
	ErrEmptyPage = errors.New("empty page")
	ErrNetwork   = errors.New("network failure")
	ErrTimeout   = errors.New("navigation timeout")

	// ErrNoNavigator is returned when the fetcher has no browser.
	ErrNoNavigator = errors.New("fetch: no navigator configured")
)

var sentinels = map[types.FailureReason]error{
	types.FailureNotFound: ErrNotFound,
	types.FailureHTTP:     ErrHTTP,
	types.FailurePage:     ErrPage,
	types.FailureEmpty:    ErrEmptyPage,
	types.FailureNetwork:  ErrNetwork,
	types.FailureTimeout:  ErrTimeout,
}

// Error is a classified fetch failure.
type Error struct {
	Kind     types.FailureReason
	Status   int
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	if e.Status > 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the sentinel for the error's reason.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case types.FailureNetwork, types.FailureTimeout, types.FailurePage, types.FailureEmpty:
		return true
	case types.FailureHTTP:
		return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
	default:
		return false
	}
}

// Retryable reports whether err is a fetch failure worth another attempt.
// Cancellation of the caller's context never is.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// ReasonOf extracts the failure reason and attempt count from err.
func ReasonOf(err error) (types.FailureReason, int, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, fe.Attempts, true
	}
	return types.FailureNone, 0, false
}

func newError(reason types.FailureReason, url string, status int, err error) *Error {
	return &Error{Kind: reason, URL: url, Status: status, Err: err}
}

package fetch

import (
	"context"
	"time"
)

// NavigateOptions tune one navigation.
type NavigateOptions struct {
	Timeout time.Duration // bound on navigation and load
	Settle  time.Duration // wait after load for client-side rendering
}

// Page is a rendered page. It must be closed.
type Page interface {
	Status() int // document response status, 0 if unknown
	URL() string
	Title() string
	HTML() (string, error)
	TextLength() (int, error) // length of the visible text
	Close() error
}

// Navigator opens pages in a browser session.
type Navigator interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) (Page, error)
}

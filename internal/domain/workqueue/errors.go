package workqueue

import "errors"

var (
	// ErrNoLookup is returned when Build is called without a store view.
	ErrNoLookup = errors.New("workqueue: nil lookup")
	// ErrLookup wraps store read failures during a build.
	ErrLookup = errors.New("workqueue: store lookup failed")
)

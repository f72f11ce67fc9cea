package catalog

import "errors"

var (
	// ErrNoSource is returned when Load is called without a source.
	ErrNoSource = errors.New("catalog: no source configured")
	// ErrFormat is returned when a catalog file is neither a JSON array nor JSON lines.
	ErrFormat = errors.New("catalog: unrecognized format")
)

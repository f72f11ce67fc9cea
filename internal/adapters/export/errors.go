package export

import "errors"

var (
	// ErrTooLarge is returned when one file would exceed the size bound.
	ErrTooLarge = errors.New("export file exceeds size bound")
	// ErrChunkFailed wraps the final error of a chunk that could not be written
	// even after the emergency split.
	ErrChunkFailed = errors.New("export chunk failed")
)

package normalize

import "errors"

var (
	// ErrMissingIdentity is returned when make, model or year cannot be found.
	ErrMissingIdentity = errors.New("record is missing mandatory identity fields")
	// ErrNilRecord is returned when Normalize is called without a record.
	ErrNilRecord = errors.New("nil raw record")
	// ErrNoAmount is returned when a money string carries no number.
	ErrNoAmount = errors.New("no monetary amount found")
	// ErrAmountRange is returned when an amount does not fit in minor units.
	ErrAmountRange = errors.New("monetary amount out of range")
)

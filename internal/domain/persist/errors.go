package persist

import "errors"

var (
	// ErrNoStore is returned when the gate has no store.
	ErrNoStore = errors.New("persist: no store configured")
	// ErrKeyMismatch is returned when the record key differs from the gate key.
	ErrKeyMismatch = errors.New("persist: record key does not match")

	// errAbort rolls back a transaction that ended in a skip.
	errAbort = errors.New("persist: aborted")
)

package audit

import "errors"

// ErrNoStore is returned when Run is called without a store.
var ErrNoStore = errors.New("audit: no record store")

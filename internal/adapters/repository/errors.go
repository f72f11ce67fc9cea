package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrClosed         = errors.New("store closed")
	ErrEmptyKey       = errors.New("record key is empty")
	ErrSnapshot       = errors.New("store snapshot")
	ErrUnknownDriver  = errors.New("unknown store driver")
	ErrMissingDSN     = errors.New("postgres dsn is empty")
	ErrMigrationsFail = errors.New("store migrations failed")
)

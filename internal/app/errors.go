package service

import "errors"

// Sentinel errors returned by Run. Each one is a setup failure: item level
// problems end up in the report instead.
var (
	ErrNoStore       = errors.New("no record store configured")
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrCatalog       = errors.New("catalog unavailable")
	ErrBuildQueue    = errors.New("work queue build failed")
)

// Setup failures reported by Bootstrap.
var (
	ErrStore   = errors.New("record store unavailable")
	ErrLock    = errors.New("claim lock unavailable")
	ErrBrowser = errors.New("browser unavailable")
)

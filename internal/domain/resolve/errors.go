package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/bikeharvest/internal/domain/types"
)

var (
	// ErrInsufficientData matches every *InsufficientDataError.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrLiveFetchDisabled is wrapped when only the live tier could have helped.
	ErrLiveFetchDisabled = errors.New("live fetch disabled")
	// ErrClaimed is returned when another worker holds the key's live-fetch claim.
	ErrClaimed = errors.New("key claimed by another worker")
	// ErrExtractionFailed is returned when a fetched page produced no record.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrUndecodable is returned when a tier-1 payload is not JSON.
	ErrUndecodable = errors.New("tier1 payload not decodable")
	// ErrNoProduct is returned when no known path yields a product object.
	ErrNoProduct = errors.New("tier1 payload has no product object")
)

// InsufficientDataError is a routing signal: the best record found does not
// clear the sufficiency bar.
type InsufficientDataError struct {
	Key     string
	Source  types.Source // last tier tried, empty when nothing was found
	Missing []string
	Err     error // optional cause, e.g. ErrLiveFetchDisabled
}

func (e *InsufficientDataError) Error() string {
	msg := fmt.Sprintf("insufficient data for %s", e.Key)
	if e.Source != "" {
		msg += " from " + string(e.Source)
	}
	if len(e.Missing) > 0 {
		msg += ": missing " + strings.Join(e.Missing, ",")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// Unwrap returns the optional cause.
func (e *InsufficientDataError) Unwrap() error {
	return e.Err
}

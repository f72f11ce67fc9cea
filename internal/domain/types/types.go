// Package types contains the small enumerations shared across the pipeline.
package types

import (
	"fmt"
	"strconv"
)

// Source identifies which tier produced a resolved record.
type Source string

// Resolution tiers, in the order they are tried.
const (
	SourceTier1 Source = "tier1" // prior comprehensive extraction
	SourceTier2 Source = "tier2" // raw extraction cache
	SourceTier3 Source = "tier3" // live fetch
)

func (s Source) String() string { return string(s) }

// Priority is the re-work priority assigned by the quality scorer. Lower runs first.
type Priority int

// Priority tiers.
const (
	PriorityFailed       Priority = 1 // score 0 or extraction failed
	PriorityPoor         Priority = 2 // score below 40
	PriorityImprovable   Priority = 3 // middling score or too many issues
	PriorityAcceptable   Priority = 4 // only refreshed when stale
	PriorityNeverScraped Priority = 5 // no record at all
)

// Valid reports whether p is one of the five defined tiers.
func (p Priority) Valid() bool { return p >= PriorityFailed && p <= PriorityNeverScraped }

func (p Priority) String() string { return strconv.Itoa(int(p)) }

// Outcome is the terminal state of one work item within a run.
type Outcome string

// Work item outcomes. Only OutcomePersisted writes data; the skip outcomes are
// normal control flow and are reported separately from failures.
const (
	OutcomePersisted           Outcome = "persisted"
	OutcomeSkippedDuplicate    Outcome = "skipped_duplicate"
	OutcomeSkippedInsufficient Outcome = "skipped_insufficient"
	OutcomeSkippedClaimed      Outcome = "skipped_claimed"
	OutcomeFailed              Outcome = "failed"
)

func (o Outcome) String() string { return string(o) }

// IsSkip reports whether o is a non-failure skip signal.
func (o Outcome) IsSkip() bool {
	switch o {
	case OutcomeSkippedDuplicate, OutcomeSkippedInsufficient, OutcomeSkippedClaimed:
		return true
	}
	return false
}

// FailureReason is the typed cause of an unsuccessful extraction.
type FailureReason string

// Fetch-layer failure reasons.
const (
	FailureNone     FailureReason = ""
	FailureNotFound FailureReason = "not_found"
	FailureHTTP     FailureReason = "http_error"
	FailurePage     FailureReason = "page_error"
	FailureEmpty    FailureReason = "empty_page"
	FailureNetwork  FailureReason = "network_error"
	FailureTimeout  FailureReason = "timeout"
)

func (r FailureReason) String() string { return string(r) }

// GeometryState records what the extractor learned about a page's geometry.
type GeometryState string

// A miss means geometry markers were on the page but nothing parsed; absent
// means the page never mentioned geometry.
const (
	GeometryUnknown        GeometryState = ""
	GeometryFound          GeometryState = "found"
	GeometryImageOnly      GeometryState = "image_only"
	GeometryExtractionMiss GeometryState = "extraction_miss"
	GeometryAbsent         GeometryState = "absent"
)

// Category is the normalized bicycle category.
type Category string

// Categories in inference order.
const (
	CategoryMountain Category = "mountain"
	CategoryRoad     Category = "road"
	CategoryGravel   Category = "gravel"
	CategoryHybrid   Category = "hybrid"
	CategoryElectric Category = "electric"
	CategoryOther    Category = "other"
)

// PriceKind distinguishes list price from discounted prices.
type PriceKind string

// Price kinds.
const (
	PriceMSRP    PriceKind = "msrp"
	PriceSale    PriceKind = "sale"
	PriceCurrent PriceKind = "current"
)

// ParsePriority converts "1".."5" into a Priority.
func ParsePriority(s string) (Priority, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse priority %q: %w", s, err)
	}
	p := Priority(n)
	if !p.Valid() {
		return 0, fmt.Errorf("priority %d out of range", n)
	}
	return p, nil
}

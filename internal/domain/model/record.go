// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"time"

	"github.com/okian/bikeharvest/internal/domain/types"
)

// PayloadKind discriminates the two RawRecord payload shapes.
type PayloadKind string

// Payload kinds.
const (
	KindStructured PayloadKind = "structured"
	KindDom        PayloadKind = "dom"
)

// Payload is implemented only by StructuredPayload and DomScraped.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

// StructuredPayload is an embedded data block that contained a product object.
// Product is the recognized product sub-object; Document is the whole parsed block.
type StructuredPayload struct {
	Origin   string         `json:"origin"` // e.g. "ld+json", "__NEXT_DATA__", "inline"
	Product  map[string]any `json:"product"`
	Document map[string]any `json:"document,omitempty"`
}

// Kind implements Payload.
func (StructuredPayload) Kind() PayloadKind { return KindStructured }
func (StructuredPayload) isPayload()        {}

// PriceToken is a raw price string together with the kind inferred from its context.
type PriceToken struct {
	Kind types.PriceKind `json:"kind"`
	Raw  string          `json:"raw"`
}

// DomScraped is the fallback record assembled from tables, lists and images.
type DomScraped struct {
	Name         string                       `json:"name,omitempty"`
	Title        string                       `json:"title,omitempty"`
	Description  string                       `json:"description,omitempty"`
	Breadcrumbs  []string                     `json:"breadcrumbs,omitempty"`
	Meta         map[string]string            `json:"meta,omitempty"`
	Specs        map[string]string            `json:"specs,omitempty"`
	Components   map[string]map[string]string `json:"components,omitempty"`
	FlatGeometry map[string]string            `json:"flat_geometry,omitempty"`
	Sizes        []string                     `json:"sizes,omitempty"`
	SizeGeometry map[string]map[string]string `json:"size_geometry,omitempty"` // size -> measure -> value
	Prices       []PriceToken                 `json:"prices,omitempty"`
	Images       []string                     `json:"images,omitempty"`
	Features     []string                     `json:"features,omitempty"`
	Reviews      []string                     `json:"reviews,omitempty"`
	RiderNotes   []string                     `json:"rider_notes,omitempty"`
	SimilarBikes []string                     `json:"similar_bikes,omitempty"`
}

// Kind implements Payload.
func (DomScraped) Kind() PayloadKind { return KindDom }
func (DomScraped) isPayload()        {}

// ExtractionStats counts populated fields per category. The quality scorer
// reads only these counts.
type ExtractionStats struct {
	Specs         int `json:"specs"`
	Components    int `json:"components"`
	FlatGeometry  int `json:"flat_geometry"`
	GeometrySizes int `json:"geometry_sizes"`
	Prices        int `json:"prices"`
	Images        int `json:"images"`
	Features      int `json:"features"`
	Reviews       int `json:"reviews"`
	RiderNotes    int `json:"rider_notes"`
	SimilarBikes  int `json:"similar_bikes"`
}

// Diagnostics carries extractor observations that are not record data.
type Diagnostics struct {
	Geometry         types.GeometryState `json:"geometry,omitempty"`
	GeometryImage    string              `json:"geometry_image,omitempty"`
	ScriptBlocks     int                 `json:"script_blocks,omitempty"`
	ShrinkRecovered  bool                `json:"shrink_recovered,omitempty"`
	DoubleEncoded    bool                `json:"double_encoded,omitempty"`
	MalformedPayload bool                `json:"malformed_payload,omitempty"`
}

// Identity is the minimal identifying field set of a bike.
type Identity struct {
	Make    string `json:"make,omitempty"`
	Model   string `json:"model,omitempty"`
	Year    int    `json:"year,omitempty"`
	Variant string `json:"variant,omitempty"`
	MakerID string `json:"maker_id,omitempty"`
}

// RawRecord is one extraction result. It is replaced as a whole, never patched.
type RawRecord struct {
	Key           string              `json:"key"`
	URL           string              `json:"url,omitempty"`
	Source        types.Source        `json:"source,omitempty"`
	ExtractedAt   time.Time           `json:"extracted_at"`
	Success       bool                `json:"success"`
	Failure       types.FailureReason `json:"failure,omitempty"`
	FailureDetail string              `json:"failure_detail,omitempty"`
	Identity      Identity            `json:"identity"`
	Stats         ExtractionStats     `json:"stats"`
	Diagnostics   Diagnostics         `json:"diagnostics"`
	Payload       Payload             `json:"-"`
}

// Structured returns the structured payload, if that is what the record holds.
func (r *RawRecord) Structured() (StructuredPayload, bool) {
	p, ok := r.Payload.(StructuredPayload)
	return p, ok
}

// Dom returns the DOM-scraped payload, if that is what the record holds.
func (r *RawRecord) Dom() (DomScraped, bool) {
	p, ok := r.Payload.(DomScraped)
	return p, ok
}

// Failed builds the record stored for a terminal extraction failure.
func Failed(key, url string, reason types.FailureReason, detail string, at time.Time) RawRecord {
	return RawRecord{
		Key:           key,
		URL:           url,
		ExtractedAt:   at,
		Success:       false,
		Failure:       reason,
		FailureDetail: detail,
	}
}

// ComprehensiveRecord is a tier-1 entry: a previously stored, assumed-complete
// extraction whose product data is nested somewhere inside Payload.
type ComprehensiveRecord struct {
	Key         string          `json:"key"`
	Payload     json.RawMessage `json:"payload"`
	ExtractedAt time.Time       `json:"extracted_at"`
}

// FailureRecord is the last terminal fetch failure logged for a key.
type FailureRecord struct {
	Key      string              `json:"key"`
	URL      string              `json:"url,omitempty"`
	Reason   types.FailureReason `json:"reason"`
	Detail   string              `json:"detail,omitempty"`
	Attempts int                 `json:"attempts"`
	FailedAt time.Time           `json:"failed_at"`
}

// Package scoring rates the completeness of extracted records and maps the
// rating to a re-work priority.
package scoring

import (
	"github.com/okian/bikeharvest/internal/domain/model"
	"github.com/okian/bikeharvest/internal/domain/types"
)

// Default rubric constants.
const (
	maxScoreValue = 100

	poorThreshold       = 40
	improvableThreshold = 60
	maxIssuesAcceptable = 2

	minSpecs         = 5
	richSpecs        = 10
	minComponents    = 5
	minImages        = 3
	minGeometrySizes = 2
)

// Issue names reported for empty or shallow core categories.
const (
	IssueNoRecord         = "no_record"
	IssueExtractionFailed = "extraction_failed"
	IssueNoSpecs          = "no_specifications"
	IssueFewSpecs         = "few_specifications"
	IssueNoGeometry       = "no_geometry"
	IssueNoSizeGeometry   = "no_size_geometry"
	IssueGeometryImage    = "geometry_image_only"
	IssueNoComponents     = "no_components"
	IssueFewComponents    = "few_components"
	IssueNoPricing        = "no_pricing"
	IssueNoMedia          = "no_media"
	IssueFewMedia         = "few_media"
	IssueNoReviews        = "no_review_text"
)

// Weights are the points awarded per category. Partial variants apply when a
// category is present but below its depth threshold.
type Weights struct {
	SpecsRich       int
	SpecsDeep       int
	SpecsShallow    int
	SizeGeometry    int
	SizeGeometryOne int
	FlatGeometry    int
	Components      int
	ComponentsFew   int
	Pricing         int
	Media           int
	MediaFew        int
	ReviewText      int
	RiderNotes      int
	SimilarBikes    int
}

// DefaultWeights sums to 100 for a fully populated record.
func DefaultWeights() Weights {
	return Weights{
		SpecsRich:       25,
		SpecsDeep:       20,
		SpecsShallow:    10,
		SizeGeometry:    15,
		SizeGeometryOne: 8,
		FlatGeometry:    5,
		Components:      15,
		ComponentsFew:   8,
		Pricing:         10,
		Media:           10,
		MediaFew:        5,
		ReviewText:      10,
		RiderNotes:      5,
		SimilarBikes:    5,
	}
}

// Option applies a configuration option to the RubricScorer.
type Option func(*RubricScorer)

// WithWeights replaces the rubric weights.
func WithWeights(w Weights) Option {
	return func(s *RubricScorer) {
		s.weights = w
	}
}

// Scorer computes a QualityScore. Implementations must be pure: the same
// record always yields the same score and nothing is mutated.
type Scorer interface {
	// Score rates rec. A nil rec means no record exists.
	Score(rec *model.RawRecord) model.QualityScore
}

// RubricScorer implements Scorer with a fixed weighted rubric over the
// record's extraction statistics.
type RubricScorer struct {
	weights Weights
}

// NewRubricScorer creates a scorer with the default rubric.
func NewRubricScorer(opts ...Option) *RubricScorer {
	s := &RubricScorer{weights: DefaultWeights()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score rates rec.
func (s *RubricScorer) Score(rec *model.RawRecord) model.QualityScore {
	if rec == nil {
		return model.QualityScore{
			Score:    0,
			Issues:   []string{IssueNoRecord},
			Priority: types.PriorityNeverScraped,
		}
	}
	if !rec.Success {
		return model.QualityScore{
			Score:    0,
			Issues:   []string{IssueExtractionFailed},
			Priority: types.PriorityFailed,
		}
	}

	points, issues := s.rate(rec)
	return model.QualityScore{
		Score:    points,
		Issues:   issues,
		Priority: PriorityFor(points, len(issues), true),
	}
}

func (s *RubricScorer) rate(rec *model.RawRecord) (int, []string) {
	st := rec.Stats
	w := s.weights
	points := 0
	var issues []string

	switch {
	case st.Specs >= richSpecs:
		points += w.SpecsRich
	case st.Specs >= minSpecs:
		points += w.SpecsDeep
	case st.Specs > 0:
		points += w.SpecsShallow
		issues = append(issues, IssueFewSpecs)
	default:
		issues = append(issues, IssueNoSpecs)
	}

	switch {
	case st.GeometrySizes >= minGeometrySizes:
		points += w.SizeGeometry
	case st.GeometrySizes == 1:
		points += w.SizeGeometryOne
	}
	if st.FlatGeometry > 0 {
		points += w.FlatGeometry
	}
	if st.GeometrySizes == 0 {
		switch {
		case rec.Diagnostics.Geometry == types.GeometryImageOnly:
			issues = append(issues, IssueGeometryImage)
		case st.FlatGeometry == 0:
			issues = append(issues, IssueNoGeometry)
		default:
			issues = append(issues, IssueNoSizeGeometry)
		}
	}

	switch {
	case st.Components >= minComponents:
		points += w.Components
	case st.Components > 0:
		points += w.ComponentsFew
		issues = append(issues, IssueFewComponents)
	default:
		issues = append(issues, IssueNoComponents)
	}

	if st.Prices > 0 {
		points += w.Pricing
	} else {
		issues = append(issues, IssueNoPricing)
	}

	switch {
	case st.Images >= minImages:
		points += w.Media
	case st.Images > 0:
		points += w.MediaFew
		issues = append(issues, IssueFewMedia)
	default:
		issues = append(issues, IssueNoMedia)
	}

	if st.Reviews+st.Features > 0 {
		points += w.ReviewText
	} else {
		issues = append(issues, IssueNoReviews)
	}

	// bonus categories never raise issues
	if st.RiderNotes > 0 {
		points += w.RiderNotes
	}
	if st.SimilarBikes > 0 {
		points += w.SimilarBikes
	}

	if points > maxScoreValue {
		points = maxScoreValue
	}
	return points, issues
}

// PriorityFor maps a score and issue count to a priority tier.
func PriorityFor(score, issues int, succeeded bool) types.Priority {
	switch {
	case !succeeded || score <= 0:
		return types.PriorityFailed
	case score < poorThreshold:
		return types.PriorityPoor
	case score < improvableThreshold:
		return types.PriorityImprovable
	case issues > maxIssuesAcceptable:
		return types.PriorityImprovable
	default:
		return types.PriorityAcceptable
	}
}

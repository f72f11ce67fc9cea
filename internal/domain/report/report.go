// Package report accumulates per-item outcomes into a run report.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/okian/bikeharvest/pkg/logger"
)

// ItemResult is the outcome of one work item.
type ItemResult struct {
	Key                    string              `json:"key"`
	Outcome                types.Outcome       `json:"outcome"`
	Source                 types.Source        `json:"source,omitempty"`
	Priority               types.Priority      `json:"priority,omitempty"`
	Score                  int                 `json:"score"`
	Failure                types.FailureReason `json:"failure,omitempty"`
	Missing                []string            `json:"missing,omitempty"`
	Detail                 string              `json:"detail,omitempty"`
	SyntheticKey           string              `json:"synthetic_key,omitempty"`
	CombinationDuplicateOf string              `json:"combination_duplicate_of,omitempty"`
	Duration               time.Duration       `json:"duration_ns"`
}

// CombinationDuplicate names two synthetic keys sharing one make/model/year/variant.
type CombinationDuplicate struct {
	Key          string `json:"key"`
	SyntheticKey string `json:"synthetic_key"`
	Other        string `json:"other"`
}

// RunReport summarizes one run. It is not safe for concurrent use: each
// worker fills its own and the pool merges them.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Queued              int `json:"queued"`
	Attempted           int `json:"attempted"`
	Persisted           int `json:"persisted"`
	SkippedDuplicate    int `json:"skipped_duplicate"`
	SkippedInsufficient int `json:"skipped_insufficient"`
	SkippedClaimed      int `json:"skipped_claimed"`
	Failed              int `json:"failed"`

	Buckets               map[types.Priority]int      `json:"buckets,omitempty"`
	BySource              map[types.Source]int        `json:"by_source"`
	FailuresByKind        map[types.FailureReason]int `json:"failures_by_kind"`
	CombinationDuplicates []CombinationDuplicate      `json:"combination_duplicates,omitempty"`
	ExportFiles           []string                    `json:"export_files,omitempty"`
	Items                 []ItemResult                `json:"items"`
}

// New starts a report with a fresh run id.
func New(startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:          uuid.New().String(),
		StartedAt:      startedAt,
		BySource:       make(map[types.Source]int),
		FailuresByKind: make(map[types.FailureReason]int),
	}
}

// Record adds one item result.
func (r *RunReport) Record(res ItemResult) {
	r.Attempted++
	switch res.Outcome {
	case types.OutcomePersisted:
		r.Persisted++
	case types.OutcomeSkippedDuplicate:
		r.SkippedDuplicate++
	case types.OutcomeSkippedInsufficient:
		r.SkippedInsufficient++
	case types.OutcomeSkippedClaimed:
		r.SkippedClaimed++
	default:
		r.Failed++
	}
	if res.Source != "" && res.Outcome != types.OutcomeFailed {
		r.BySource[res.Source]++
	}
	if res.Failure != types.FailureNone {
		r.FailuresByKind[res.Failure]++
	}
	if res.CombinationDuplicateOf != "" {
		r.CombinationDuplicates = append(r.CombinationDuplicates, CombinationDuplicate{
			Key:          res.Key,
			SyntheticKey: res.SyntheticKey,
			Other:        res.CombinationDuplicateOf,
		})
	}
	r.Items = append(r.Items, res)
}

// Merge folds other's counters and items into r. Queued and the run window
// are left to the owner of r.
func (r *RunReport) Merge(other *RunReport) {
	if other == nil {
		return
	}
	r.Attempted += other.Attempted
	r.Persisted += other.Persisted
	r.SkippedDuplicate += other.SkippedDuplicate
	r.SkippedInsufficient += other.SkippedInsufficient
	r.SkippedClaimed += other.SkippedClaimed
	r.Failed += other.Failed
	for k, v := range other.BySource {
		r.BySource[k] += v
	}
	for k, v := range other.FailuresByKind {
		r.FailuresByKind[k] += v
	}
	r.CombinationDuplicates = append(r.CombinationDuplicates, other.CombinationDuplicates...)
	r.Items = append(r.Items, other.Items...)
}

// Finish stamps the end time and orders items by key for stable output.
func (r *RunReport) Finish(at time.Time) {
	r.FinishedAt = at
	sort.SliceStable(r.Items, func(i, j int) bool { return r.Items[i].Key < r.Items[j].Key })
	sort.SliceStable(r.CombinationDuplicates, func(i, j int) bool {
		return r.CombinationDuplicates[i].Key < r.CombinationDuplicates[j].Key
	})
}

// Skipped returns the number of items that ended in any skip outcome.
func (r *RunReport) Skipped() int {
	return r.SkippedDuplicate + r.SkippedInsufficient + r.SkippedClaimed
}

// Duration is the run's wall time, zero until Finish.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary is a one-line description for logs and the CLI.
func (r *RunReport) Summary() string {
	return fmt.Sprintf("run %s: queued=%d attempted=%d persisted=%d skipped=%d (duplicate=%d insufficient=%d claimed=%d) failed=%d in %s",
		r.RunID, r.Queued, r.Attempted, r.Persisted, r.Skipped(),
		r.SkippedDuplicate, r.SkippedInsufficient, r.SkippedClaimed, r.Failed,
		r.Duration().Round(time.Millisecond))
}

// Fields returns the counters as structured log fields.
func (r *RunReport) Fields() []logger.Field {
	return []logger.Field{
		logger.String("run_id", r.RunID),
		logger.Int("queued", r.Queued),
		logger.Int("attempted", r.Attempted),
		logger.Int("persisted", r.Persisted),
		logger.Int("skipped_duplicate", r.SkippedDuplicate),
		logger.Int("skipped_insufficient", r.SkippedInsufficient),
		logger.Int("skipped_claimed", r.SkippedClaimed),
		logger.Int("failed", r.Failed),
		logger.Int("combination_duplicates", len(r.CombinationDuplicates)),
		logger.Duration("duration", r.Duration()),
	}
}

package report_test

import (
	"strings"
	"testing"
	"time"

	"github.com/okian/bikeharvest/internal/domain/report"
	"github.com/okian/bikeharvest/internal/domain/types"
	"github.com/smartystreets/goconvey/convey"
)

func TestRunReport(t *testing.T) {
	convey.Convey("Given two worker reports", t, func() {
		start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
		a := report.New(start)
		b := report.New(start)

		a.Record(report.ItemResult{Key: "k2", Outcome: types.OutcomePersisted, Source: types.SourceTier1})
		a.Record(report.ItemResult{Key: "k4", Outcome: types.OutcomeFailed, Failure: types.FailureTimeout})
		b.Record(report.ItemResult{Key: "k1", Outcome: types.OutcomeSkippedDuplicate, Source: types.SourceTier2})
		b.Record(report.ItemResult{
			Key: "k3", Outcome: types.OutcomePersisted, Source: types.SourceTier3,
			SyntheticKey: "bk_3", CombinationDuplicateOf: "bk_9",
		})
		b.Record(report.ItemResult{Key: "k5", Outcome: types.OutcomeSkippedInsufficient, Missing: []string{"year"}})

		convey.Convey("When they are merged and finished", func() {
			run := report.New(start)
			run.Queued = 5
			run.Merge(a)
			run.Merge(b)
			run.Merge(nil)
			run.Finish(start.Add(90 * time.Second))

			convey.Convey("Then counters add up", func() {
				convey.So(run.Attempted, convey.ShouldEqual, 5)
				convey.So(run.Persisted, convey.ShouldEqual, 2)
				convey.So(run.Skipped(), convey.ShouldEqual, 2)
				convey.So(run.Failed, convey.ShouldEqual, 1)
				convey.So(run.BySource[types.SourceTier1], convey.ShouldEqual, 1)
				convey.So(run.BySource[types.SourceTier3], convey.ShouldEqual, 1)
				convey.So(run.FailuresByKind[types.FailureTimeout], convey.ShouldEqual, 1)
			})

			convey.Convey("Then items are ordered by key and duplicates are listed", func() {
				keys := make([]string, 0, len(run.Items))
				for _, it := range run.Items {
					keys = append(keys, it.Key)
				}
				convey.So(keys, convey.ShouldResemble, []string{"k1", "k2", "k3", "k4", "k5"})
				convey.So(run.CombinationDuplicates, convey.ShouldResemble, []report.CombinationDuplicate{
					{Key: "k3", SyntheticKey: "bk_3", Other: "bk_9"},
				})
			})

			convey.Convey("Then the summary carries the run id and duration", func() {
				convey.So(run.Duration(), convey.ShouldEqual, 90*time.Second)
				convey.So(strings.HasPrefix(run.Summary(), "run "+run.RunID), convey.ShouldBeTrue)
				convey.So(run.Summary(), convey.ShouldContainSubstring, "persisted=2")
				convey.So(len(run.Fields()), convey.ShouldBeGreaterThan, 5)
			})
		})

		convey.Convey("Then every report gets its own run id", func() {
			convey.So(a.RunID, convey.ShouldNotEqual, b.RunID)
			convey.So(a.Duration(), convey.ShouldEqual, 0)
		})
	})
}

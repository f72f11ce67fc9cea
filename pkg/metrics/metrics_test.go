package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with custom options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("harvest"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithFetchLatencyBuckets([]float64{1000, 5000}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the metrics are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.itemsByOutcome.WithLabelValues("persisted").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_harvest_items_total"], ShouldBeTrue)
				So(manager.fetchBuckets, ShouldResemble, []float64{1000, 5000})
			})
		})

		Convey("When two managers share a registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording outcomes", func() {
			before := testutil.ToFloat64(globalManager.itemsByOutcome.WithLabelValues("failed"))
			RecordItemOutcome("failed")
			RecordItemOutcome("failed")

			Convey("Then the labelled counter increases", func() {
				So(testutil.ToFloat64(globalManager.itemsByOutcome.WithLabelValues("failed")), ShouldEqual, before+2)
			})
		})

		Convey("When recording export files", func() {
			before := testutil.ToFloat64(globalManager.exportBytes)
			RecordExportFile(128)

			Convey("Then the byte counter includes the file size", func() {
				So(testutil.ToFloat64(globalManager.exportBytes), ShouldEqual, before+128)
			})
		})

		Convey("When setting gauges", func() {
			UpdateQueueSize(7)
			UpdateBucketSize("1", 3)

			Convey("Then the gauges hold the last value", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.bucketSize.WithLabelValues("1")), ShouldEqual, 3)
			})
		})

		Convey("When calling the remaining helpers", func() {
			Convey("Then none of them panic", func() {
				So(func() {
					RecordResolution("tier1")
					RecordItemLatency(12)
					RecordRun(3)
					RecordFetchError("timeout")
					RecordFetchLatency(100)
					RecordFetchRetry()
					UpdateQueueCapacity(10)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueRejected()
					RecordPersistLatency(2)
					RecordCombinationDuplicate()
					UpdateStoreRecords("tier2", 4)
					RecordExportEmergencySplit()
					UpdateWorkerActiveCount(1)
					RecordErrorByComponent("worker", "persist")
					RecordHTTPRequest("report", "GET", "200", 1)
					UpdateSystemMemoryUsage(1024)
					UpdateSystemGoroutineCount(5)
				}, ShouldNotPanic)
				So(GetRegistry(), ShouldNotBeNil)
			})
		})
	})
}

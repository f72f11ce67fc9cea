package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/bikeharvest/internal/adapters/http/api"
	"github.com/okian/bikeharvest/internal/domain/report"
	"github.com/okian/bikeharvest/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing
type mockReports struct {
	last *report.RunReport
}

func (m *mockReports) LastReport() *report.RunReport {
	return m.last
}

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats(context.Context) map[string]any {
	return m.stats
}

func finishedReport() *report.RunReport {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rep := report.New(start)
	rep.Queued = 2
	rep.Record(report.ItemResult{Key: "a", Outcome: types.OutcomePersisted, Source: types.SourceTier1})
	rep.Record(report.ItemResult{Key: "b", Outcome: types.OutcomeSkippedInsufficient})
	rep.Finish(start.Add(time.Minute))
	return rep
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		reports := &mockReports{}
		server := api.NewServer(reports, &mockStatsProvider{stats: map[string]any{"running": false}})
		mux := http.NewServeMux()

		Convey("When registering routes", func() {
			server.Register(context.Background(), mux)

			Convey("Then the health endpoint serves metrics", func() {
				req := httptest.NewRequest("GET", "/healthz", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("And the stats endpoint is accessible", func() {
				req := httptest.NewRequest("GET", "/stats", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("And the report endpoint is 404 before any run", func() {
				req := httptest.NewRequest("GET", "/report", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("And unknown paths are not found", func() {
				req := httptest.NewRequest("GET", "/rankings", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestReportHandler_HandleReport(t *testing.T) {
	Convey("Given a report handler with a finished run", t, func() {
		rep := finishedReport()
		handler := api.NewReportHandler(&mockReports{last: rep})

		Convey("When requesting the report", func() {
			req := httptest.NewRequest("GET", "/report", nil)
			w := httptest.NewRecorder()
			handler.HandleReport(w, req)

			Convey("Then the counters are returned without items", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body map[string]any
				So(json.NewDecoder(w.Body).Decode(&body), ShouldBeNil)
				So(body["run_id"], ShouldEqual, rep.RunID)
				So(body["persisted"], ShouldEqual, 1.0)
				So(body["skipped_insufficient"], ShouldEqual, 1.0)
				So(body["items"], ShouldBeNil)
			})

			Convey("And the stored report keeps its items", func() {
				So(rep.Items, ShouldHaveLength, 2)
			})
		})

		Convey("When requesting the report with items", func() {
			req := httptest.NewRequest("GET", "/report?items=true", nil)
			w := httptest.NewRecorder()
			handler.HandleReport(w, req)

			Convey("Then every item result is included", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body report.RunReport
				So(json.NewDecoder(w.Body).Decode(&body), ShouldBeNil)
				So(body.Items, ShouldHaveLength, 2)
				So(body.Items[0].Key, ShouldEqual, "a")
			})
		})

		Convey("When posting to the report", func() {
			req := httptest.NewRequest("POST", "/report", nil)
			w := httptest.NewRecorder()
			handler.HandleReport(w, req)

			Convey("Then the method is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(w.Header().Get("Allow"), ShouldEqual, http.MethodGet)
			})
		})
	})
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	Convey("Given a health handler", t, func() {
		handler := api.NewHealthHandler()

		Convey("When handling health check request", func() {
			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()

			Convey("Then it should return OK status", func() {
				handler.HandleHealth(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestStatsHandler_HandleStats(t *testing.T) {
	Convey("Given a stats handler", t, func() {
		mockStats := &mockStatsProvider{
			stats: map[string]any{
				"workerCount": 2,
				"running":     true,
			},
		}
		handler := api.NewStatsHandler(mockStats)

		Convey("When handling stats request", func() {
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			Convey("Then it should return stats", func() {
				handler.HandleStats(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)

				var response map[string]any
				err := json.NewDecoder(w.Body).Decode(&response)
				So(err, ShouldBeNil)
				So(response["workerCount"], ShouldEqual, 2.0)
				So(response["running"], ShouldEqual, true)
				So(w.Header().Get("Cache-Control"), ShouldEqual, "no-store")
			})
		})

		Convey("When posting to stats", func() {
			req := httptest.NewRequest("POST", "/stats", nil)
			w := httptest.NewRecorder()
			handler.HandleStats(w, req)

			Convey("Then the method is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(w.Header().Get("Allow"), ShouldEqual, http.MethodGet)
			})
		})
	})
}

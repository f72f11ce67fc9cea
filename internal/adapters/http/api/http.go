// Package api serves the operational HTTP surface: metrics, the last run
// report and service stats.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/bikeharvest/internal/domain/report"
)

// ReportProvider exposes the most recent completed run.
type ReportProvider interface {
	LastReport() *report.RunReport
}

// Server wires the ops routes.
type Server struct {
	healthHandler *HealthHandler
	reportHandler *ReportHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(reports ReportProvider, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		reportHandler: NewReportHandler(reports),
		statsHandler:  NewStatsHandler(statsProvider),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/report", MetricsMiddleware(s.reportHandler.HandleReport, "report"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

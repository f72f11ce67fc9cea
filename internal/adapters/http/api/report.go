package api

import (
	"net/http"
	"strconv"
)

// ReportHandler serves the last RunReport.
type ReportHandler struct {
	reports ReportProvider
}

// NewReportHandler creates a new report handler.
func NewReportHandler(reports ReportProvider) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// HandleReport handles GET /report. Per-item results are left out unless
// items=true is given.
func (h *ReportHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	rep := h.reports.LastReport()
	if rep == nil {
		writeError(w, http.StatusNotFound, "no_report", ErrNoReport)
		return
	}

	withItems, _ := strconv.ParseBool(r.URL.Query().Get("items"))
	if !withItems {
		trimmed := *rep
		trimmed.Items = nil
		writeJSON(w, http.StatusOK, &trimmed)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

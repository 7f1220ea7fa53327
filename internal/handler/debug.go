package handler

import (
	"net/http"

	"conversa/internal/httputil"
	"conversa/internal/observability"
)

// DebugHandler exposes diagnostics in dev environments
type DebugHandler struct {
	reports *observability.Recorder
}

// NewDebugHandler creates a new debug handler
func NewDebugHandler(reports *observability.Recorder) *DebugHandler {
	return &DebugHandler{reports: reports}
}

// GetReports returns every recorded fetch failure, lost race and invariant report
// GET /debug/api/reports
func (h *DebugHandler) GetReports(w http.ResponseWriter, r *http.Request) {
	reports := h.reports.Reports()
	if reports == nil {
		reports = []observability.Report{}
	}
	httputil.RespondJSON(w, r, http.StatusOK, reports)
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/scmmishra/leadtrace/internal/refdata"
	"github.com/scmmishra/leadtrace/internal/report"
)

type ReferenceSource interface {
	Reference() *refdata.Reference
}

type AnalyticsHandler struct {
	Builder  *report.Builder
	Location *time.Location
	// Now is overridden in tests.
	Now func() time.Time
}

const defaultDashboardDays = 7

func (h *AnalyticsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Report serves GET /api/analytics?period=today|7d|30d|all.
func (h *AnalyticsHandler) Report(w http.ResponseWriter, r *http.Request) {
	win, err := report.ParsePeriod(r.URL.Query().Get("period"), h.now(), h.Location)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rep, err := h.Builder.Report(r.Context(), win)
	if err != nil {
		storeError(w, "analytics", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Dashboard serves GET /api/admin/dashboard?days=N, where 0 is all time.
func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	days := defaultDashboardDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, "days must be a non-negative integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	dash, err := h.Builder.Dashboard(r.Context(), report.DaysWindow(days, h.now(), h.Location))
	if err != nil {
		storeError(w, "dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

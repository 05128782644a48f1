package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/scmmishra/leadtrace/internal/attribution"
	"github.com/scmmishra/leadtrace/internal/models"
)

type AttributionHandler struct {
	Service *attribution.Service
	DB      *sql.DB
}

type leadRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	ClientID int64  `json:"clientId"`
}

type bookingRequest struct {
	ClientID  int64     `json:"clientId"`
	CreatedAt time.Time `json:"createdAt"`
}

// attributionResponse always carries the attribution key; null means no
// touchpoint was found.
type attributionResponse struct {
	Attribution *attribution.Result `json:"attribution"`
	Saved       *bool               `json:"saved,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Lead serves POST /api/attribution/leads.
func (h *AttributionHandler) Lead(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		jsonError(w, "address is required", http.StatusBadRequest)
		return
	}

	res, err := h.Service.AttributeCollectForm(r.Context(), req.Name, req.Address, req.ClientID)
	if err != nil {
		storeError(w, "attribution", err)
		return
	}
	writeJSON(w, http.StatusOK, attributionResponse{Attribution: res})
}

// Booking serves POST /api/bookings/{id}/attribution. The body is optional.
func (h *AttributionHandler) Booking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		jsonError(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req bookingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}

	res, err := h.Service.AutoAttributeBooking(r.Context(), id, req.ClientID, req.CreatedAt)
	switch {
	case err == nil:
		saved := true
		writeJSON(w, http.StatusOK, attributionResponse{Attribution: res, Saved: &saved})
	case errors.Is(err, attribution.ErrWriteBack):
		saved := false
		writeJSON(w, http.StatusOK, attributionResponse{Attribution: res, Saved: &saved, Error: err.Error()})
	case errors.Is(err, sql.ErrNoRows):
		jsonError(w, "not found", http.StatusNotFound)
	default:
		storeError(w, "attribution", err)
	}
}

// Check serves GET /api/attribution/check?address=&at=, a dry run.
func (h *AttributionHandler) Check(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if strings.TrimSpace(address) == "" {
		jsonError(w, "address is required", http.StatusBadRequest)
		return
	}
	at := time.Now().UTC()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonError(w, "at must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		at = t.UTC()
	}

	res, err := h.Service.Check(r.Context(), address, at)
	if err != nil {
		storeError(w, "attribution", err)
		return
	}
	writeJSON(w, http.StatusOK, attributionResponse{Attribution: res})
}

// Notifications serves GET /api/notifications?limit=N.
func (h *AttributionHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	list, err := models.RecentNotifications(r.Context(), h.DB, limit)
	if err != nil {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

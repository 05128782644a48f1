package handlers

import (
	"encoding/json"
	"log"
	"net/http"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// storeError reports a failed read of the event log. The state field lets
// the dashboard tell an outage apart from an empty report.
func storeError(w http.ResponseWriter, op string, err error) {
	log.Printf("%s: %v", op, err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "event store unavailable",
		"state": "store_unavailable",
	})
}

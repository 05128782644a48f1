package handlers

import (
	"crypto/subtle"
	"net/http"
	"net/url"

	"github.com/scmmishra/leadtrace/internal/neighborhood"
	"github.com/scmmishra/leadtrace/internal/refdata"
)

// AuthMiddleware accepts either the X-API-Key header or a dashboard
// session cookie.
func AuthMiddleware(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(password)) != 1 && !verifySession(r, password) {
				jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BeaconCORS lets the owned marketing sites post beacons cross-origin.
// Other origins get no CORS headers and are refused by the browser.
func BeaconCORS(ref ReferenceSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && ownedOrigin(ref.Reference(), origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ownedOrigin(ref *refdata.Reference, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := neighborhood.NormalizeDomain(u.Hostname())
	for _, d := range ref.AllDomains() {
		if neighborhood.NormalizeDomain(d) == host {
			return true
		}
	}
	return false
}

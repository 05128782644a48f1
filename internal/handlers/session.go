package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const (
	sessionCookie = "leadtrace_session"
	sessionMaxAge = 7 * 24 * time.Hour
)

type sessionPayload struct {
	Exp int64 `json:"exp"`
}

// SessionHandler lets the dashboard trade the admin password for a signed
// cookie, so the browser does not have to hold the API key.
type SessionHandler struct {
	Password string
}

// Login serves POST /api/session with {"password": "..."}.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.Password)) != 1 {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}
	exp := time.Now().Add(sessionMaxAge)
	createSession(w, h.Password, exp)
	writeJSON(w, http.StatusOK, map[string]any{"expiresAt": exp.UTC()})
}

// Logout serves DELETE /api/session.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/api",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func createSession(w http.ResponseWriter, password string, exp time.Time) {
	raw, _ := json.Marshal(sessionPayload{Exp: exp.Unix()})
	payload := base64.RawURLEncoding.EncodeToString(raw)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    payload + "." + signPayload(payload, password),
		Path:     "/api",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(time.Until(exp).Seconds()),
	})
}

func verifySession(r *http.Request, password string) bool {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	payload, sig, ok := strings.Cut(cookie.Value, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(signPayload(payload, password))) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return false
	}
	var p sessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	return time.Now().Unix() < p.Exp
}

func signPayload(payload, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

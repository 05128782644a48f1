package handlers

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/scmmishra/leadtrace/internal/analytics"
	"github.com/scmmishra/leadtrace/internal/refcode"
)

const maxBeaconBytes = 16 << 10

type beacon struct {
	Action      string `json:"action"`
	Domain      string `json:"domain"`
	Referrer    string `json:"referrer"`
	SessionID   string `json:"sessionId"`
	Device      string `json:"device"`
	Page        string `json:"page"`
	TimeOnPage  int    `json:"timeOnPage"`
	FinalTime   int    `json:"finalTime"`
	ScrollDepth int    `json:"scrollDepth"`
	FinalScroll int    `json:"finalScroll"`
	Ref         string `json:"ref"`
	FormStep    string `json:"formStep"`
}

// TrackHandler accepts beacons from the marketing sites. navigator.sendBeacon
// posts text/plain, so the body is decoded as JSON whatever the content type.
type TrackHandler struct {
	Collector *analytics.Collector
}

func (h *TrackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var b beacon
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBeaconBytes)).Decode(&b); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	// chi's RealIP middleware already sets RemoteAddr from X-Forwarded-For/X-Real-IP
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}

	var code string
	if c := refcode.Normalize(b.Ref); refcode.Valid(c) {
		code = c
	}

	// Dropped beacons get the same answer so scrapers learn nothing.
	h.Collector.Push(analytics.RawEvent{
		ReceivedAt:  time.Now().UTC(),
		IP:          ip,
		UserAgent:   r.UserAgent(),
		Action:      b.Action,
		Domain:      b.Domain,
		Referrer:    b.Referrer,
		SessionID:   b.SessionID,
		Device:      b.Device,
		Page:        b.Page,
		TimeOnPage:  b.TimeOnPage,
		FinalTime:   b.FinalTime,
		ScrollDepth: b.ScrollDepth,
		FinalScroll: b.FinalScroll,
		RefCode:     code,
		FormStep:    b.FormStep,
	})
	w.WriteHeader(http.StatusNoContent)
}

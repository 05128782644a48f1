// Package verify separates human visits from the automated noise that
// exact-match marketing domains attract.
//
// Verification runs in two passes. BuildAllowlist walks the whole event
// history and records every session and IP that ever arrived from a
// legitimate external referrer. The For* filters then judge a reporting
// window against that allowlist.
package verify

import (
	"net/url"
	"strings"

	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/neighborhood"
	"github.com/scmmishra/leadtrace/internal/refdata"
)

type Class int

const (
	ClassDirect Class = iota
	ClassReferred
	ClassSelfReferral
	ClassNoise
)

func (c Class) String() string {
	switch c {
	case ClassReferred:
		return "referred"
	case ClassSelfReferral:
		return "self_referral"
	case ClassNoise:
		return "noise"
	default:
		return "direct"
	}
}

// IsDirect reports whether a raw referrer carries no source at all.
func IsDirect(referrer string) bool {
	r := strings.TrimSpace(referrer)
	return r == "" || strings.EqualFold(r, "direct")
}

// ReferrerHost extracts the normalized hostname of a raw referrer, or ""
// for direct traffic. Scheme-less referrers are accepted.
func ReferrerHost(referrer string) string {
	if IsDirect(referrer) {
		return ""
	}
	raw := strings.TrimSpace(referrer)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(referrer), "https://"), "http://")
		if i := strings.IndexAny(host, "/?#"); i >= 0 {
			host = host[:i]
		}
		return neighborhood.NormalizeDomain(host)
	}
	return neighborhood.NormalizeDomain(u.Hostname())
}

type Verifier struct {
	spam     []string
	owned    map[string]bool
	sessions map[string]bool
	ips      map[string]bool
}

func New(ref *refdata.Reference) *Verifier {
	owned := make(map[string]bool)
	for _, d := range ref.AllDomains() {
		owned[neighborhood.NormalizeDomain(d)] = true
	}
	return &Verifier{
		spam:     ref.SpamReferrers,
		owned:    owned,
		sessions: make(map[string]bool),
		ips:      make(map[string]bool),
	}
}

// Classify places an event in exactly one class. A spam match wins over
// every other signal the referrer carries.
func (v *Verifier) Classify(e models.ClickEvent) Class {
	if IsDirect(e.Referrer) {
		return ClassDirect
	}
	lower := strings.ToLower(e.Referrer)
	for _, s := range v.spam {
		if strings.Contains(lower, s) {
			return ClassNoise
		}
	}
	if v.isOwned(ReferrerHost(e.Referrer)) {
		return ClassSelfReferral
	}
	return ClassReferred
}

func (v *Verifier) isOwned(host string) bool {
	if host == "" {
		return false
	}
	if v.owned[host] {
		return true
	}
	for d := range v.owned {
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// sessionKey scopes a session ID to its domain; trackers issue session IDs
// per site, so the same ID on two domains is two different browsers.
func sessionKey(e models.ClickEvent) string {
	if e.SessionID == "" {
		return ""
	}
	return neighborhood.NormalizeDomain(e.Domain) + "|" + e.SessionID
}

// BuildAllowlist records the sessions and IPs of every legitimately
// referred event in history. It may be called more than once; entries
// accumulate.
func (v *Verifier) BuildAllowlist(history []models.ClickEvent) {
	for _, e := range history {
		if v.Classify(e) != ClassReferred {
			continue
		}
		if k := sessionKey(e); k != "" {
			v.sessions[k] = true
		}
		if e.VisitorIP != "" {
			v.ips[e.VisitorIP] = true
		}
	}
}

// Allowlisted reports whether the event's session or IP has ever been seen
// arriving from a legitimate external source.
func (v *Verifier) Allowlisted(e models.ClickEvent) bool {
	if k := sessionKey(e); k != "" && v.sessions[k] {
		return true
	}
	return e.VisitorIP != "" && v.ips[e.VisitorIP]
}

// AllowlistSize returns the number of allowlisted sessions and IPs.
func (v *Verifier) AllowlistSize() (sessions, ips int) {
	return len(v.sessions), len(v.ips)
}

// VerifiedForAttribution: owned sites never vouch for each other, so
// self-referrals are rejected outright.
func (v *Verifier) VerifiedForAttribution(e models.ClickEvent) bool {
	switch v.Classify(e) {
	case ClassReferred:
		return true
	case ClassDirect:
		return v.Allowlisted(e)
	default:
		return false
	}
}

// VerifiedForAnalytics lets self-referrals through when the visitor is
// otherwise known, so internal navigation of real visitors is counted.
func (v *Verifier) VerifiedForAnalytics(e models.ClickEvent) bool {
	switch v.Classify(e) {
	case ClassReferred:
		return true
	case ClassDirect, ClassSelfReferral:
		return v.Allowlisted(e)
	default:
		return false
	}
}

func (v *Verifier) ForAttribution(events []models.ClickEvent) []models.ClickEvent {
	return filter(events, v.VerifiedForAttribution)
}

func (v *Verifier) ForAnalytics(events []models.ClickEvent) []models.ClickEvent {
	return filter(events, v.VerifiedForAnalytics)
}

func filter(events []models.ClickEvent, keep func(models.ClickEvent) bool) []models.ClickEvent {
	out := make([]models.ClickEvent, 0, len(events))
	for _, e := range events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

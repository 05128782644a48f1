package report

import (
	"sort"
	"time"

	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/neighborhood"
)

const LiveFeedLimit = 500

type DomainStat struct {
	Domain         string     `json:"domain"`
	Neighborhood   string     `json:"neighborhood,omitempty"`
	Visits         int        `json:"visits"`
	UniqueVisitors int        `json:"uniqueVisitors"`
	Calls          int        `json:"calls"`
	Texts          int        `json:"texts"`
	Books          int        `json:"books"`
	Directions     int        `json:"directions"`
	CTARate        float64    `json:"ctaRate"`
	LastEvent      *time.Time `json:"lastEvent"`
}

// DomainStats breaks the overview down per domain, busiest first.
func DomainStats(events []models.ClickEvent, nr *neighborhood.Resolver) []DomainStat {
	byDomain := map[string][]models.ClickEvent{}
	for _, e := range events {
		d := neighborhood.NormalizeDomain(e.Domain)
		byDomain[d] = append(byDomain[d], e)
	}

	out := make([]DomainStat, 0, len(byDomain))
	for d, evs := range byDomain {
		o := overview(evs)
		last := evs[len(evs)-1].CreatedAt.UTC()
		s := DomainStat{
			Domain:         d,
			Visits:         o.Visits,
			UniqueVisitors: o.UniqueVisitors,
			Calls:          o.Calls,
			Texts:          o.Texts,
			Books:          o.Books,
			Directions:     o.Directions,
			CTARate:        o.CTARate,
			LastEvent:      &last,
		}
		if nr != nil {
			s.Neighborhood = nr.NeighborhoodOf(d)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Visits != out[j].Visits {
			return out[i].Visits > out[j].Visits
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// LiveFeed returns the newest visits and CTA clicks, at most limit of
// them, newest first.
func LiveFeed(events []models.ClickEvent, limit int) []models.ClickEvent {
	if limit <= 0 {
		limit = LiveFeedLimit
	}
	out := make([]models.ClickEvent, 0, min(limit, len(events)))
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		e := events[i]
		if e.Action == models.ActionVisit || e.IsCTA() {
			out = append(out, e)
		}
	}
	return out
}

// Dashboard is the admin view: the report plus the per-domain table and
// the live feed.
type Dashboard struct {
	*Report
	DomainStats []DomainStat        `json:"domainStats"`
	LiveFeed    []models.ClickEvent `json:"liveFeed"`
}

// Package attribution decides which marketing touchpoint produced a lead
// or booking.
package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/scmmishra/leadtrace/internal/eventstore"
	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/neighborhood"
	"github.com/scmmishra/leadtrace/internal/refdata"
	"github.com/scmmishra/leadtrace/internal/verify"
)

// Result is the single best-guess touchpoint for an address.
type Result struct {
	Domain        string    `json:"domain"`
	Confidence    int       `json:"confidence"`
	Action        string    `json:"action"`
	MinutesAgo    int       `json:"minutesAgo"`
	Neighborhood  string    `json:"neighborhood"`
	SourceClickID int64     `json:"sourceClickId"`
	ClickedAt     time.Time `json:"clickedAt"`
}

// ReferenceSource hands out the current reference data snapshot.
// *refdata.Loader satisfies it.
type ReferenceSource interface {
	Reference() *refdata.Reference
}

type Resolver struct {
	events *eventstore.Client
	ref    ReferenceSource
}

func NewResolver(events *eventstore.Client, ref ReferenceSource) *Resolver {
	return &Resolver{events: events, ref: ref}
}

// Attribute runs the tier cascade for address as of asOf. A nil Result
// with a nil error means no touchpoint could be traced, which includes
// addresses without a known postal code.
func (r *Resolver) Attribute(ctx context.Context, address string, asOf time.Time) (*Result, error) {
	ref := r.ref.Reference()
	nr := neighborhood.NewResolver(ref)

	name, ok := nr.Resolve(address)
	if !ok {
		return nil, nil
	}
	domains := nr.DomainsFor(name)
	if domains.Empty() {
		return nil, nil
	}

	v := verify.New(ref)
	history, err := r.events.FetchAll(ctx, eventstore.Query{ReferredOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load referral history: %w", err)
	}
	v.BuildAllowlist(history)

	window, err := r.events.FetchAll(ctx, eventstore.Query{
		Since:   asOf.Add(-maxLookback()),
		Until:   asOf,
		Domains: domains.Hosts(),
	})
	if err != nil {
		return nil, fmt.Errorf("load attribution window: %w", err)
	}

	best, ok := pick(v.ForAttribution(window), domains, asOf, ref.SearchEngines)
	if !ok {
		return nil, nil
	}
	return &Result{
		Domain:        neighborhood.NormalizeDomain(best.Event.Domain),
		Confidence:    best.Confidence,
		Action:        best.Tier.action(best.Event),
		MinutesAgo:    best.MinutesAgo,
		Neighborhood:  name,
		SourceClickID: best.Event.ID,
		ClickedAt:     best.Event.CreatedAt.UTC(),
	}, nil
}

// pick evaluates every tier over verified events and keeps the winner
// according to ByTierOrder.
func pick(verified []models.ClickEvent, domains neighborhood.DomainSet, asOf time.Time, engines []string) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, t := range Tiers {
		c, ok := bestInTier(t, verified, domains, asOf, engines)
		if !ok {
			continue
		}
		if !found || ByTierOrder(c, best) {
			best, found = c, true
		}
	}
	return best, found
}

func bestInTier(t Tier, events []models.ClickEvent, domains neighborhood.DomainSet, asOf time.Time, engines []string) (Candidate, bool) {
	since := asOf.Add(-t.Lookback)
	var (
		best  models.ClickEvent
		found bool
	)
	for _, e := range events {
		if e.CreatedAt.After(asOf) || e.CreatedAt.Before(since) {
			continue
		}
		if t.LocalOnly && !domains.IsLocal(e.Domain) {
			continue
		}
		if !domains.Contains(e.Domain) || !t.Match(e, engines) {
			continue
		}
		if !found || !e.CreatedAt.Before(best.CreatedAt) {
			best, found = e, true
		}
	}
	if !found {
		return Candidate{}, false
	}
	minutes := int(asOf.Sub(best.CreatedAt) / time.Minute)
	return Candidate{
		Tier:       t,
		Event:      best,
		MinutesAgo: minutes,
		Confidence: t.confidence(minutes),
	}, true
}

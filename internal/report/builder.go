package report

import (
	"context"
	"fmt"
	"time"

	"github.com/scmmishra/leadtrace/internal/eventstore"
	"github.com/scmmishra/leadtrace/internal/metrics"
	"github.com/scmmishra/leadtrace/internal/models"
	"github.com/scmmishra/leadtrace/internal/neighborhood"
	"github.com/scmmishra/leadtrace/internal/refdata"
	"github.com/scmmishra/leadtrace/internal/verify"
)

type ReferenceSource interface {
	Reference() *refdata.Reference
}

// Builder reads events for a window, verifies them and aggregates.
type Builder struct {
	events *eventstore.Client
	ref    ReferenceSource
	locate func(ip string) string
}

// NewBuilder returns a Builder. locate may be nil.
func NewBuilder(events *eventstore.Client, ref ReferenceSource, locate func(string) string) *Builder {
	return &Builder{events: events, ref: ref, locate: locate}
}

// verified runs both verifier passes: the allowlist over all referred
// history, then the filter over the window.
func (b *Builder) verified(ctx context.Context, ref *refdata.Reference, w Window) ([]models.ClickEvent, error) {
	history, err := b.events.FetchAll(ctx, eventstore.Query{ReferredOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load referral history: %w", err)
	}
	v := verify.New(ref)
	v.BuildAllowlist(history)

	window, err := b.events.FetchAll(ctx, eventstore.Query{Since: w.Since, Until: w.Until})
	if err != nil {
		return nil, fmt.Errorf("load report window: %w", err)
	}
	return v.ForAnalytics(window), nil
}

// Report builds the analytics report for w.
func (b *Builder) Report(ctx context.Context, w Window) (*Report, error) {
	start := time.Now()
	defer func() {
		metrics.ReportBuildDuration.WithLabelValues("analytics").Observe(float64(time.Since(start).Milliseconds()))
	}()

	ref := b.ref.Reference()
	events, err := b.verified(ctx, ref, w)
	if err != nil {
		return nil, err
	}
	return Aggregate(events, w, Options{Funnels: ref.Funnels, Locate: b.locate}), nil
}

// Dashboard builds the admin dashboard for w.
func (b *Builder) Dashboard(ctx context.Context, w Window) (*Dashboard, error) {
	start := time.Now()
	defer func() {
		metrics.ReportBuildDuration.WithLabelValues("dashboard").Observe(float64(time.Since(start).Milliseconds()))
	}()

	ref := b.ref.Reference()
	events, err := b.verified(ctx, ref, w)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		Report:      Aggregate(events, w, Options{Funnels: ref.Funnels, Locate: b.locate}),
		DomainStats: DomainStats(events, neighborhood.NewResolver(ref)),
		LiveFeed:    LiveFeed(events, LiveFeedLimit),
	}, nil
}

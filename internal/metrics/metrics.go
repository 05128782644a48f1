package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventRowsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadtrace_event_rows_fetched_total",
		Help: "Total number of click event rows read from the event store.",
	})

	CollectorEventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadtrace_collector_events_accepted_total",
		Help: "Total number of tracking events placed on the ingestion buffer.",
	})

	CollectorEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadtrace_collector_events_dropped_total",
		Help: "Total number of tracking events rejected at ingestion, labelled by reason.",
	}, []string{"reason"})

	Attributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadtrace_attributions_total",
		Help: "Total number of attribution runs, labelled by winning action (none when unattributed).",
	}, []string{"action"})

	ReportBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadtrace_report_build_duration_ms",
		Help:    "Time spent fetching and aggregating an analytics report in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"report"})
)

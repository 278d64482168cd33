// Package metrics exposes Prometheus instrumentation for polling and delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	OutcomeNew       = "new"
	OutcomeUnchanged = "unchanged"
	OutcomeNoUpdate  = "no_update"
	OutcomeError     = "error"
)

// Delivery outcomes.
const (
	DeliverySent    = "sent"
	DeliverySkipped = "skipped"
	DeliveryFailed  = "failed"
)

var (
	fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comicwatch_fetch_total",
		Help: "Source fetches by outcome",
	}, []string{"source", "outcome"})

	announcementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comicwatch_announcements_total",
		Help: "New posts detected and announced",
	}, []string{"source"})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comicwatch_deliveries_total",
		Help: "Per-destination deliveries by outcome",
	}, []string{"outcome"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "comicwatch_cycle_duration_seconds",
		Help:    "Duration of a full poll cycle",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	cycleSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comicwatch_cycle_skipped_total",
		Help: "Poll cycles rejected because one was already running",
	})
)

// Fetch records one source fetch.
func Fetch(source, outcome string) {
	fetchTotal.WithLabelValues(source, outcome).Inc()
}

// Announcement records a newly announced post.
func Announcement(source string) {
	announcementsTotal.WithLabelValues(source).Inc()
}

// Delivery records the outcome of one destination delivery.
func Delivery(outcome string) {
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

// Cycle records the duration of a completed poll cycle.
func Cycle(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

// CycleSkipped records a rejected overlapping cycle.
func CycleSkipped() {
	cycleSkipped.Inc()
}

// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsReceived counts inbound webhook events by classified type.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardcast_events_received_total",
		Help: "Inbound webhook events accepted after signature verification.",
	}, []string{"type"})

	// EventsDuplicate counts events dropped by the dedup window.
	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boardcast_events_duplicate_total",
		Help: "Events suppressed as duplicates within the dedup window.",
	})

	// Deliveries counts notification deliveries by outcome.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardcast_deliveries_total",
		Help: "Notification delivery attempts by final outcome.",
	}, []string{"outcome"})

	// DeliverySeconds observes end-to-end delivery latency per target.
	DeliverySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "boardcast_delivery_seconds",
		Help:    "Time from event receipt to delivery per target channel.",
		Buckets: prometheus.DefBuckets,
	})

	// Registrations counts webhook registration operations by outcome.
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardcast_registrations_total",
		Help: "Upstream webhook registration operations by outcome.",
	}, []string{"op", "outcome"})

	// CacheLookups counts mapping cache lookups by result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardcast_cache_lookups_total",
		Help: "Mapping cache lookups by result.",
	}, []string{"result"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

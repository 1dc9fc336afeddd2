// Package observability holds the service's Prometheus collectors and Sentry wiring.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ingestionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "ingest",
		Name:      "activities_total",
		Help:      "Provider activities processed by the ingestion engine, labeled by ingestion path and outcome.",
	}, []string{"path", "outcome"})

	xpAwardedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "ingest",
		Name:      "xp_awarded_total",
		Help:      "Experience points granted for newly created strength logs.",
	})

	lastIngestionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "device_sync",
		Subsystem: "ingest",
		Name:      "last_activity_ingested_timestamp_seconds",
		Help:      "Unix timestamp of the most recent device activity committed to the mirror.",
	})

	lastPullGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "device_sync",
		Subsystem: "pull",
		Name:      "last_sync_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful pull sync.",
	})

	pullCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "pull",
		Name:      "syncs_total",
		Help:      "Pull sync requests, labeled by outcome.",
	}, []string{"outcome"})

	webhookItemCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "webhook",
		Name:      "items_total",
		Help:      "Webhook items processed, labeled by push kind and outcome.",
	}, []string{"kind", "outcome"})

	routeCacheCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "device_sync",
		Subsystem: "route",
		Name:      "cache_lookups_total",
		Help:      "Route resolutions served from the mirror cache versus fetched from the provider.",
	}, []string{"result"})

	vendorRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "device_sync",
		Subsystem: "vendor",
		Name:      "request_duration_seconds",
		Help:      "Latency of signed provider API calls.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"endpoint", "status"})
)

func init() {
	prometheus.MustRegister(
		ingestionCounter,
		xpAwardedCounter,
		lastIngestionGauge,
		lastPullGauge,
		pullCounter,
		webhookItemCounter,
		routeCacheCounter,
		vendorRequestDuration,
	)
}

// RecordIngestion counts one ingestion attempt.
func RecordIngestion(path, outcome string) {
	ingestionCounter.WithLabelValues(path, outcome).Inc()
}

// RecordActivityIngested updates the ingestion watermark gauge.
func RecordActivityIngested(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastIngestionGauge.Set(float64(ts.Unix()))
}

// RecordXPAwarded adds xp to the awarded counter.
func RecordXPAwarded(xp int) {
	if xp <= 0 {
		return
	}
	xpAwardedCounter.Add(float64(xp))
}

// RecordPullSync counts a pull sync and, on success, moves the watermark.
func RecordPullSync(outcome string, ts time.Time) {
	pullCounter.WithLabelValues(outcome).Inc()
	if outcome == "ok" && !ts.IsZero() {
		lastPullGauge.Set(float64(ts.Unix()))
	}
}

// RecordWebhookItem counts one processed webhook item.
func RecordWebhookItem(kind, outcome string) {
	webhookItemCounter.WithLabelValues(kind, outcome).Inc()
}

// RecordRouteCache counts a route lookup as a hit or miss.
func RecordRouteCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	routeCacheCounter.WithLabelValues(result).Inc()
}

// ObserveVendorRequest records the latency of one provider call. status is 0 on transport errors.
func ObserveVendorRequest(endpoint string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	vendorRequestDuration.WithLabelValues(endpoint, label).Observe(elapsed.Seconds())
}

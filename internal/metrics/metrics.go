package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sellbot",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sellbot",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sellbot",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Refresh cycle metrics ──────────────────────────────────────────────

var (
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sellbot",
		Subsystem: "refresh",
		Name:      "total",
		Help:      "Total number of refresh cycles by outcome.",
	}, []string{"status"})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sellbot",
		Subsystem: "refresh",
		Name:      "duration_seconds",
		Help:      "Duration of a full refresh cycle in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	HoldersEvaluatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sellbot",
		Subsystem: "refresh",
		Name:      "holders_evaluated_total",
		Help:      "Holders evaluated per asset across all cycles.",
	}, []string{"asset"})

	HoldersSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sellbot",
		Subsystem: "refresh",
		Name:      "holders_skipped_total",
		Help:      "Holder records excluded because a stored field was missing or malformed.",
	}, []string{"asset", "field"})

	MarketPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sellbot",
		Subsystem: "market",
		Name:      "price",
		Help:      "Latest fetched market price per asset in the configured fiat unit.",
	}, []string{"asset"})
)

// ── Alert delivery metrics ─────────────────────────────────────────────

var (
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sellbot",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts successfully delivered.",
	}, []string{"asset", "direction"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sellbot",
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Total alert delivery failures.",
	}, []string{"asset", "reason"})
)

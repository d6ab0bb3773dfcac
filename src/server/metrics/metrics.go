// Package metrics exposes live counters for the notification core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsCreated counts stored notifications by category
	NotificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_notifications_created_total",
		Help: "Notifications created, by category.",
	}, []string{"category"})

	// DuplicatesSuppressed counts dispatches dropped by the cooldown ledger
	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pharmacy_notifications_suppressed_total",
		Help: "Notification dispatches suppressed by the cooldown ledger.",
	})

	// EmailsSent counts successful email deliveries by mode
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_notification_emails_sent_total",
		Help: "Notification emails delivered, by mode (single or aggregated).",
	}, []string{"mode"})

	// EmailsFailed counts failed email deliveries by mode
	EmailsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_notification_emails_failed_total",
		Help: "Notification email failures, by mode (single or aggregated).",
	}, []string{"mode"})

	// ScansRun counts executed (non-skipped) health check runs
	ScansRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pharmacy_health_check_runs_total",
		Help: "Health check scans that actually executed.",
	})

	// ScansFailed counts health check runs that recorded an error
	ScansFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pharmacy_health_check_failures_total",
		Help: "Health check scans that recorded an error.",
	})

	// HTTPRequestsTotal counts API requests by method, route, and status
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pharmacy_http_requests_total",
		Help: "HTTP requests, by method, route, and status.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency by method and route
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pharmacy_http_request_duration_seconds",
		Help:    "HTTP request latency, by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPActiveRequests gauges in-flight requests
	HTTPActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pharmacy_http_active_requests",
		Help: "Requests currently being served.",
	})
)

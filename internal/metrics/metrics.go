package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Evaluation metrics
	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_rule_evaluations_total",
			Help: "Rule evaluations by outcome",
		},
		[]string{"outcome"}, // triggered, suppressed, ok, no_data, skipped, error
	)

	AlertEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_alert_events_total",
			Help: "Alert events written to the ledger",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_total",
			Help: "Outbound notifications by delivery status",
		},
		[]string{"status"}, // sent, failed
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_sweep_duration_seconds",
			Help:    "Duration of one full rule sweep",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

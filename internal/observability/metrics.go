package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics. Label values are drawn from closed enums (outcomes, alert
// types, severities, probe names, table names) so cardinality stays bounded.
var (
	WebhooksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_webhooks_processed_total",
			Help: "Webhook deliveries by final outcome.",
		},
		[]string{"outcome"},
	)

	WebhookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_webhook_processing_seconds",
			Help:    "Time spent processing one webhook delivery.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"event_family"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_alerts_raised_total",
			Help: "Alert detections, split by whether they folded into an open alert.",
		},
		[]string{"type", "severity", "deduped"},
	)

	ConflictsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_conflicts_reported_total",
			Help: "Conflict detections, split by whether they refreshed a pending conflict.",
		},
		[]string{"type", "deduped"},
	)

	ProbeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_probe_failures_total",
			Help: "Health probe evaluations that returned an error.",
		},
		[]string{"probe"},
	)

	ProbeValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconciler_probe_value",
			Help: "Last scalar reading of each health probe.",
		},
		[]string{"probe"},
	)

	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_retention_deleted_total",
			Help: "Rows removed by the retention sweeper.",
		},
		[]string{"table"},
	)

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_notifications_dispatched_total",
			Help: "Notification requests handed to the dispatcher.",
		},
		[]string{"kind", "result"},
	)

	LedgerFailOpen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_ledger_fail_open_total",
			Help: "Idempotency ledger operations that failed and were ignored.",
		},
		[]string{"op"},
	)

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_job_runs_total",
			Help: "Scheduled job cycles by job and result.",
		},
		[]string{"job", "result"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconciler_job_duration_seconds",
			Help:    "Duration of scheduled job cycles.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

// BoolLabel renders b as a label value.
func BoolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

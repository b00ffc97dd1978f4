// Package metrics registers the service's Prometheus metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the syncbridge Prometheus metrics.
type Metrics struct {
	// Webhook ingestion
	WebhooksReceivedTotal *prometheus.CounterVec
	WebhooksRejectedTotal *prometheus.CounterVec

	// Action buffer
	RecordsAppendedTotal *prometheus.CounterVec

	// Reconciliation
	ReconcileCyclesTotal   prometheus.Counter
	RecordsValidatedTotal  *prometheus.CounterVec
	ReconcileCycleDuration prometheus.Histogram

	// Propagation
	PropagationsTotal      *prometheus.CounterVec
	PropagationFailedTotal *prometheus.CounterVec

	// Delta poller
	WatermarkAgeSeconds prometheus.Gauge
}

// New returns the process-wide metrics. Registration happens once;
// repeated calls return the same instance, so constructors can take a
// *Metrics without caring who was first.
func New() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			WebhooksReceivedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "syncbridge_webhooks_received_total",
					Help: "Webhook deliveries accepted after signature and parse checks",
				},
				[]string{"platform"},
			),
			WebhooksRejectedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "syncbridge_webhooks_rejected_total",
					Help: "Webhook deliveries rejected, labeled by reason (signature, parse, rate_limit)",
				},
				[]string{"platform", "reason"},
			),
			RecordsAppendedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "syncbridge_records_appended_total",
					Help: "Action records appended to the buffer",
				},
				[]string{"platform", "entity_type"},
			),
			ReconcileCyclesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "syncbridge_reconcile_cycles_total",
					Help: "Completed reconciliation cycles",
				},
			),
			RecordsValidatedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "syncbridge_records_validated_total",
					Help: "Records processed by the reconciler, labeled by resulting status",
				},
				[]string{"status"},
			),
			ReconcileCycleDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "syncbridge_reconcile_cycle_duration_seconds",
					Help:    "Duration of one reconciliation cycle",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
				},
			),
			PropagationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "syncbridge_propagations_total",
					Help: "Cross-platform propagations attempted, labeled by direction",
				},
				[]string{"direction"},
			),
			PropagationFailedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "syncbridge_propagations_failed_total",
					Help: "Per-reference propagation failures, labeled by direction",
				},
				[]string{"direction"},
			),
			WatermarkAgeSeconds: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "syncbridge_watermark_age_seconds",
					Help: "Age of the delta poller watermark at the last tick",
				},
			),
		}
	})
	return globalMetrics
}

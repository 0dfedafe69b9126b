// Package metrics provides Prometheus instrumentation for the reconciliation
// core.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconcile outcome labels.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// Collector provides metrics recording interface.
// This allows the controller to record metrics without a direct prometheus
// dependency; embedders that do not care use NewNoopCollector.
type Collector interface {
	// RecordEnqueue counts a key entering the work queue, labeled by the
	// watch source that produced it.
	RecordEnqueue(ctx context.Context, source string)

	// RecordReconcile records one reconcile invocation and its outcome.
	RecordReconcile(ctx context.Context, status string, duration time.Duration)

	// RecordRetry counts a failed reconcile being rescheduled, labeled by
	// error classification.
	RecordRetry(ctx context.Context, errorType string)

	// SetQueueDepth records the current number of queued keys.
	SetQueueDepth(ctx context.Context, depth int)
}

// NoopCollector implements Collector with no-op methods, for embedders that
// do not collect metrics.
type NoopCollector struct{}

// NewNoopCollector creates a no-op metrics collector.
func NewNoopCollector() Collector {
	return &NoopCollector{}
}

// RecordEnqueue is a no-op.
func (*NoopCollector) RecordEnqueue(context.Context, string) {}

// RecordReconcile is a no-op.
func (*NoopCollector) RecordReconcile(context.Context, string, time.Duration) {}

// RecordRetry is a no-op.
func (*NoopCollector) RecordRetry(context.Context, string) {}

// SetQueueDepth is a no-op.
func (*NoopCollector) SetQueueDepth(context.Context, int) {}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	enqueueTotal      *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	queueDepth        prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector and registers its
// metrics with reg.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{
		enqueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convergekit_enqueues_total",
				Help: "Total keys enqueued by watch source",
			},
			[]string{"source"},
		),
		reconcileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convergekit_reconcile_duration_seconds",
				Help:    "Duration of reconcile invocations by outcome",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"status"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convergekit_retries_total",
				Help: "Total failed reconciles rescheduled for retry, by error type",
			},
			[]string{"error_type"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "convergekit_workqueue_depth",
				Help: "Current number of queued keys",
			},
		),
	}

	reg.MustRegister(c.enqueueTotal, c.reconcileDuration, c.retriesTotal, c.queueDepth)

	return c
}

// RecordEnqueue counts a key entering the work queue.
func (c *prometheusCollector) RecordEnqueue(_ context.Context, source string) {
	c.enqueueTotal.WithLabelValues(source).Inc()
}

// RecordReconcile records one reconcile invocation and its outcome.
func (c *prometheusCollector) RecordReconcile(_ context.Context, status string, duration time.Duration) {
	c.reconcileDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRetry counts a failed reconcile being rescheduled.
func (c *prometheusCollector) RecordRetry(_ context.Context, errorType string) {
	c.retriesTotal.WithLabelValues(errorType).Inc()
}

// SetQueueDepth records the current number of queued keys.
func (c *prometheusCollector) SetQueueDepth(_ context.Context, depth int) {
	c.queueDepth.Set(float64(depth))
}

// Package metrics exposes the worker's runtime health as Prometheus
// collectors: pending-task depth, per-outcome request counts,
// inpaint micro-batch sizes, and translation/render latencies, grounded on the
// pool-depth and pending-task observability spec.md §5 describes in
// prose (the task semaphore, the pending-task counter, batch flush
// timing) but leaves to the implementation to surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "image_translate_worker"

var (
	// PendingTasks mirrors the dispatcher's admission-control counter
	// (spec.md §4.10/§5: "pending-task counter decoupled from the
	// semaphore").
	PendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_tasks",
		Help:      "Requests accepted off the ingress queue but not yet terminally emitted.",
	})

	// InFlightTasks mirrors the task semaphore's held permits.
	InFlightTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight_tasks",
		Help:      "Requests currently holding a task-semaphore permit.",
	})

	// RequestsTotal counts terminal emissions by outcome (success,
	// error).
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Terminal request emissions by outcome.",
	}, []string{"outcome"})

	// InpaintBatchSize observes the size of each flushed micro-batch,
	// separated by the short/long collect queue (spec.md §4.6).
	InpaintBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inpaint_batch_size",
		Help:      "Number of jobs in each flushed inpaint micro-batch.",
		Buckets:   []float64{1, 2, 4, 8, 16, 32},
	}, []string{"queue"})

	// TranslationLatencySeconds observes the wall time of each
	// translate_many call, successful or not.
	TranslationLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "translation_latency_seconds",
		Help:      "Latency of translate_many calls to the translation endpoint.",
		Buckets:   prometheus.DefBuckets,
	})

	// RenderLatencySeconds observes the wall time of the C8 render
	// pipeline per RenderJob.
	RenderLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "render_latency_seconds",
		Help:      "Latency of the renderer (C8) per RenderJob.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Outcome labels for RequestsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

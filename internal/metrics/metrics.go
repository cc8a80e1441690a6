// Package metrics holds the Prometheus collectors shared by the pipeline,
// delivery and task runner.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmbeddingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "camflow",
			Name:      "embedding_duration_seconds",
			Help:      "Face embedding inference duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	PipelineItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camflow",
			Name:      "pipeline_items_total",
			Help:      "Images processed by the analysis pipeline",
		},
		[]string{"mode", "status"}, // status: "ok" / "failed"
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camflow",
			Name:      "delivery_attempts_total",
			Help:      "Delivery API calls by channel and outcome",
		},
		[]string{"channel", "outcome"}, // outcome: "ok" / "retry" / "permanent"
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camflow",
			Name:      "tasks_total",
			Help:      "Background tasks by terminal state",
		},
		[]string{"state"},
	)

	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camflow",
			Name:      "tasks_running",
			Help:      "Background tasks currently executing",
		},
	)

	ImageCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camflow",
			Name:      "image_cache_total",
			Help:      "Image source cache hits and misses",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingDuration,
			PipelineItemsTotal,
			DeliveryAttemptsTotal,
			TasksTotal,
			TasksRunning,
			ImageCacheTotal,
		)
	})
}

// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_insights"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Pipeline metrics
	PipelinesTotal   prometheus.Counter
	PipelinesActive  prometheus.Gauge
	PipelinesSuccess prometheus.Counter
	PipelinesFailed  prometheus.Counter
	PipelineDuration prometheus.Histogram

	// Stage metrics
	StageDuration  *prometheus.HistogramVec
	StagesDegraded *prometheus.CounterVec

	// Session metrics
	SessionsOpened   prometheus.Counter
	SessionsEvicted  prometheus.Counter
	SessionConflicts prometheus.Counter

	// Progress delivery metrics
	SubscribersActive  prometheus.Gauge
	SubscribersDropped prometheus.Counter
	EventsPublished    prometheus.Counter
	EventsReplayed     prometheus.Counter

	// Upload metrics
	UploadsTotal    prometheus.Counter
	UploadsRejected *prometheus.CounterVec
	UploadBytes     prometheus.Counter

	// Persistence metrics
	PersistenceRetries  prometheus.Counter
	PersistenceFailures prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PipelinesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_total",
			Help:      "Total number of pipeline runs started",
		}),
		PipelinesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_active",
			Help:      "Number of currently running pipelines",
		}),
		PipelinesSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_success_total",
			Help:      "Total number of pipelines that reached complete",
		}),
		PipelinesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_failed_total",
			Help:      "Total number of pipelines that reached error",
		}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),

		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		StagesDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_degraded_total",
			Help:      "Total number of stages that fell back to default values",
		}, []string{"stage"}),

		SessionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of processing sessions opened",
		}),
		SessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of idle sessions force-closed by the janitor",
		}),
		SessionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_conflicts_total",
			Help:      "Total number of uploads rejected for reusing a live session id",
		}),

		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_active",
			Help:      "Number of currently attached progress subscribers",
		}),
		SubscribersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Total number of subscribers dropped for falling behind",
		}),
		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_published_total",
			Help:      "Total number of progress events published",
		}),
		EventsReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_replayed_total",
			Help:      "Total number of replay events delivered on subscribe",
		}),

		UploadsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of artifacts accepted for processing",
		}),
		UploadsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Total number of uploads rejected before a session opened",
		}, []string{"reason"}),
		UploadBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total artifact bytes accepted",
		}),

		PersistenceRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_retries_total",
			Help:      "Total number of record store retries",
		}),
		PersistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Total number of fatal persistence failures",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordPipelineStart records a new pipeline run starting.
func (m *Metrics) RecordPipelineStart() {
	m.PipelinesTotal.Inc()
	m.PipelinesActive.Inc()
}

// RecordPipelineEnd records a pipeline run reaching a terminal stage.
func (m *Metrics) RecordPipelineEnd(success bool, durationSeconds float64) {
	m.PipelinesActive.Dec()
	m.PipelineDuration.Observe(durationSeconds)
	if success {
		m.PipelinesSuccess.Inc()
	} else {
		m.PipelinesFailed.Inc()
	}
}

// RecordStage records one stage execution.
func (m *Metrics) RecordStage(stage string, durationSeconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordDegraded records a stage falling back to default values.
func (m *Metrics) RecordDegraded(stage string) {
	m.StagesDegraded.WithLabelValues(stage).Inc()
}

// RecordKafkaPublish records one Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, durationSeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(durationSeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

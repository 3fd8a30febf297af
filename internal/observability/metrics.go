package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide Prometheus collectors for the actor
// runtime, job core, and notification service. All fields are safe for
// concurrent use (they wrap prometheus's own thread-safe collectors).
//
// A single Metrics value is constructed at startup and threaded into the
// supervisor, job repository, and notification service; none of those
// packages import prometheus directly, keeping the dependency confined to
// this package.
type Metrics struct {
	ActorRestartsTotal  *prometheus.CounterVec
	ActorAbandonedTotal *prometheus.CounterVec
	ActorsRunning       prometheus.Gauge

	JobsClaimedTotal    prometheus.Counter
	JobsCompletedTotal  prometheus.Counter
	JobsFailedTotal     *prometheus.CounterVec
	JobQueueWaitSeconds prometheus.Histogram
	JobDurationSeconds  *prometheus.HistogramVec

	NotificationsDeliveredTotal prometheus.Counter
	NotificationsDroppedTotal   prometheus.Counter
	NotificationsRetriedTotal   prometheus.Counter
	NotificationsDeadLetterTotal prometheus.Counter
	CircuitBreakerOpen          *prometheus.GaugeVec

	HLSActiveMonitors prometheus.Gauge
	HLSSegmentsFetchedTotal *prometheus.CounterVec
}

// NewMetrics constructs the collector set without registering it. Call
// Register to attach it to a prometheus.Registerer (typically
// prometheus.DefaultRegisterer, wired through to the /metrics HTTP
// handler).
func NewMetrics() *Metrics {
	return &Metrics{
		ActorRestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "actor",
			Name:      "restarts_total",
			Help:      "Total actor restarts by actor kind, after a crash exit.",
		}, []string{"kind"}),
		ActorAbandonedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "actor",
			Name:      "abandoned_total",
			Help:      "Total actors abandoned after exceeding the restart attempt cap.",
		}, []string{"kind"}),
		ActorsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamforge",
			Subsystem: "actor",
			Name:      "running",
			Help:      "Number of actors currently registered with the supervisor.",
		}),

		JobsClaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "job",
			Name:      "claimed_total",
			Help:      "Total jobs successfully claimed from the repository.",
		}),
		JobsCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "job",
			Name:      "completed_total",
			Help:      "Total jobs marked completed.",
		}),
		JobsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "job",
			Name:      "failed_total",
			Help:      "Total jobs marked failed, by job type.",
		}, []string{"job_type"}),
		JobQueueWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streamforge",
			Subsystem: "job",
			Name:      "queue_wait_seconds",
			Help:      "Time between job creation and claim.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
		}),
		JobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamforge",
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Job execution duration from claim to terminal state, by job type.",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"job_type"}),

		NotificationsDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Total notifications successfully delivered.",
		}),
		NotificationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Total notifications dropped due to a full pending queue.",
		}),
		NotificationsRetriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "notify",
			Name:      "retried_total",
			Help:      "Total notification delivery retries scheduled.",
		}),
		NotificationsDeadLetterTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "notify",
			Name:      "dead_letter_total",
			Help:      "Total notifications moved to the dead-letter sink.",
		}),
		CircuitBreakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "streamforge",
			Subsystem: "notify",
			Name:      "circuit_breaker_open",
			Help:      "1 if the channel's circuit breaker is open, 0 otherwise.",
		}, []string{"channel_id"}),

		HLSActiveMonitors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamforge",
			Subsystem: "hls",
			Name:      "active_monitors",
			Help:      "Number of live playlist monitor loops currently running.",
		}),
		HLSSegmentsFetchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamforge",
			Subsystem: "hls",
			Name:      "segments_fetched_total",
			Help:      "Total HLS segments fetched, by outcome.",
		}, []string{"outcome"}),
	}
}

// Register attaches every collector to reg. Call once at startup before
// serving /metrics.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ActorRestartsTotal,
		m.ActorAbandonedTotal,
		m.ActorsRunning,
		m.JobsClaimedTotal,
		m.JobsCompletedTotal,
		m.JobsFailedTotal,
		m.JobQueueWaitSeconds,
		m.JobDurationSeconds,
		m.NotificationsDeliveredTotal,
		m.NotificationsDroppedTotal,
		m.NotificationsRetriedTotal,
		m.NotificationsDeadLetterTotal,
		m.CircuitBreakerOpen,
		m.HLSActiveMonitors,
		m.HLSSegmentsFetchedTotal,
	)
}

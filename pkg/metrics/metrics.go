package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nomarr_jobs_total",
			Help: "Number of jobs by status",
		},
		[]string{"status"},
	)

	JobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nomarr_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
	)

	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nomarr_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		},
	)

	JobsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nomarr_jobs_failed_total",
			Help: "Total number of jobs that ended in error",
		},
	)

	JobsResetTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nomarr_jobs_reset_total",
			Help: "Total number of stuck jobs returned to pending",
		},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nomarr_job_duration_seconds",
			Help:    "Wall time per processed job in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nomarr_workers_total",
			Help: "Number of worker components by health status",
		},
		[]string{"status"},
	)

	WorkerRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomarr_worker_restarts_total",
			Help: "Total number of worker restarts by queue type",
		},
		[]string{"queue"},
	)

	WorkerLockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nomarr_worker_lockouts_total",
			Help: "Total number of rapid-failure lockouts",
		},
	)

	// Supervisor metrics
	MonitorTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nomarr_monitor_tick_duration_seconds",
			Help:    "Time taken by one supervisor monitor tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	MonitorTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nomarr_monitor_ticks_total",
			Help: "Total number of supervisor monitor ticks completed",
		},
	)

	// Broker metrics
	BrokerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nomarr_broker_events_total",
			Help: "Total number of events emitted by topic class",
		},
		[]string{"type"},
	)

	BrokerDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nomarr_broker_dropped_total",
			Help: "Total number of events dropped on lagging subscribers",
		},
	)

	BrokerSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nomarr_broker_subscribers",
			Help: "Number of active broker subscriptions",
		},
	)

	BrokerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nomarr_broker_tick_duration_seconds",
			Help:    "Time taken by one broker poll tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsResetTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerRestartsTotal)
	prometheus.MustRegister(WorkerLockoutsTotal)
	prometheus.MustRegister(MonitorTickDuration)
	prometheus.MustRegister(MonitorTicksTotal)
	prometheus.MustRegister(BrokerEventsTotal)
	prometheus.MustRegister(BrokerDroppedTotal)
	prometheus.MustRegister(BrokerSubscribers)
	prometheus.MustRegister(BrokerTickDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

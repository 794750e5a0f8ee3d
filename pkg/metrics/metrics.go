package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WorkersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskforge_workers_connected",
		Help: "Number of currently connected workers.",
	})

	WorkersRemovedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_workers_removed_total",
		Help: "Workers removed, by reason.",
	}, []string{"reason"})

	TasksByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskforge_tasks_by_state",
		Help: "Current number of tasks in each lifecycle state.",
	}, []string{"state"})

	TasksSubmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskforge_tasks_submitted_total",
		Help: "Total tasks submitted.",
	})

	TasksCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_tasks_completed_total",
		Help: "Total tasks reaching a terminal result, by result code.",
	}, []string{"result"})

	TaskDispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "taskforge_task_dispatch_latency_seconds",
		Help: "Time spent choosing a worker for a ready task.",
	})

	TaskExecuteDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "taskforge_task_execute_duration_seconds",
		Help: "Reported task execution time by category.",
	}, []string{"category"})

	TransferBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_transfer_bytes_total",
		Help: "Bytes transferred, by direction.",
	}, []string{"direction"}) // input, output, peer

	ReplicasByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskforge_replicas_by_state",
		Help: "Replica records across all workers by state.",
	}, []string{"state"})

	ReplicationQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskforge_replication_queue_depth",
		Help: "Pending replication requests.",
	})

	CategoryAllocation = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskforge_category_allocation_cores",
		Help: "Allocated cores per category and label (first or max).",
	}, []string{"category", "label"})

	EventLoopTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "taskforge_event_loop_tick_duration_seconds",
		Help: "Wall time of one event-loop iteration.",
	})

	FastAbortsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_fast_aborts_total",
		Help: "Fast-abort triggers, by category.",
	}, []string{"category"})
)

func init() {
	prometheus.MustRegister(
		WorkersConnected,
		WorkersRemovedTotal,
		TasksByState,
		TasksSubmittedTotal,
		TasksCompletedTotal,
		TaskDispatchLatency,
		TaskExecuteDuration,
		TransferBytesTotal,
		ReplicasByState,
		ReplicationQueueDepth,
		CategoryAllocation,
		EventLoopTickDuration,
		FastAbortsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

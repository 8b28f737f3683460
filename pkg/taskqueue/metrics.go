package taskqueue

import (
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeNoHandler = "no_handler"
)

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "taskqueue",
		Name:      name,
		Help:      help,
	}, labels)
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "taskqueue",
		Name:      name,
		Help:      help,
	})
}

var (
	tasksProcessed = newCounterVec("tasks_processed_total", "Tasks run by a worker, by outcome", "type", "outcome")
	tasksEnqueued  = newCounterVec("tasks_enqueued_total", "Tasks accepted by the queue", "type")
	taskRetries    = newCounterVec("task_retries_total", "Failed attempts rescheduled with backoff", "type")
	dequeueErrors  = newCounter("dequeue_errors_total", "Claims that failed with a backend error")
	heartbeatLost  = newCounter("heartbeat_lost_total", "Running tasks whose claim expired before the handler returned")

	deadlockRetries = newCounter("deadlock_retries_total", "SQL statements retried after a deadlock or serialization failure")

	taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uploader",
		Subsystem: "taskqueue",
		Name:      "task_duration_seconds",
		Help:      "Handler run time",
		Buckets:   prometheus.ExponentialBuckets(0.005, 3, 9),
	}, []string{"type"})

	workersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "uploader",
		Subsystem: "taskqueue",
		Name:      "workers_busy",
		Help:      "Worker goroutines currently running a handler",
	})
)

func init() {
	debug.Registry().MustRegister(
		tasksProcessed,
		tasksEnqueued,
		taskRetries,
		dequeueErrors,
		heartbeatLost,
		deadlockRetries,
		taskDuration,
		workersBusy,
	)
}

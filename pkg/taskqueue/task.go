// Package taskqueue provides a durable task queue for deferred upload work.
//
// Backends:
//   - Database (PostgreSQL/CockroachDB or MySQL/Vitess), sharing the metadata
//     database and its tasks table
//   - In-memory, for tests and single-process development
//
// Task types:
//   - object_cleanup: retry deleting an orphaned object after a failed
//     compensating delete
//   - upload_event: deliver an upload lifecycle event to the configured sinks
package taskqueue

import (
	"encoding/json"
	"time"
)

// Default configuration values
const (
	DefaultPollInterval      = time.Second
	DefaultConcurrency       = 4
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxRetries        = 3

	// maxBackoff caps the exponential retry delay.
	maxBackoff = 10 * time.Minute
)

// TaskType identifies the type of task for routing to handlers.
type TaskType string

const (
	TaskTypeObjectCleanup TaskType = "object_cleanup"
	TaskTypeUploadEvent   TaskType = "upload_event"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"     // Waiting to be picked up
	StatusRunning    TaskStatus = "running"     // Currently being processed
	StatusCompleted  TaskStatus = "completed"   // Successfully finished
	StatusFailed     TaskStatus = "failed"      // Failed, may retry
	StatusDeadLetter TaskStatus = "dead_letter" // Failed permanently
	StatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority allows urgent tasks to be processed first.
type TaskPriority int

const (
	PriorityLow    TaskPriority = 0
	PriorityNormal TaskPriority = 5
	PriorityHigh   TaskPriority = 10
)

// Task represents a unit of work to be processed.
type Task struct {
	ID       string       `json:"id"`
	Type     TaskType     `json:"type"`
	Status   TaskStatus   `json:"status"`
	Priority TaskPriority `json:"priority"`

	// Payload is JSON encoded task-specific data.
	Payload json.RawMessage `json:"payload"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	RetryAfter time.Time `json:"retry_after,omitempty"`
	LastError  string    `json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	WorkerID    string     `json:"worker_id,omitempty"`
}

// clone returns a copy that shares no mutable state with t.
func (t *Task) clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		s := *t.CompletedAt
		c.CompletedAt = &s
	}
	if t.HeartbeatAt != nil {
		s := *t.HeartbeatAt
		c.HeartbeatAt = &s
	}
	return &c
}

// TaskFilter for querying tasks.
type TaskFilter struct {
	Type   TaskType   `json:"type,omitempty"`
	Status TaskStatus `json:"status,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// QueueStats provides queue metrics.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`

	// Pending tasks by type
	ByType map[TaskType]int64 `json:"by_type"`

	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// MarshalPayload is a helper to marshal a payload struct to JSON.
func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// UnmarshalPayload is a helper to unmarshal a JSON payload.
func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}

// retryBackoff returns the delay before attempt n is retried: 1s, 2s, 4s ...
// capped at maxBackoff.
func retryBackoff(attempts int) time.Duration {
	if attempts >= 20 {
		return maxBackoff
	}
	d := time.Duration(1<<attempts) * time.Second
	return min(d, maxBackoff)
}

// applyFailure records a handler failure on t and decides between another
// attempt and the dead letter state.
func applyFailure(t *Task, err error, now time.Time) {
	t.Attempts++
	t.LastError = err.Error()
	t.UpdatedAt = now
	t.WorkerID = ""

	if t.Attempts >= t.MaxRetries {
		t.Status = StatusDeadLetter
		t.RetryAfter = time.Time{}
		return
	}
	t.Status = StatusPending
	t.RetryAfter = now.Add(retryBackoff(t.Attempts))
}

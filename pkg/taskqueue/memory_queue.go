// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-memory implementation of Queue.
// Tasks are lost on restart; use DBQueue in production.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool

	visibilityTimeout time.Duration
	now               func() time.Time
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithVisibilityTimeout sets how long a running task may go without a
// heartbeat before another worker can claim it.
func WithVisibilityTimeout(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.visibilityTimeout = d }
}

// NewMemoryQueue creates a new in-memory queue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		tasks:             make(map[string]*Task),
		visibilityTimeout: DefaultVisibilityTimeout,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	now := q.now()
	prepareEnqueue(task, now)
	q.tasks[task.ID] = task.clone()
	tasksEnqueued.WithLabelValues(string(task.Type)).Inc()
	return nil
}

// prepareEnqueue fills the defaults shared by every backend.
func prepareEnqueue(task *Task, now time.Time) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := q.now()
	stale := now.Add(-q.visibilityTimeout)
	var best *Task

	for _, task := range q.tasks {
		if !q.claimable(task, now, stale) {
			continue
		}
		if len(taskTypes) > 0 && !slices.Contains(taskTypes, task.Type) {
			continue
		}
		if best == nil || task.Priority > best.Priority ||
			(task.Priority == best.Priority && task.ScheduledAt.Before(best.ScheduledAt)) {
			best = task
		}
	}

	if best == nil {
		return nil, nil
	}

	// A reclaimed task counts the abandoned run as an attempt.
	if best.Status == StatusRunning {
		best.Attempts++
	}
	best.Status = StatusRunning
	best.WorkerID = workerID
	started, beat := now, now
	best.StartedAt = &started
	best.HeartbeatAt = &beat
	best.UpdatedAt = now

	return best.clone(), nil
}

func (q *MemoryQueue) claimable(task *Task, now, stale time.Time) bool {
	switch task.Status {
	case StatusPending:
		if task.ScheduledAt.After(now) {
			return false
		}
		return task.RetryAfter.IsZero() || !task.RetryAfter.After(now)
	case StatusRunning:
		return task.HeartbeatAt != nil && task.HeartbeatAt.Before(stale)
	default:
		return false
	}
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := q.now()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	applyFailure(task, err, q.now())
	if task.Status == StatusPending {
		taskRetries.WithLabelValues(string(task.Type)).Inc()
	}
	return nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := q.now()
	task.Status = StatusCancelled
	task.CompletedAt = &now
	task.UpdatedAt = now
	return nil
}

func (q *MemoryQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok || task.WorkerID != workerID || task.Status != StatusRunning {
		return ErrTaskNotFound
	}

	now := q.now()
	task.HeartbeatAt = &now
	task.UpdatedAt = now
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.clone(), nil
}

func (q *MemoryQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*Task
	for _, task := range q.tasks {
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		result = append(result, task.clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{ByType: make(map[TaskType]int64)}
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
			stats.ByType[task.Type]++
			if stats.OldestPending == nil || task.ScheduledAt.Before(*stats.OldestPending) {
				oldest := task.ScheduledAt
				stats.OldestPending = &oldest
			}
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusDeadLetter:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

func (q *MemoryQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	count := 0
	for id, task := range q.tasks {
		if task.Status != StatusCompleted && task.Status != StatusCancelled {
			continue
		}
		if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			count++
		}
	}
	return count, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

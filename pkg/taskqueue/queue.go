// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrQueueClosed    = errors.New("task queue is closed")
	ErrInvalidPayload = errors.New("invalid task payload")
)

// Enqueuer is what producers of deferred work need: the upload service for
// orphaned objects and the event emitter.
type Enqueuer interface {
	// Enqueue persists task. Missing ID, status and schedule are filled in.
	Enqueue(ctx context.Context, task *Task) error
}

// Consumer is the claim/ack half used by Worker.
type Consumer interface {
	// Dequeue claims the oldest due task of one of taskTypes (any type when
	// empty). It returns nil, nil when nothing is due.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)
	Complete(ctx context.Context, taskID string) error
	// Fail counts an attempt and either schedules a retry with exponential
	// backoff or moves the task to the dead letter state.
	Fail(ctx context.Context, taskID string, err error) error
	// Heartbeat keeps a claim alive past the visibility timeout. It returns
	// ErrTaskNotFound once the claim was lost to another worker.
	Heartbeat(ctx context.Context, taskID string, workerID string) error
}

// Queue is a complete backend, memory or SQL.
type Queue interface {
	Enqueuer
	Consumer

	Cancel(ctx context.Context, taskID string) error
	Get(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)
	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup deletes completed and cancelled tasks that finished more than
	// olderThan ago and returns how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// Handler processes one task type.
type Handler interface {
	Type() TaskType
	// Handle returns nil when the task is done. Any error goes to Fail.
	Handle(ctx context.Context, task *Task) error
}

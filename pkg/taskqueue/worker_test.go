// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler implements Handler for testing
type testHandler struct {
	taskType taskqueue.TaskType
	handleFn func(ctx context.Context, task *taskqueue.Task) error
}

func (h *testHandler) Type() taskqueue.TaskType {
	return h.taskType
}

func (h *testHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	if h.handleFn != nil {
		return h.handleFn(ctx, task)
	}
	return nil
}

func TestWorker_HandlerTypes(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w", Queue: q})
	w.RegisterHandler(nil)
	w.RegisterHandler(&testHandler{taskType: taskqueue.TaskTypeObjectCleanup})
	w.RegisterHandler(&testHandler{taskType: taskqueue.TaskTypeUploadEvent})

	assert.ElementsMatch(t,
		[]taskqueue.TaskType{taskqueue.TaskTypeObjectCleanup, taskqueue.TaskTypeUploadEvent},
		w.HandlerTypes())
	assert.Equal(t, "w", w.ID())
}

func TestWorker_ProcessOne_Success(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()

	var seen json.RawMessage
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w", Queue: q})
	w.RegisterHandler(&testHandler{
		taskType: taskqueue.TaskTypeObjectCleanup,
		handleFn: func(ctx context.Context, task *taskqueue.Task) error {
			seen = task.Payload
			return nil
		},
	})

	task := cleanupTask("a")
	require.NoError(t, q.Enqueue(ctx, task))

	assert.True(t, w.ProcessOne(ctx))
	assert.JSONEq(t, `{"key":"a"}`, string(seen))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, got.Status)

	assert.False(t, w.ProcessOne(ctx), "queue drained")
}

func TestWorker_ProcessOne_FailureRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()

	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w", Queue: q})
	w.RegisterHandler(&testHandler{
		taskType: taskqueue.TaskTypeObjectCleanup,
		handleFn: func(context.Context, *taskqueue.Task) error { return errors.New("store unavailable") },
	})

	task := cleanupTask("a")
	task.MaxRetries = 1
	require.NoError(t, q.Enqueue(ctx, task))

	assert.True(t, w.ProcessOne(ctx))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusDeadLetter, got.Status)
	assert.Equal(t, "store unavailable", got.LastError)
}

func TestWorker_ProcessOne_NoHandler(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	ctx := context.Background()

	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w", Queue: q})
	w.RegisterHandler(&testHandler{taskType: taskqueue.TaskTypeObjectCleanup})

	task := &taskqueue.Task{Type: taskqueue.TaskTypeUploadEvent, Payload: json.RawMessage(`{}`)}
	require.NoError(t, q.Enqueue(ctx, task))

	// Explicit types widen the dequeue beyond the registered handlers.
	assert.True(t, w.ProcessOne(ctx, taskqueue.TaskTypeUploadEvent))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "no handler registered", got.LastError)
}

func TestWorker_StartStop_NoHandlers(t *testing.T) {
	t.Parallel()

	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w", Queue: taskqueue.NewMemoryQueue()})
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}

func TestWorker_ProcessesInBackground(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	var processed atomic.Int32

	w := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "w",
		Queue:        q,
		Concurrency:  3,
		PollInterval: 5 * time.Millisecond,
	})
	w.RegisterHandler(&testHandler{
		taskType: taskqueue.TaskTypeObjectCleanup,
		handleFn: func(context.Context, *taskqueue.Task) error {
			processed.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	for i := range 10 {
		require.NoError(t, q.Enqueue(ctx, cleanupTask(string(rune('a'+i)))))
	}

	require.Eventually(t, func() bool { return processed.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
}

func TestWorker_DefaultID(t *testing.T) {
	t.Parallel()

	a := taskqueue.NewWorker(taskqueue.WorkerConfig{Queue: taskqueue.NewMemoryQueue()})
	b := taskqueue.NewWorker(taskqueue.WorkerConfig{Queue: taskqueue.NewMemoryQueue()})
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

// lostClaimConsumer hands out one task and then reports the claim as gone on
// every heartbeat.
type lostClaimConsumer struct {
	handed    atomic.Bool
	completed atomic.Int32
	failed    atomic.Int32
}

func (c *lostClaimConsumer) Dequeue(_ context.Context, workerID string, _ ...taskqueue.TaskType) (*taskqueue.Task, error) {
	if c.handed.Swap(true) {
		return nil, nil
	}
	return &taskqueue.Task{ID: "t1", Type: taskqueue.TaskTypeObjectCleanup, WorkerID: workerID}, nil
}

func (c *lostClaimConsumer) Complete(context.Context, string) error {
	c.completed.Add(1)
	return nil
}

func (c *lostClaimConsumer) Fail(context.Context, string, error) error {
	c.failed.Add(1)
	return nil
}

func (c *lostClaimConsumer) Heartbeat(context.Context, string, string) error {
	return taskqueue.ErrTaskNotFound
}

func TestWorker_LostClaimCancelsHandler(t *testing.T) {
	t.Parallel()

	c := &lostClaimConsumer{}
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:                "w",
		Queue:             c,
		HeartbeatInterval: 5 * time.Millisecond,
	})
	w.RegisterHandler(&testHandler{
		taskType: taskqueue.TaskTypeObjectCleanup,
		handleFn: func(ctx context.Context, _ *taskqueue.Task) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	assert.True(t, w.ProcessOne(context.Background()))
	assert.Zero(t, c.completed.Load())
	assert.Zero(t, c.failed.Load(), "the new owner decides the outcome")
	assert.False(t, w.ProcessOne(context.Background()))
}

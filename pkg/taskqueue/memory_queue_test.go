// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanupTask(key string) *taskqueue.Task {
	return &taskqueue.Task{
		Type:     taskqueue.TaskTypeObjectCleanup,
		Payload:  json.RawMessage(fmt.Sprintf(`{"key":%q}`, key)),
		Priority: taskqueue.PriorityNormal,
	}
}

func TestMemoryQueue_Enqueue_Defaults(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	task := cleanupTask("a")
	require.NoError(t, q.Enqueue(context.Background(), task))

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, taskqueue.StatusPending, task.Status)
	assert.Equal(t, taskqueue.DefaultMaxRetries, task.MaxRetries)
	assert.False(t, task.CreatedAt.IsZero())
	assert.False(t, task.ScheduledAt.IsZero())
}

func TestMemoryQueue_Enqueue_PreserveID(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	task := cleanupTask("a")
	task.ID = "custom-id"
	require.NoError(t, q.Enqueue(context.Background(), task))
	assert.Equal(t, "custom-id", task.ID)
}

func TestMemoryQueue_Closed(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), cleanupTask("a"))
	assert.ErrorIs(t, err, taskqueue.ErrQueueClosed)

	_, err = q.Dequeue(context.Background(), "w1")
	assert.ErrorIs(t, err, taskqueue.ErrQueueClosed)
}

func TestMemoryQueue_Dequeue_PriorityThenAge(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	older := cleanupTask("older")
	older.ID = "older"
	older.ScheduledAt = base
	newer := cleanupTask("newer")
	newer.ID = "newer"
	newer.ScheduledAt = base.Add(time.Second)
	urgent := cleanupTask("urgent")
	urgent.ID = "urgent"
	urgent.Priority = taskqueue.PriorityHigh
	urgent.ScheduledAt = base.Add(2 * time.Second)

	for _, task := range []*taskqueue.Task{newer, urgent, older} {
		require.NoError(t, q.Enqueue(ctx, task))
	}

	var order []string
	for range 3 {
		task, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, task)
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"urgent", "older", "newer"}, order)

	task, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestMemoryQueue_Dequeue_TypeFilter(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, cleanupTask("a")))

	task, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeUploadEvent)
	require.NoError(t, err)
	assert.Nil(t, task)

	task, err = q.Dequeue(ctx, "w1", taskqueue.TaskTypeUploadEvent, taskqueue.TaskTypeObjectCleanup)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, taskqueue.StatusRunning, task.Status)
	assert.Equal(t, "w1", task.WorkerID)
	assert.NotNil(t, task.StartedAt)
}

func TestMemoryQueue_Dequeue_ReturnsCopy(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, cleanupTask("a")))
	task, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)

	task.Status = taskqueue.StatusCompleted
	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusRunning, stored.Status)
}

func TestMemoryQueue_Fail_RetryThenDeadLetter(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	task := cleanupTask("a")
	task.MaxRetries = 2
	require.NoError(t, q.Enqueue(ctx, task))

	_, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, task.ID, errors.New("first")))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "first", got.LastError)
	assert.True(t, got.RetryAfter.After(time.Now()))
	assert.Empty(t, got.WorkerID)

	require.NoError(t, q.Fail(ctx, task.ID, errors.New("second")))
	got, err = q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusDeadLetter, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestMemoryQueue_NotFound(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	assert.ErrorIs(t, q.Complete(ctx, "missing"), taskqueue.ErrTaskNotFound)
	assert.ErrorIs(t, q.Fail(ctx, "missing", errors.New("x")), taskqueue.ErrTaskNotFound)
	assert.ErrorIs(t, q.Cancel(ctx, "missing"), taskqueue.ErrTaskNotFound)
	_, err := q.Get(ctx, "missing")
	assert.ErrorIs(t, err, taskqueue.ErrTaskNotFound)
}

func TestMemoryQueue_Heartbeat(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	task := cleanupTask("a")
	require.NoError(t, q.Enqueue(ctx, task))

	assert.ErrorIs(t, q.Heartbeat(ctx, task.ID, "w1"), taskqueue.ErrTaskNotFound, "not running yet")

	_, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.NoError(t, q.Heartbeat(ctx, task.ID, "w1"))
	assert.ErrorIs(t, q.Heartbeat(ctx, task.ID, "w2"), taskqueue.ErrTaskNotFound)
}

func TestMemoryQueue_CancelledTaskNotDequeued(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	task := cleanupTask("a")
	require.NoError(t, q.Enqueue(ctx, task))
	require.NoError(t, q.Cancel(ctx, task.ID))

	got, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueue_ListAndStats(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, q.Enqueue(ctx, cleanupTask(fmt.Sprint(i))))
	}
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeUploadEvent, Payload: json.RawMessage(`{}`)}))

	done, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeUploadEvent)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, done.ID))

	all, err := q.List(ctx, taskqueue.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	cleanups, err := q.List(ctx, taskqueue.TaskFilter{Type: taskqueue.TaskTypeObjectCleanup, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, cleanups, 2)

	completed, err := q.List(ctx, taskqueue.TaskFilter{Status: taskqueue.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)

	beyond, err := q.List(ctx, taskqueue.TaskFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(3), stats.ByType[taskqueue.TaskTypeObjectCleanup])
	assert.NotNil(t, stats.OldestPending)
}

func TestMemoryQueue_ConcurrentDequeue_NoDoubleClaim(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	const tasks = 50
	for i := range tasks {
		require.NoError(t, q.Enqueue(ctx, cleanupTask(fmt.Sprint(i))))
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx, fmt.Sprintf("w%d", w))
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				claimed[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, tasks)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "task %s claimed more than once", id)
	}
}

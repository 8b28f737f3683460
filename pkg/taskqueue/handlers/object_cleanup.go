// Package handlers contains taskqueue.Handler implementations for deferred
// upload work.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/storage/backend"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"

	"github.com/google/uuid"
)

// ObjectCleanupPayload is the task payload for deleting an orphaned object.
type ObjectCleanupPayload struct {
	Bucket          string `json:"bucket"`
	Key             string `json:"key"`
	UploadRequestID string `json:"upload_request_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ObjectDeleter is the subset of backend.ObjectStore the handler needs.
type ObjectDeleter interface {
	Delete(ctx context.Context, bucket, key string) error
}

// ObjectCleanupHandler removes objects left behind by a failed compensation.
type ObjectCleanupHandler struct {
	store ObjectDeleter
}

// NewObjectCleanupHandler creates a new object cleanup handler.
func NewObjectCleanupHandler(store ObjectDeleter) *ObjectCleanupHandler {
	return &ObjectCleanupHandler{store: store}
}

// Type returns the task type this handler processes.
func (h *ObjectCleanupHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeObjectCleanup
}

// Handle deletes the object named in the payload. An object that is already
// gone counts as cleaned up.
func (h *ObjectCleanupHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[ObjectCleanupPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.Bucket == "" || payload.Key == "" {
		// Nothing a retry could fix.
		logger.Warn().Str("task_id", task.ID).Msg("taskqueue: object cleanup task without bucket/key, dropping")
		return nil
	}

	err = h.store.Delete(ctx, payload.Bucket, payload.Key)
	if errors.Is(err, backend.ErrObjectNotFound) {
		err = nil
	}
	if err != nil {
		logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Str("bucket", payload.Bucket).
			Str("key", payload.Key).
			Int("attempt", task.Attempts+1).
			Msg("taskqueue: orphan object delete failed")
		return err // retried with backoff
	}

	logger.Debug().
		Str("task_id", task.ID).
		Str("bucket", payload.Bucket).
		Str("key", payload.Key).
		Str("upload_request_id", payload.UploadRequestID).
		Msg("taskqueue: orphan object deleted")
	return nil
}

// EnqueueObjectCleanup schedules deletion of an orphaned object.
func EnqueueObjectCleanup(ctx context.Context, q taskqueue.Enqueuer, payload ObjectCleanupPayload) error {
	data, err := taskqueue.MarshalPayload(payload)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, &taskqueue.Task{
		ID:       uuid.NewString(),
		Type:     taskqueue.TaskTypeObjectCleanup,
		Priority: taskqueue.PriorityNormal,
		Payload:  data,
	})
}

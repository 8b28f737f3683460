// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"

	"github.com/google/uuid"
)

// Emitter queues upload events for async delivery via the taskqueue.
// A nil *Emitter is valid and drops everything.
type Emitter struct {
	queue      taskqueue.Enqueuer
	enabled    bool
	maxRetries int

	// monotonic counter for event ordering
	sequencer atomic.Uint64
}

// EmitterConfig configures the event emitter.
type EmitterConfig struct {
	// Queue persists events. If nil, events are silently dropped.
	Queue taskqueue.Enqueuer

	// Enabled controls whether events are queued.
	Enabled bool

	// MaxRetries bounds delivery attempts (default: taskqueue.DefaultMaxRetries).
	MaxRetries int
}

// NewEmitter creates an event emitter.
func NewEmitter(cfg EmitterConfig) *Emitter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = taskqueue.DefaultMaxRetries
	}
	return &Emitter{
		queue:      cfg.Queue,
		enabled:    cfg.Enabled && cfg.Queue != nil,
		maxRetries: cfg.MaxRetries,
	}
}

// NoopEmitter returns an emitter that drops all events.
func NoopEmitter() *Emitter {
	return &Emitter{}
}

// Emit queues an event for delivery and returns immediately. Failures are
// logged and counted, never returned: an upload must not fail because its
// notification could not be queued.
func (e *Emitter) Emit(ctx context.Context, payload *Payload) {
	if payload == nil {
		return
	}
	if e == nil || !e.enabled {
		eventsEmitted.WithLabelValues(payload.EventName, emitDisabled).Inc()
		return
	}

	if payload.Sequencer == "" {
		payload.Sequencer = e.nextSequencer()
	}
	if payload.Timestamp == 0 {
		payload.Timestamp = time.Now().UnixMilli()
	}

	data, err := taskqueue.MarshalPayload(payload)
	if err != nil {
		eventsEmitted.WithLabelValues(payload.EventName, emitMarshalError).Inc()
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("event", payload.EventName).
			Str("upload_request_id", payload.UploadRequestID).
			Msg("failed to marshal event payload")
		return
	}

	task := &taskqueue.Task{
		ID:         uuid.NewString(),
		Type:       taskqueue.TaskTypeUploadEvent,
		Priority:   taskqueue.PriorityLow,
		Payload:    data,
		MaxRetries: e.maxRetries,
	}

	// Delivery must outlive the request that triggered it.
	if err := e.queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		eventsEmitted.WithLabelValues(payload.EventName, emitEnqueueError).Inc()
		logger.Ctx(ctx).Warn().
			Err(err).
			Str("event", payload.EventName).
			Str("upload_request_id", payload.UploadRequestID).
			Msg("failed to queue event")
		return
	}

	eventsEmitted.WithLabelValues(payload.EventName, emitQueued).Inc()
	logger.Ctx(ctx).Debug().
		Str("event", payload.EventName).
		Str("upload_request_id", payload.UploadRequestID).
		Str("task_id", task.ID).
		Msg("queued upload event")
}

// EmitRequest emits eventType for req. fm may be nil.
func (e *Emitter) EmitRequest(ctx context.Context, eventType EventType, req *types.UploadRequest, fm *types.FileMetadata) {
	if req == nil {
		return
	}
	e.Emit(ctx, PayloadFor(eventType, req, fm))
}

// IsEnabled returns whether the emitter is enabled.
func (e *Emitter) IsEnabled() bool {
	return e != nil && e.enabled
}

// nextSequencer generates a unique, monotonically increasing sequencer value.
// Format: hex(timestamp_ms) + hex(counter) + random_suffix
func (e *Emitter) nextSequencer() string {
	ts := time.Now().UnixMilli()
	seq := e.sequencer.Add(1)

	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)

	return hex.EncodeToString([]byte{
		byte(ts >> 40), byte(ts >> 32), byte(ts >> 24), byte(ts >> 16),
		byte(ts >> 8), byte(ts),
		byte(seq >> 8), byte(seq),
	}) + hex.EncodeToString(suffix)
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"testing"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterDisabled(t *testing.T) {
	t.Parallel()

	emitter := NoopEmitter()
	assert.False(t, emitter.IsEnabled())
	emitter.Emit(context.Background(), &Payload{EventName: string(EventUploadCompleted)})

	var nilEmitter *Emitter
	assert.False(t, nilEmitter.IsEnabled())
	nilEmitter.EmitRequest(context.Background(), EventUploadFailed, &types.UploadRequest{ID: "x"}, nil)
}

func TestEmitterEnabledNoQueue(t *testing.T) {
	t.Parallel()

	emitter := NewEmitter(EmitterConfig{Enabled: true})
	assert.False(t, emitter.IsEnabled())
}

func TestEmitterWithMemoryQueue(t *testing.T) {
	t.Parallel()

	queue := taskqueue.NewMemoryQueue()
	emitter := NewEmitter(EmitterConfig{Enabled: true, Queue: queue, MaxRetries: 7})
	require.True(t, emitter.IsEnabled())

	ctx := context.Background()
	req := &types.UploadRequest{ID: "req-1", ClientID: "c1", UploadID: "u1", Checksum: "abc"}
	emitter.EmitRequest(ctx, EventUploadCompleted, req, &types.FileMetadata{ID: "fm-1"})

	tasks, err := queue.List(ctx, taskqueue.TaskFilter{Type: taskqueue.TaskTypeUploadEvent})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 7, tasks[0].MaxRetries)

	payload, err := taskqueue.UnmarshalPayload[Payload](tasks[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "upload.completed", payload.EventName)
	assert.Equal(t, "req-1", payload.UploadRequestID)
	assert.Equal(t, "fm-1", payload.FileMetadataID)
	assert.NotEmpty(t, payload.Sequencer)
	assert.NotZero(t, payload.Timestamp)
}

func TestEmitterSurvivesCancelledContext(t *testing.T) {
	t.Parallel()

	queue := taskqueue.NewMemoryQueue()
	emitter := NewEmitter(EmitterConfig{Enabled: true, Queue: queue})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emitter.Emit(ctx, &Payload{EventName: string(EventUploadCancelled), UploadRequestID: "r"})

	stats, err := queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestEmitterEnqueueFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	queue := taskqueue.NewMemoryQueue()
	require.NoError(t, queue.Close())
	emitter := NewEmitter(EmitterConfig{Enabled: true, Queue: queue})

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), &Payload{EventName: string(EventUploadFailed)})
	})
}

func TestNextSequencer_Unique(t *testing.T) {
	t.Parallel()

	e := NewEmitter(EmitterConfig{})
	seen := make(map[string]bool)
	for range 1000 {
		s := e.nextSequencer()
		assert.Len(t, s, 24)
		assert.False(t, seen[s])
		seen[s] = true
	}
}

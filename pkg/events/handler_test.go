package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	name string
	err  error

	mu     sync.Mutex
	keys   []string
	events [][]byte
	closed bool
}

func (p *recordingPublisher) Name() string { return p.name }

func (p *recordingPublisher) Publish(_ context.Context, key string, event []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func eventTask(t *testing.T, p Payload) *taskqueue.Task {
	t.Helper()
	data, err := taskqueue.MarshalPayload(p)
	require.NoError(t, err)
	return &taskqueue.Task{ID: "task-1", Type: taskqueue.TaskTypeUploadEvent, Payload: data}
}

func TestHandler_DeliversToAllPublishers(t *testing.T) {
	t.Parallel()

	a := &recordingPublisher{name: "a"}
	b := &recordingPublisher{name: "b"}
	h := NewHandler([]Publisher{a, b}, nil, "uploader-test")
	assert.Equal(t, taskqueue.TaskTypeUploadEvent, h.Type())

	err := h.Handle(context.Background(), eventTask(t, Payload{
		EventName:       string(EventUploadCompleted),
		UploadRequestID: "req-1",
		ClientID:        "client-1",
		UploadID:        "up-1",
		Sequencer:       "seq",
	}))
	require.NoError(t, err)

	for _, p := range []*recordingPublisher{a, b} {
		require.Len(t, p.events, 1)
		assert.Equal(t, []string{"client-1"}, p.keys)

		var ev Event
		require.NoError(t, json.Unmarshal(p.events[0], &ev))
		assert.Equal(t, "upload.completed", ev.Type)
		assert.Equal(t, "uploader-test", ev.Source)
		assert.Equal(t, "req-1", ev.Data.UploadRequestID)
	}
}

func TestHandler_PublisherFailureRetries(t *testing.T) {
	t.Parallel()

	ok := &recordingPublisher{name: "ok"}
	broken := &recordingPublisher{name: "broken", err: errors.New("broker down")}
	h := NewHandler([]Publisher{ok, broken}, nil, "uploader")

	err := h.Handle(context.Background(), eventTask(t, Payload{EventName: string(EventUploadFailed), ClientID: "c"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.events, 1)
}

func TestHandler_FiltersEventTypes(t *testing.T) {
	t.Parallel()

	p := &recordingPublisher{name: "p"}
	h := NewHandler([]Publisher{p}, []string{string(EventUploadCompleted)}, "uploader")

	require.NoError(t, h.Handle(context.Background(), eventTask(t, Payload{EventName: string(EventUploadFailed)})))
	assert.Empty(t, p.events)

	require.NoError(t, h.Handle(context.Background(), eventTask(t, Payload{EventName: string(EventUploadCompleted)})))
	assert.Len(t, p.events, 1)
}

func TestHandler_MalformedPayloadIsDropped(t *testing.T) {
	t.Parallel()

	p := &recordingPublisher{name: "p"}
	h := NewHandler([]Publisher{p}, nil, "uploader")

	err := h.Handle(context.Background(), &taskqueue.Task{ID: "bad", Payload: json.RawMessage(`{not json`)})
	assert.NoError(t, err)
	assert.Empty(t, p.events)
}

func TestHandler_Close(t *testing.T) {
	t.Parallel()

	a := &recordingPublisher{name: "a"}
	h := NewHandler([]Publisher{a}, nil, "uploader")
	require.NoError(t, h.Close())
	assert.True(t, a.closed)
}

func TestNewPublishers_NoneEnabled(t *testing.T) {
	t.Parallel()

	pubs, err := NewPublishers(DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, pubs)
}

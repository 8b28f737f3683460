package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"
)

// Publisher is the interface for event notification backends.
type Publisher interface {
	// Name returns the publisher identifier (e.g., "redis", "kafka").
	Name() string

	// Publish sends an encoded event. key groups events that must stay
	// ordered (the client id).
	Publish(ctx context.Context, key string, event []byte) error

	Close() error
}

// Handler delivers queued upload events to publishers.
type Handler struct {
	publishers []Publisher
	eventTypes []EventType
	source     string
}

var _ taskqueue.Handler = (*Handler)(nil)

// NewHandler creates a delivery handler. An empty eventTypes list delivers
// every event.
func NewHandler(publishers []Publisher, eventTypes []string, source string) *Handler {
	h := &Handler{publishers: publishers, source: source}
	for _, et := range eventTypes {
		h.eventTypes = append(h.eventTypes, EventType(et))
	}
	return h
}

// Type returns the task type this handler processes.
func (h *Handler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeUploadEvent
}

// Handle delivers the event to every publisher. Any publisher failure makes
// the task retry; publishers must therefore tolerate duplicates, which the
// event id allows consumers to detect.
func (h *Handler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[Payload](task.Payload)
	if err != nil {
		// retrying cannot fix a malformed payload
		logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to unmarshal event payload")
		return nil
	}

	if !h.wants(payload.EventName) {
		return nil
	}
	if len(h.publishers) == 0 {
		logger.Debug().Str("event", payload.EventName).Msg("no event publishers configured, dropping event")
		return nil
	}

	data, err := json.Marshal(BuildEvent(&payload, h.source))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to marshal upload event")
		return nil
	}

	var errs []error
	for _, pub := range h.publishers {
		start := time.Now()
		if err := pub.Publish(ctx, payload.ClientID, data); err != nil {
			logger.Warn().
				Err(err).
				Str("publisher", pub.Name()).
				Str("event", payload.EventName).
				Str("upload_request_id", payload.UploadRequestID).
				Msg("failed to publish event")
			eventsPublished.WithLabelValues(pub.Name(), "error").Inc()
			errs = append(errs, err)
			continue
		}
		publishDuration.WithLabelValues(pub.Name()).Observe(time.Since(start).Seconds())
		eventsPublished.WithLabelValues(pub.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

func (h *Handler) wants(eventName string) bool {
	if len(h.eventTypes) == 0 {
		return true
	}
	for _, et := range h.eventTypes {
		if MatchesEventType(et, eventName) {
			return true
		}
	}
	return false
}

// Close closes every publisher.
func (h *Handler) Close() error {
	var errs []error
	for _, pub := range h.publishers {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewPublishers builds the publishers enabled in cfg.
func NewPublishers(cfg Config) ([]Publisher, error) {
	var pubs []Publisher
	if cfg.Kafka.Enabled {
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.Redis.Enabled {
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			for _, opened := range pubs {
				_ = opened.Close()
			}
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

package events

import (
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// emitted outcomes
const (
	emitQueued       = "queued"
	emitDisabled     = "disabled"
	emitMarshalError = "marshal_error"
	emitEnqueueError = "enqueue_error"
)

var (
	eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "events",
		Name:      "emitted_total",
		Help:      "Upload events handed to the emitter, by outcome",
	}, []string{"event", "outcome"})

	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Deliveries to a publisher, by result",
	}, []string{"publisher", "result"})

	publishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uploader",
		Subsystem: "events",
		Name:      "publish_duration_seconds",
		Help:      "Latency of successful publishes",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10),
	}, []string{"publisher"})
)

func init() {
	debug.Registry().MustRegister(eventsEmitted, eventsPublished, publishDuration)
}

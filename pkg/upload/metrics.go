package upload

import (
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uploader",
			Subsystem: "upload",
			Name:      "submissions_total",
			Help:      "Upload submissions by outcome status",
		},
		[]string{"mode", "outcome"},
	)

	uploadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "upload",
		Name:      "stored_bytes_total",
		Help:      "Bytes written to the object store",
	})

	uploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "uploader",
		Subsystem: "upload",
		Name:      "store_duration_seconds",
		Help:      "Time from acquisition to completion or failure",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	dedupHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "upload",
		Name:      "dedup_hits_total",
		Help:      "Submissions answered from a prior upload with the same checksum",
	})

	compensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uploader",
			Subsystem: "upload",
			Name:      "compensations_total",
			Help:      "Compensating cleanup steps by step and result",
		},
		[]string{"step", "result"},
	)

	asyncInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "uploader",
		Subsystem: "upload",
		Name:      "async_inflight",
		Help:      "Async uploads currently running on the worker pool",
	})

	asyncRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "upload",
		Name:      "async_rejected_total",
		Help:      "Async submissions rejected because the worker pool was full",
	})
)

func init() {
	debug.Registry().MustRegister(
		uploadsTotal,
		uploadBytesTotal,
		uploadDuration,
		dedupHitsTotal,
		compensationsTotal,
		asyncInflight,
		asyncRejectedTotal,
	)
}

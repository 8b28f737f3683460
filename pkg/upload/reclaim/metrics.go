package reclaim

import (
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uploader",
			Subsystem: "reclaim",
			Name:      "runs_total",
			Help:      "Total number of reclaimer sweeps",
		},
		[]string{"sweep"},
	)

	sweepRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "uploader",
			Subsystem: "reclaim",
			Name:      "records_total",
			Help:      "Records handled by reclaimer sweeps, by result",
		},
		[]string{"sweep", "result"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "uploader",
			Subsystem: "reclaim",
			Name:      "duration_seconds",
			Help:      "Duration of reclaimer sweeps",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)
)

func init() {
	debug.Registry().MustRegister(
		sweepRunsTotal,
		sweepRecordsTotal,
		sweepDuration,
	)
}

package idempotency

import (
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultApplied  = "applied"
	resultRejected = "rejected"
	resultExisting = "existing"
	resultError    = "error"
)

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "uploader",
	Subsystem: "idempotency",
	Name:      "transitions_total",
	Help:      "Conditional upload request transitions by operation and result",
}, []string{"operation", "result"})

func init() {
	debug.Registry().MustRegister(transitionsTotal)
}

func result(applied bool) string {
	if applied {
		return resultApplied
	}
	return resultRejected
}

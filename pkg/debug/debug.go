// Package debug serves the operational endpoints of the uploader: Prometheus
// metrics, liveness and readiness probes, and pprof.
package debug

import (
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	checksMu sync.RWMutex
	checks   = make(map[string]func() error)

	handlersMu sync.RWMutex
	handlers   = make(map[string]http.Handler)

	// Global registry for service metrics
	globalRegistry = prometheus.NewRegistry()
)

func SetReady() {
	ready.Store(true)
}

func SetNotReady() {
	ready.Store(false)
}

// AddReadyCheck registers a named dependency check consulted by /ready.
// A check returning an error marks the service not ready.
func AddReadyCheck(name string, check func() error) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks[name] = check
}

// IsReady reports whether SetReady was called and every registered check passes.
func IsReady() bool {
	_, ok := readiness()
	return ok
}

func readiness() (map[string]string, bool) {
	failures := make(map[string]string)
	if !ready.Load() {
		failures["startup"] = "not ready"
	}

	checksMu.RLock()
	defer checksMu.RUnlock()
	for name, check := range checks {
		if err := check(); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures, len(failures) == 0
}

// RegisterHandler registers a custom handler on the debug mux.
// Must be called before GetMux() to be included.
func RegisterHandler(pattern string, handler http.Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[pattern] = handler
}

// Registry returns the Prometheus registry for registering custom metrics.
func Registry() prometheus.Registerer {
	return globalRegistry
}

// Gatherer exposes the custom registry for tests and the /metrics handler.
func Gatherer() prometheus.Gatherer {
	return globalRegistry
}

func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		globalRegistry,
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		failures, ok := readiness()
		if ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		for name, reason := range failures {
			_, _ = w.Write([]byte(name + ": " + reason + "\n"))
		}
	})

	handlersMu.RLock()
	defer handlersMu.RUnlock()
	for pattern, handler := range handlers {
		mux.Handle(pattern, handler)
	}

	return mux
}

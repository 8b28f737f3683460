// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the upload service over HTTP under /api/v1/files.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload"

	"github.com/dustin/go-humanize"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
)

// multipartOverhead is allowed on top of the file size for form fields and boundaries.
const multipartOverhead = 1 << 20

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uploader",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uploader",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route"})
)

func init() {
	debug.Registry().MustRegister(requestsTotal, requestDuration)
}

type Config struct {
	Service upload.Service

	// MaxUploadBytes caps the file part; 0 means upload.DefaultMaxFileSize.
	MaxUploadBytes int64

	// JWTSecret enables bearer authentication when set.
	JWTSecret []byte

	RateLimitEnabled bool
	RateLimit        RateLimitConfig
	// RedisLimiter shares the rate limit budget across replicas; optional.
	RedisLimiter *RedisRateLimiter
}

type handlerFunc func(d *Data, w http.ResponseWriter)

type dataKey struct{}

// Server routes API requests through the filter chain and into handlers.
type Server struct {
	svc            upload.Service
	maxUploadBytes int64

	chain *Chain
	mux   *http.ServeMux
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("api: upload service is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = upload.DefaultMaxFileSize
	}

	chain := NewChain(NewRequestIDFilter())
	if len(cfg.JWTSecret) > 0 {
		chain.AddFilter(NewAuthenticationFilter(cfg.JWTSecret))
	}
	if cfg.RateLimitEnabled {
		chain.AddFilter(NewRateLimitFilter(cfg.RateLimit, cfg.RedisLimiter))
	}

	s := &Server{
		svc:            cfg.Service,
		maxUploadBytes: cfg.MaxUploadBytes,
		chain:          chain,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.handle("GET /health", s.handleHealth)
	s.handle("GET "+basePath+"/health", s.handleHealth)

	s.handle("POST "+basePath+"/upload", s.handleUpload)
	s.handle("GET "+basePath+"/{uploadRequestId}", s.handleInfo)
	s.handle("DELETE "+basePath+"/{uploadRequestId}", s.handleCancel)
	// {id}/status and download/{fileId} overlap as patterns, so one route
	// serves both and dispatches on the segments.
	s.handle("GET "+basePath+"/{first}/{second}", s.handleTwoSegments)
	s.handle("GET "+basePath+"/download/{fileId}/url", s.handlePresign)
}

func (s *Server) handle(pattern string, h handlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		d, ok := r.Context().Value(dataKey{}).(*Data)
		if !ok {
			d = NewData(r.Context(), w, r)
		}
		d.Req = r
		h(d, w)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	wrapped := &wrappedResponseRecorder{ResponseWriter: w}
	d := NewData(r.Context(), wrapped, r)
	routed := r

	defer func() {
		if rec := recover(); rec != nil {
			s.recoverPanic(d, wrapped, rec)
		}
		s.observe(d, wrapped, routed, start)
	}()

	if stoppedBy, stopped, err := s.chain.Run(d); stopped {
		if err != nil {
			logger.Ctx(d.Ctx).Warn().Err(err).Str("filter", stoppedBy).Msg("filter chain failed")
			if !wrapped.written() {
				writeError(wrapped, d, err)
			}
		}
		return
	}

	routed = r.WithContext(context.WithValue(d.Ctx, dataKey{}, d))
	d.Req = routed
	s.mux.ServeHTTP(wrapped, routed)
}

func (s *Server) recoverPanic(d *Data, w *wrappedResponseRecorder, rec any) {
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("request_id", d.RequestID)
		scope.SetTag("path", d.Req.URL.Path)
	})
	hub.RecoverWithContext(d.Ctx, rec)

	logger.Ctx(d.Ctx).Error().Str("panic", fmt.Sprint(rec)).Msg("handler panicked")
	if !w.written() {
		writeErrorBody(w, d, http.StatusInternalServerError, upload.ErrCodeInternal.String(), "internal error")
	}
}

func (s *Server) observe(d *Data, w *wrappedResponseRecorder, r *http.Request, start time.Time) {
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	status := w.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	code := strconv.Itoa(status)
	// A client that went away is not a server error.
	if status == http.StatusInternalServerError && errors.Is(r.Context().Err(), context.Canceled) {
		code = "canceled"
	}
	elapsed := time.Since(start)
	requestsTotal.WithLabelValues(route, code).Inc()
	requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())

	ev := logger.Ctx(d.Ctx).Info()
	if isPublicPath(r.URL.Path) {
		ev = logger.Ctx(d.Ctx).Debug()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("bytes", humanize.IBytes(uint64(w.bytesWritten))).
		Dur("duration", elapsed).
		Msg("request")
}

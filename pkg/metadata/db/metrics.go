// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"errors"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for database operations
var (
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uploader_db_query_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	dbQueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploader_db_queries_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	dbConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uploader_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	dbConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uploader_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func init() {
	debug.Registry().MustRegister(
		dbQueryDuration,
		dbQueryTotal,
		dbConnectionsActive,
		dbConnectionsIdle,
	)
}

// UpdateConnectionMetrics updates connection pool metrics from sql.DBStats
func UpdateConnectionMetrics(inUse, idle int) {
	dbConnectionsActive.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

// recordMetric records timing and status for an operation. A miss is not
// counted as an error.
func recordMetric(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	dbQueryDuration.WithLabelValues(operation, status).Observe(duration)
	dbQueryTotal.WithLabelValues(operation, status).Inc()
}

// MetricsDB wraps a DB implementation and adds metrics instrumentation
type MetricsDB struct {
	db DB
}

var _ DB = (*MetricsDB)(nil)

// NewMetricsDB creates a new metrics-instrumented DB wrapper
func NewMetricsDB(db DB) *MetricsDB {
	return &MetricsDB{db: db}
}

// Unwrap returns the underlying DB implementation
func (m *MetricsDB) Unwrap() DB {
	return m.db
}

func (m *MetricsDB) Close() error {
	return m.db.Close()
}

func (m *MetricsDB) Ping(ctx context.Context) error {
	start := time.Now()
	err := m.db.Ping(ctx)
	recordMetric("ping", start, err)
	return err
}

func (m *MetricsDB) Migrate(ctx context.Context) error {
	start := time.Now()
	err := m.db.Migrate(ctx)
	recordMetric("migrate", start, err)
	return err
}

// ============================================================================
// RequestStore implementation
// ============================================================================

func (m *MetricsDB) InsertRequestIfAbsent(ctx context.Context, req *types.UploadRequest) (bool, error) {
	start := time.Now()
	inserted, err := m.db.InsertRequestIfAbsent(ctx, req)
	recordMetric("insert_request", start, err)
	return inserted, err
}

func (m *MetricsDB) GetRequest(ctx context.Context, id string) (*types.UploadRequest, error) {
	start := time.Now()
	req, err := m.db.GetRequest(ctx, id)
	recordMetric("get_request", start, err)
	return req, err
}

func (m *MetricsDB) GetRequestByKey(ctx context.Context, clientID, uploadID string) (*types.UploadRequest, error) {
	start := time.Now()
	req, err := m.db.GetRequestByKey(ctx, clientID, uploadID)
	recordMetric("get_request_by_key", start, err)
	return req, err
}

func (m *MetricsDB) TransitionRequest(ctx context.Context, id string, t RequestTransition) (bool, error) {
	start := time.Now()
	ok, err := m.db.TransitionRequest(ctx, id, t)
	recordMetric("transition_request_"+string(t.To), start, err)
	return ok, err
}

func (m *MetricsDB) FindCompletedByChecksum(ctx context.Context, clientID, checksum string) (*types.UploadRequest, error) {
	start := time.Now()
	req, err := m.db.FindCompletedByChecksum(ctx, clientID, checksum)
	recordMetric("find_by_checksum", start, err)
	return req, err
}

func (m *MetricsDB) ListRequests(ctx context.Context, filter RequestFilter) ([]*types.UploadRequest, error) {
	start := time.Now()
	reqs, err := m.db.ListRequests(ctx, filter)
	recordMetric("list_requests", start, err)
	return reqs, err
}

func (m *MetricsDB) DeleteRequest(ctx context.Context, id string, statuses []types.UploadStatus, olderThan time.Time) (bool, error) {
	start := time.Now()
	ok, err := m.db.DeleteRequest(ctx, id, statuses, olderThan)
	recordMetric("delete_request", start, err)
	return ok, err
}

// ============================================================================
// FileStore implementation
// ============================================================================

func (m *MetricsDB) CreateFileMetadata(ctx context.Context, fm *types.FileMetadata) error {
	start := time.Now()
	err := m.db.CreateFileMetadata(ctx, fm)
	recordMetric("create_file_metadata", start, err)
	return err
}

func (m *MetricsDB) UpdateFileMetadata(ctx context.Context, fm *types.FileMetadata) error {
	start := time.Now()
	err := m.db.UpdateFileMetadata(ctx, fm)
	recordMetric("update_file_metadata", start, err)
	return err
}

func (m *MetricsDB) GetFileMetadata(ctx context.Context, id string) (*types.FileMetadata, error) {
	start := time.Now()
	fm, err := m.db.GetFileMetadata(ctx, id)
	recordMetric("get_file_metadata", start, err)
	return fm, err
}

func (m *MetricsDB) GetFileMetadataByRequest(ctx context.Context, uploadRequestID string) (*types.FileMetadata, error) {
	start := time.Now()
	fm, err := m.db.GetFileMetadataByRequest(ctx, uploadRequestID)
	recordMetric("get_file_metadata_by_request", start, err)
	return fm, err
}

func (m *MetricsDB) DeleteFileMetadata(ctx context.Context, id string) error {
	start := time.Now()
	err := m.db.DeleteFileMetadata(ctx, id)
	recordMetric("delete_file_metadata", start, err)
	return err
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of db.DB for tests and
// single-process development. Every operation runs under one mutex, so the
// conditional transitions have the same all-or-nothing semantics as the SQL
// UPDATE ... WHERE statements.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
)

// DB is an in-memory database implementation.
type DB struct {
	mu sync.RWMutex

	requests map[string]*types.UploadRequest
	byKey    map[string]string // clientID/uploadID -> request id
	files    map[string]*types.FileMetadata
	byReq    map[string]string // upload request id -> file metadata id

	now func() time.Time
}

// Option configures the in-memory DB.
type Option func(*DB)

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// New creates a new in-memory database.
func New(opts ...Option) *DB {
	d := &DB{
		requests: make(map[string]*types.UploadRequest),
		byKey:    make(map[string]string),
		files:    make(map[string]*types.FileMetadata),
		byReq:    make(map[string]string),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ db.DB = (*DB)(nil)

func requestKey(clientID, uploadID string) string {
	return clientID + "/" + uploadID
}

func (d *DB) Ping(context.Context) error    { return nil }
func (d *DB) Migrate(context.Context) error { return nil }
func (d *DB) Close() error                  { return nil }

// ============================================================================
// RequestStore
// ============================================================================

func (d *DB) InsertRequestIfAbsent(ctx context.Context, req *types.UploadRequest) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := requestKey(req.ClientID, req.UploadID)
	if _, exists := d.byKey[key]; exists {
		return false, nil
	}
	if _, exists := d.requests[req.ID]; exists {
		return false, db.ErrConflict
	}

	d.requests[req.ID] = req.Clone()
	d.byKey[key] = req.ID
	return true, nil
}

func (d *DB) GetRequest(ctx context.Context, id string) (*types.UploadRequest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.requests[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return r.Clone(), nil
}

func (d *DB) GetRequestByKey(ctx context.Context, clientID, uploadID string) (*types.UploadRequest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byKey[requestKey(clientID, uploadID)]
	if !ok {
		return nil, db.ErrNotFound
	}
	return d.requests[id].Clone(), nil
}

func (d *DB) TransitionRequest(ctx context.Context, id string, t db.RequestTransition) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.requests[id]
	if !ok || !slices.Contains(t.From, r.Status) {
		return false, nil
	}
	if t.RequireRetryBudget && r.Status == types.UploadStatusFailed && r.AttemptCount >= r.MaxAttempts {
		return false, nil
	}
	if t.ExpectAttempt != nil && r.AttemptCount != *t.ExpectAttempt {
		return false, nil
	}

	now := t.Now
	if now.IsZero() {
		now = d.now()
	}

	r.Status = t.To
	r.UpdatedAt = now
	r.Version++
	if t.IncrementAttempt {
		r.AttemptCount++
	}
	switch {
	case t.ClearError:
		r.ErrorMessage = ""
	case t.ErrorMessage != nil:
		r.ErrorMessage = *t.ErrorMessage
	}
	if t.FileMetadataID != "" {
		r.FileMetadataID = t.FileMetadataID
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		r.CompletedAt = &c
	}
	return true, nil
}

func (d *DB) FindCompletedByChecksum(ctx context.Context, clientID, checksum string) (*types.UploadRequest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var best *types.UploadRequest
	for _, r := range d.requests {
		if r.ClientID != clientID || r.Checksum != checksum || r.Status != types.UploadStatusCompleted {
			continue
		}
		if best == nil || completedAt(r).After(completedAt(best)) {
			best = r
		}
	}
	if best == nil {
		return nil, db.ErrNotFound
	}
	return best.Clone(), nil
}

func completedAt(r *types.UploadRequest) time.Time {
	if r.CompletedAt == nil {
		return time.Time{}
	}
	return *r.CompletedAt
}

func (d *DB) ListRequests(ctx context.Context, filter db.RequestFilter) ([]*types.UploadRequest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*types.UploadRequest
	for _, r := range d.requests {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, r.Status) {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		if c := filter.After; c != nil && !after(r, c) {
			continue
		}
		out = append(out, r.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// after reports whether r sorts strictly past c in (updated_at, id) order.
func after(r *types.UploadRequest, c *db.RequestCursor) bool {
	if !r.UpdatedAt.Equal(c.UpdatedAt) {
		return r.UpdatedAt.After(c.UpdatedAt)
	}
	return r.ID > c.ID
}

func (d *DB) DeleteRequest(ctx context.Context, id string, statuses []types.UploadStatus, olderThan time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.requests[id]
	if !ok {
		return false, nil
	}
	if len(statuses) > 0 && !slices.Contains(statuses, r.Status) {
		return false, nil
	}
	if !olderThan.IsZero() && !r.UpdatedAt.Before(olderThan) {
		return false, nil
	}

	delete(d.requests, id)
	delete(d.byKey, requestKey(r.ClientID, r.UploadID))
	return true, nil
}

// ============================================================================
// FileStore
// ============================================================================

func (d *DB) CreateFileMetadata(ctx context.Context, fm *types.FileMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byReq[fm.UploadRequestID]; exists {
		return db.ErrConflict
	}
	if _, exists := d.files[fm.ID]; exists {
		return db.ErrConflict
	}
	d.files[fm.ID] = fm.Clone()
	d.byReq[fm.UploadRequestID] = fm.ID
	return nil
}

func (d *DB) UpdateFileMetadata(ctx context.Context, fm *types.FileMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.files[fm.ID]
	if !ok {
		return db.ErrNotFound
	}
	updated := fm.Clone()
	// identity columns are immutable
	updated.ClientID = existing.ClientID
	updated.UploadID = existing.UploadID
	updated.UploadRequestID = existing.UploadRequestID
	updated.OriginalFilename = existing.OriginalFilename
	updated.CreatedAt = existing.CreatedAt
	d.files[fm.ID] = updated
	return nil
}

func (d *DB) GetFileMetadata(ctx context.Context, id string) (*types.FileMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	fm, ok := d.files[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return fm.Clone(), nil
}

func (d *DB) GetFileMetadataByRequest(ctx context.Context, uploadRequestID string) (*types.FileMetadata, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byReq[uploadRequestID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return d.files[id].Clone(), nil
}

func (d *DB) DeleteFileMetadata(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fm, ok := d.files[id]
	if !ok {
		return nil
	}
	delete(d.files, id)
	delete(d.byReq, fm.UploadRequestID)
	return nil
}

// FileCount returns the number of stored file metadata rows.
func (d *DB) FileCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.files)
}

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
)

// ============================================================================
// RequestStore Implementation
// ============================================================================

func (s *Store) InsertRequestIfAbsent(ctx context.Context, req *types.UploadRequest) (bool, error) {
	query := fmt.Sprintf("INSERT %sINTO upload_requests (%s) VALUES (%s)%s",
		s.dialect.InsertIgnorePrefix(),
		requestColumns,
		s.dialect.PlaceholderRange(1, requestColumnCount),
		s.dialect.InsertIgnoreSuffix("client_id, upload_id"),
	)

	result, err := s.Exec(ctx, query, requestValues(req)...)
	if err != nil {
		return false, fmt.Errorf("insert upload request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert upload request: %w", err)
	}
	return rows == 1, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*types.UploadRequest, error) {
	row := s.QueryRow(ctx, "SELECT "+requestColumns+" FROM upload_requests WHERE id = $1", id)
	return scanRequest(row)
}

func (s *Store) GetRequestByKey(ctx context.Context, clientID, uploadID string) (*types.UploadRequest, error) {
	row := s.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM upload_requests WHERE client_id = $1 AND upload_id = $2",
		clientID, uploadID)
	return scanRequest(row)
}

// buildTransition renders the conditional UPDATE for t. The WHERE clause is the
// only concurrency control: zero affected rows means another writer moved the
// row first.
func buildTransition(d Dialect, id string, t db.RequestTransition, now time.Time) (string, []any) {
	if !t.Now.IsZero() {
		now = t.Now
	}
	a := &args{d: d}

	sets := []string{
		"status = " + a.add(string(t.To)),
		"updated_at = " + a.add(now.UnixNano()),
		"version = version + 1",
	}
	if t.IncrementAttempt {
		sets = append(sets, "attempt_count = attempt_count + 1")
	}
	switch {
	case t.ClearError:
		sets = append(sets, "error_message = NULL")
	case t.ErrorMessage != nil:
		sets = append(sets, "error_message = "+a.add(*t.ErrorMessage))
	}
	if t.FileMetadataID != "" {
		sets = append(sets, "file_metadata_id = "+a.add(t.FileMetadataID))
	}
	if t.CompletedAt != nil {
		sets = append(sets, "completed_at = "+a.add(t.CompletedAt.UnixNano()))
	}

	where := "id = " + a.add(id) + " AND status IN (" + a.addStatuses(t.From) + ")"
	if t.RequireRetryBudget {
		where += " AND (status <> 'FAILED' OR attempt_count < max_attempts)"
	}
	if t.ExpectAttempt != nil {
		where += " AND attempt_count = " + a.add(*t.ExpectAttempt)
	}

	return "UPDATE upload_requests SET " + strings.Join(sets, ", ") + " WHERE " + where, a.vals
}

func (s *Store) TransitionRequest(ctx context.Context, id string, t db.RequestTransition) (bool, error) {
	if len(t.From) == 0 {
		return false, fmt.Errorf("transition to %s: no source statuses", t.To)
	}

	query, vals := buildTransition(s.dialect, id, t, s.now())
	result, err := s.Exec(ctx, query, vals...)
	if err != nil {
		return false, fmt.Errorf("transition upload request %s to %s: %w", id, t.To, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition upload request %s: %w", id, err)
	}
	return rows > 0, nil
}

func (s *Store) FindCompletedByChecksum(ctx context.Context, clientID, checksum string) (*types.UploadRequest, error) {
	row := s.QueryRow(ctx, "SELECT "+requestColumns+` FROM upload_requests
		WHERE client_id = $1 AND checksum = $2 AND status = $3
		ORDER BY completed_at DESC
		LIMIT 1`,
		clientID, checksum, string(types.UploadStatusCompleted))
	return scanRequest(row)
}

// buildList renders the sweep listing for filter. After is a keyset
// position, so a page never revisits rows an earlier page returned.
func buildList(d Dialect, filter db.RequestFilter) (string, []any) {
	a := &args{d: d}
	query := "SELECT " + requestColumns + " FROM upload_requests WHERE 1=1"
	if len(filter.Statuses) > 0 {
		query += " AND status IN (" + a.addStatuses(filter.Statuses) + ")"
	}
	if !filter.UpdatedBefore.IsZero() {
		query += " AND updated_at < " + a.add(filter.UpdatedBefore.UnixNano())
	}
	if c := filter.After; c != nil {
		ts := c.UpdatedAt.UnixNano()
		query += " AND (updated_at > " + a.add(ts) +
			" OR (updated_at = " + a.add(ts) + " AND id > " + a.add(c.ID) + "))"
	}
	query += " ORDER BY updated_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return query, a.vals
}

func (s *Store) ListRequests(ctx context.Context, filter db.RequestFilter) ([]*types.UploadRequest, error) {
	query, vals := buildList(s.dialect, filter)
	rows, err := s.Query(ctx, query, vals...)
	if err != nil {
		return nil, fmt.Errorf("list upload requests: %w", err)
	}
	defer rows.Close()

	var reqs []*types.UploadRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (s *Store) DeleteRequest(ctx context.Context, id string, statuses []types.UploadStatus, olderThan time.Time) (bool, error) {
	a := &args{d: s.dialect}
	query := "DELETE FROM upload_requests WHERE id = " + a.add(id)
	if len(statuses) > 0 {
		query += " AND status IN (" + a.addStatuses(statuses) + ")"
	}
	if !olderThan.IsZero() {
		query += " AND updated_at < " + a.add(olderThan.UnixNano())
	}

	result, err := s.Exec(ctx, query, a.vals...)
	if err != nil {
		return false, fmt.Errorf("delete upload request %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete upload request %s: %w", id, err)
	}
	return rows > 0, nil
}

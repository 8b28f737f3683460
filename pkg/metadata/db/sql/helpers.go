package sql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
)

// scanner is an interface for sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// args accumulates query arguments and hands out the matching placeholder.
type args struct {
	d    Dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.Placeholder(len(a.vals))
}

func (a *args) addStatuses(statuses []types.UploadStatus) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = a.add(string(s))
	}
	return strings.Join(parts, ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// ============================================================================
// UploadRequest Scanning
// ============================================================================

const requestColumns = `id, client_id, upload_id, status, attempt_count, max_attempts,
	checksum, file_metadata_id, error_message, original_filename, content_type,
	file_size, created_at, updated_at, completed_at, version`

const requestColumnCount = 16

func requestValues(r *types.UploadRequest) []any {
	return []any{
		r.ID, r.ClientID, r.UploadID, string(r.Status), r.AttemptCount, r.MaxAttempts,
		nullString(r.Checksum), nullString(r.FileMetadataID), nullString(r.ErrorMessage),
		nullString(r.OriginalFilename), nullString(r.ContentType),
		r.FileSize, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(), nullUnixNano(r.CompletedAt),
		r.Version,
	}
}

func scanRequest(s scanner) (*types.UploadRequest, error) {
	var (
		r                                    types.UploadRequest
		status                               string
		checksum, fileMetadataID, errMessage sql.NullString
		filename, contentType                sql.NullString
		createdAt, updatedAt                 int64
		completedAt                          sql.NullInt64
	)

	err := s.Scan(
		&r.ID, &r.ClientID, &r.UploadID, &status, &r.AttemptCount, &r.MaxAttempts,
		&checksum, &fileMetadataID, &errMessage, &filename, &contentType,
		&r.FileSize, &createdAt, &updatedAt, &completedAt, &r.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan upload request: %w", err)
	}

	if r.Status, err = types.ParseUploadStatus(status); err != nil {
		return nil, err
	}
	r.Checksum = checksum.String
	r.FileMetadataID = fileMetadataID.String
	r.ErrorMessage = errMessage.String
	r.OriginalFilename = filename.String
	r.ContentType = contentType.String
	r.CreatedAt = fromUnixNano(createdAt)
	r.UpdatedAt = fromUnixNano(updatedAt)
	if completedAt.Valid {
		t := fromUnixNano(completedAt.Int64)
		r.CompletedAt = &t
	}
	return &r, nil
}

// ============================================================================
// FileMetadata Scanning
// ============================================================================

const fileColumns = `id, client_id, upload_id, upload_request_id, original_filename,
	storage_filename, checksum, size, content_type, status, storage_provider,
	storage_bucket, storage_key, storage_url, storage_region, storage_etag,
	uploaded_at, metadata, created_at, updated_at`

const fileColumnCount = 20

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func fileValues(fm *types.FileMetadata) ([]any, error) {
	meta, err := encodeMetadata(fm.Metadata)
	if err != nil {
		return nil, err
	}
	var uploadedAt *time.Time
	if !fm.Storage.UploadedAt.IsZero() {
		uploadedAt = &fm.Storage.UploadedAt
	}
	return []any{
		fm.ID, fm.ClientID, fm.UploadID, fm.UploadRequestID, fm.OriginalFilename,
		fm.StorageFilename, fm.Checksum, fm.Size, fm.ContentType, string(fm.Status),
		fm.Storage.Provider, fm.Storage.Bucket, fm.Storage.Key,
		nullString(fm.Storage.URL), nullString(fm.Storage.Region), nullString(fm.Storage.ETag),
		nullUnixNano(uploadedAt), meta, fm.CreatedAt.UnixNano(), fm.UpdatedAt.UnixNano(),
	}, nil
}

func scanFileMetadata(s scanner) (*types.FileMetadata, error) {
	var (
		fm                   types.FileMetadata
		status               string
		url, region, etag    sql.NullString
		uploadedAt           sql.NullInt64
		meta                 sql.NullString
		createdAt, updatedAt int64
	)

	err := s.Scan(
		&fm.ID, &fm.ClientID, &fm.UploadID, &fm.UploadRequestID, &fm.OriginalFilename,
		&fm.StorageFilename, &fm.Checksum, &fm.Size, &fm.ContentType, &status,
		&fm.Storage.Provider, &fm.Storage.Bucket, &fm.Storage.Key,
		&url, &region, &etag, &uploadedAt, &meta, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file metadata: %w", err)
	}

	fm.Status = types.FileStatus(status)
	fm.Storage.URL = url.String
	fm.Storage.Region = region.String
	fm.Storage.ETag = etag.String
	if uploadedAt.Valid {
		fm.Storage.UploadedAt = fromUnixNano(uploadedAt.Int64)
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &fm.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	fm.CreatedAt = fromUnixNano(createdAt)
	fm.UpdatedAt = fromUnixNano(updatedAt)
	return &fm, nil
}

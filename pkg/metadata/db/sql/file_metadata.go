package sql

import (
	"context"
	"fmt"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
)

// ============================================================================
// FileStore Implementation
// ============================================================================

func (s *Store) CreateFileMetadata(ctx context.Context, fm *types.FileMetadata) error {
	vals, err := fileValues(fm)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO file_metadata (%s) VALUES (%s)",
		fileColumns, s.dialect.PlaceholderRange(1, fileColumnCount))
	if _, err := s.Exec(ctx, query, vals...); err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("file metadata for request %s: %w", fm.UploadRequestID, db.ErrConflict)
		}
		return fmt.Errorf("insert file metadata: %w", err)
	}
	return nil
}

func (s *Store) UpdateFileMetadata(ctx context.Context, fm *types.FileMetadata) error {
	meta, err := encodeMetadata(fm.Metadata)
	if err != nil {
		return err
	}

	var uploadedAt any
	if !fm.Storage.UploadedAt.IsZero() {
		uploadedAt = fm.Storage.UploadedAt.UnixNano()
	}

	result, err := s.Exec(ctx, `UPDATE file_metadata SET
			storage_filename = $1, checksum = $2, size = $3, content_type = $4, status = $5,
			storage_provider = $6, storage_bucket = $7, storage_key = $8, storage_url = $9,
			storage_region = $10, storage_etag = $11, uploaded_at = $12, metadata = $13,
			updated_at = $14
		WHERE id = $15`,
		fm.StorageFilename, fm.Checksum, fm.Size, fm.ContentType, string(fm.Status),
		fm.Storage.Provider, fm.Storage.Bucket, fm.Storage.Key, nullString(fm.Storage.URL),
		nullString(fm.Storage.Region), nullString(fm.Storage.ETag), uploadedAt, meta,
		fm.UpdatedAt.UnixNano(), fm.ID,
	)
	if err != nil {
		return fmt.Errorf("update file metadata %s: %w", fm.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update file metadata %s: %w", fm.ID, err)
	}
	if rows == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (s *Store) GetFileMetadata(ctx context.Context, id string) (*types.FileMetadata, error) {
	row := s.QueryRow(ctx, "SELECT "+fileColumns+" FROM file_metadata WHERE id = $1", id)
	return scanFileMetadata(row)
}

func (s *Store) GetFileMetadataByRequest(ctx context.Context, uploadRequestID string) (*types.FileMetadata, error) {
	row := s.QueryRow(ctx, "SELECT "+fileColumns+" FROM file_metadata WHERE upload_request_id = $1", uploadRequestID)
	return scanFileMetadata(row)
}

// DeleteFileMetadata is idempotent: deleting a missing row succeeds.
func (s *Store) DeleteFileMetadata(ctx context.Context, id string) error {
	if _, err := s.Exec(ctx, "DELETE FROM file_metadata WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete file metadata %s: %w", id, err)
	}
	return nil
}

package types

import (
	"maps"
	"time"
)

// FileStatus mirrors upload progress on the stored object.
type FileStatus string

const (
	FileStatusUploading FileStatus = "UPLOADING"
	FileStatusCompleted FileStatus = "COMPLETED"
)

// StorageInfo locates an object in the object store.
type StorageInfo struct {
	Provider   string    `json:"provider"`
	Bucket     string    `json:"bucket"`
	Key        string    `json:"key"`
	URL        string    `json:"url,omitempty"`
	Region     string    `json:"region,omitempty"`
	ETag       string    `json:"etag,omitempty"`
	UploadedAt time.Time `json:"uploaded_at,omitzero"`
}

// FileMetadata describes a stored (or partially stored) object. It references
// its UploadRequest but does not own it.
type FileMetadata struct {
	ID              string `json:"id"`
	ClientID        string `json:"client_id"`
	UploadID        string `json:"upload_id"`
	UploadRequestID string `json:"upload_request_id"`

	OriginalFilename string `json:"original_filename"`
	StorageFilename  string `json:"storage_filename"`

	Checksum    string     `json:"checksum"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type"`
	Status      FileStatus `json:"status"`

	Storage  StorageInfo       `json:"storage"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (f *FileMetadata) IsCompleted() bool {
	return f.Status == FileStatusCompleted
}

func (f *FileMetadata) Clone() *FileMetadata {
	if f == nil {
		return nil
	}
	c := *f
	c.Metadata = maps.Clone(f.Metadata)
	return &c
}

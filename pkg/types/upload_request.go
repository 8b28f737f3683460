// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package types holds the persisted records of the uploader: upload requests
// that carry idempotency state and the file metadata of stored objects.
package types

import (
	"fmt"
	"time"
)

// UploadStatus is the lifecycle state of an UploadRequest.
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "PENDING"
	UploadStatusProcessing UploadStatus = "PROCESSING"
	UploadStatusCompleted  UploadStatus = "COMPLETED"
	UploadStatusFailed     UploadStatus = "FAILED"
	UploadStatusCancelled  UploadStatus = "CANCELLED"
)

// DefaultMaxAttempts is the number of processing attempts a request gets
// before a FAILED record becomes terminal.
const DefaultMaxAttempts = 3

func (s UploadStatus) String() string {
	return string(s)
}

func (s UploadStatus) Valid() bool {
	switch s {
	case UploadStatusPending, UploadStatusProcessing, UploadStatusCompleted,
		UploadStatusFailed, UploadStatusCancelled:
		return true
	}
	return false
}

// ParseUploadStatus converts a persisted status column back into an UploadStatus.
func ParseUploadStatus(s string) (UploadStatus, error) {
	status := UploadStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown upload status %q", s)
	}
	return status, nil
}

// UploadRequest is the idempotent lifecycle record for one logical upload,
// keyed by (ClientID, UploadID).
type UploadRequest struct {
	ID       string       `json:"id"`
	ClientID string       `json:"client_id"`
	UploadID string       `json:"upload_id"`
	Status   UploadStatus `json:"status"`

	// AttemptCount is bumped by the store on every successful acquisition.
	AttemptCount int `json:"attempt_count"`
	MaxAttempts  int `json:"max_attempts"`

	Checksum       string `json:"checksum,omitempty"`
	FileMetadataID string `json:"file_metadata_id,omitempty"` // set iff COMPLETED
	ErrorMessage   string `json:"error_message,omitempty"`

	OriginalFilename string `json:"original_filename,omitempty"`
	ContentType      string `json:"content_type,omitempty"`
	FileSize         int64  `json:"file_size"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Version increments on every persisted transition.
	Version int64 `json:"version"`
}

// IsTerminal reports whether no further transition can move the request.
// A FAILED request is terminal once its attempts are used up.
func (r *UploadRequest) IsTerminal() bool {
	switch r.Status {
	case UploadStatusCompleted, UploadStatusCancelled:
		return true
	case UploadStatusFailed:
		return !r.CanRetry()
	}
	return false
}

// CanRetry reports whether a FAILED request may be acquired again.
func (r *UploadRequest) CanRetry() bool {
	return r.Status == UploadStatusFailed && r.AttemptCount < r.maxAttempts()
}

func (r *UploadRequest) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// Clone returns a deep copy so callers can hold a snapshot without sharing
// the CompletedAt pointer.
func (r *UploadRequest) Clone() *UploadRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

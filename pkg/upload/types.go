package upload

import (
	"io"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
)

// OutcomeStatus is the caller-visible result of an upload operation.
type OutcomeStatus string

const (
	OutcomeAccepted        OutcomeStatus = "ACCEPTED"
	OutcomeProcessing      OutcomeStatus = "PROCESSING"
	OutcomeCompleted       OutcomeStatus = "COMPLETED"
	OutcomeFailed          OutcomeStatus = "FAILED"
	OutcomeDuplicate       OutcomeStatus = "DUPLICATE"
	OutcomeValidationError OutcomeStatus = "VALIDATION_ERROR"
	OutcomeCancelled       OutcomeStatus = "CANCELLED"
)

func (s OutcomeStatus) String() string {
	return string(s)
}

// SubmitRequest is one client upload.
type SubmitRequest struct {
	ClientID    string
	UploadID    string
	Filename    string
	ContentType string
	// Size is the declared length; -1 when unknown.
	Size     int64
	Body     io.Reader
	Metadata map[string]string
	// Timeout is a hint for sync submissions; zero means none.
	Timeout time.Duration
}

// ErrorInfo describes why an outcome failed.
type ErrorInfo struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Outcome is returned by submit and info queries.
type Outcome struct {
	Status           OutcomeStatus `json:"status"`
	Message          string        `json:"message,omitempty"`
	UploadRequestID  string        `json:"uploadRequestId,omitempty"`
	ClientID         string        `json:"clientId,omitempty"`
	UploadID         string        `json:"uploadId,omitempty"`
	FileMetadataID   string        `json:"fileMetadataId,omitempty"`
	FileURL          string        `json:"fileUrl,omitempty"`
	Checksum         string        `json:"checksum,omitempty"`
	OriginalFilename string        `json:"originalFilename,omitempty"`
	ContentType      string        `json:"contentType,omitempty"`
	FileSize         int64         `json:"fileSize,omitempty"`
	AttemptCount     int           `json:"attemptCount"`
	CreatedAt        time.Time     `json:"createdAt,omitzero"`
	UpdatedAt        time.Time     `json:"updatedAt,omitzero"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	Error            *ErrorInfo    `json:"error,omitempty"`
}

// StatusView is the polling view of an upload request.
type StatusView struct {
	UploadRequestID string             `json:"uploadRequestId"`
	ClientID        string             `json:"clientId"`
	UploadID        string             `json:"uploadId"`
	Status          types.UploadStatus `json:"status"`
	Progress        int                `json:"progress"`
	Message         string             `json:"message"`
	AttemptCount    int                `json:"attemptCount"`
	MaxAttempts     int                `json:"maxAttempts"`
	CanRetry        bool               `json:"canRetry"`
	FileMetadataID  string             `json:"fileMetadataId,omitempty"`
	FileURL         string             `json:"fileUrl,omitempty"`
	ErrorMessage    string             `json:"errorMessage,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	CompletedAt     *time.Time         `json:"completedAt,omitempty"`
}

// Download is an open stored object. Callers must close Body.
type Download struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	Filename    string
	ETag        string
}

// PresignResult is a time-bounded download URL.
type PresignResult struct {
	URL              string    `json:"url"`
	ExpiresInMinutes int       `json:"expiresInMinutes"`
	ExpiresAt        time.Time `json:"expiresAt"`
	FileID           string    `json:"fileId"`
	FileName         string    `json:"fileName"`
}

// progressOf maps a status to the percentage shown to pollers.
func progressOf(s types.UploadStatus) int {
	switch s {
	case types.UploadStatusProcessing:
		return 50
	case types.UploadStatusCompleted:
		return 100
	default:
		return 0
	}
}

func statusMessage(s types.UploadStatus) string {
	switch s {
	case types.UploadStatusPending:
		return "Waiting to be processed"
	case types.UploadStatusProcessing:
		return "Upload in progress"
	case types.UploadStatusCompleted:
		return "Completed successfully"
	case types.UploadStatusFailed:
		return "Completed with error"
	case types.UploadStatusCancelled:
		return "Cancelled"
	}
	return ""
}

// Package upload orchestrates idempotent uploads: validation, checksum
// dedup, acquisition through the idempotency coordinator, byte transfer to
// the object store, and finalization or compensation.
//
// This separates business logic from HTTP handling.
package upload

import (
	"context"
)

// Service defines the upload operations exposed to the API.
type Service interface {
	// Submit runs the whole upload on the caller and returns the final outcome.
	// Storage failures resolve to a FAILED outcome, not an error.
	Submit(ctx context.Context, req *SubmitRequest) (*Outcome, error)

	// SubmitAsync validates, deduplicates and registers the upload, then hands
	// the transfer to the worker pool and returns ACCEPTED. Existing keys
	// return their current outcome without starting new work.
	SubmitAsync(ctx context.Context, req *SubmitRequest) (*Outcome, error)

	// Status returns the polling view of an upload request owned by clientID.
	Status(ctx context.Context, uploadRequestID, clientID string) (*StatusView, error)

	// Info returns the upload outcome reconstructed from stored state.
	Info(ctx context.Context, uploadRequestID, clientID string) (*Outcome, error)

	// Cancel flips a PENDING or PROCESSING request to CANCELLED. Any other
	// state is a conflict.
	Cancel(ctx context.Context, uploadRequestID, clientID string) error

	// Download opens the stored object. The caller must close the body.
	Download(ctx context.Context, fileMetadataID, clientID string) (*Download, error)

	// PresignedURL returns a time-bounded URL; expiry is clamped to [1, 1440] minutes.
	PresignedURL(ctx context.Context, fileMetadataID, clientID string, expiryMinutes int) (*PresignResult, error)

	// Shutdown waits for in-flight async uploads or until ctx is done.
	Shutdown(ctx context.Context) error
}

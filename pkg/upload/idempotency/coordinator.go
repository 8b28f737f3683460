// Package idempotency owns every state transition of an UploadRequest.
//
// The coordinator keeps no in-process state: each operation is a single
// conditional update against the request store, so any number of processes
// may call it concurrently. The store's WHERE clause on (id, status) is the
// only mutual-exclusion mechanism.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"

	"github.com/google/uuid"
)

// maxErrorMessageLen bounds error_message so a runaway error string cannot
// bloat the row.
const maxErrorMessageLen = 2000

// Descriptor carries the client-supplied attributes of a new upload request.
type Descriptor struct {
	ClientID         string
	UploadID         string
	Checksum         string
	OriginalFilename string
	ContentType      string
	FileSize         int64
}

// Config configures a Coordinator.
type Config struct {
	Store db.RequestStore

	// MaxAttempts is the number of processing attempts before FAILED is terminal.
	MaxAttempts int

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Coordinator gates UploadRequest transitions.
type Coordinator struct {
	store       db.RequestStore
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("idempotency: request store is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = types.DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	return &Coordinator{
		store:       cfg.Store,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
		newID:       cfg.NewID,
	}, nil
}

// MaxAttempts returns the configured retry limit.
func (c *Coordinator) MaxAttempts() int {
	return c.maxAttempts
}

// CreateOrGet inserts a PENDING request for (ClientID, UploadID) unless one
// exists, and returns the persisted record. created reports whether this call
// inserted it. Concurrent callers for the same key converge on one record.
func (c *Coordinator) CreateOrGet(ctx context.Context, d Descriptor) (req *types.UploadRequest, created bool, err error) {
	now := c.now().UTC()
	candidate := &types.UploadRequest{
		ID:               c.newID(),
		ClientID:         d.ClientID,
		UploadID:         d.UploadID,
		Status:           types.UploadStatusPending,
		MaxAttempts:      c.maxAttempts,
		Checksum:         d.Checksum,
		OriginalFilename: d.OriginalFilename,
		ContentType:      d.ContentType,
		FileSize:         d.FileSize,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	inserted, err := c.store.InsertRequestIfAbsent(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("create upload request %s/%s: %w", d.ClientID, d.UploadID, err)
	}
	if inserted {
		transitionsTotal.WithLabelValues("create", resultApplied).Inc()
		logger.Ctx(ctx).Debug().
			Str("upload_request_id", candidate.ID).
			Str("client_id", d.ClientID).
			Str("upload_id", d.UploadID).
			Msg("created upload request")
		return candidate, true, nil
	}

	existing, err := c.store.GetRequestByKey(ctx, d.ClientID, d.UploadID)
	if err != nil {
		// Lost the insert race but cannot see the winner: the row was purged
		// in between or the insert was dropped for another reason.
		return nil, false, fmt.Errorf("read existing upload request %s/%s: %w", d.ClientID, d.UploadID, err)
	}
	transitionsTotal.WithLabelValues("create", resultExisting).Inc()
	return existing, false, nil
}

// AcquireForProcessing moves PENDING, or FAILED with attempts left, to
// PROCESSING and bumps attempt_count. It returns false when another caller
// won the transition or the record is not eligible.
func (c *Coordinator) AcquireForProcessing(ctx context.Context, id string) (bool, error) {
	return c.acquire(ctx, id, nil)
}

// AcquireAttempt is AcquireForProcessing that also requires attempt_count to
// still be seen. On success the caller owns attempt seen+1 and finalizes it
// with MarkCompletedAttempt or MarkFailedAttempt.
func (c *Coordinator) AcquireAttempt(ctx context.Context, id string, seen int) (bool, error) {
	return c.acquire(ctx, id, &seen)
}

func (c *Coordinator) acquire(ctx context.Context, id string, seen *int) (bool, error) {
	ok, err := c.store.TransitionRequest(ctx, id, db.RequestTransition{
		From:               []types.UploadStatus{types.UploadStatusPending, types.UploadStatusFailed},
		To:                 types.UploadStatusProcessing,
		RequireRetryBudget: true,
		IncrementAttempt:   true,
		ExpectAttempt:      seen,
		ClearError:         true,
		Now:                c.now().UTC(),
	})
	if err != nil {
		transitionsTotal.WithLabelValues("acquire", resultError).Inc()
		return false, fmt.Errorf("acquire upload request %s: %w", id, err)
	}
	transitionsTotal.WithLabelValues("acquire", result(ok)).Inc()
	if !ok {
		logger.Ctx(ctx).Debug().Str("upload_request_id", id).Msg("acquire lost: request not eligible")
	}
	return ok, nil
}

// MarkCompleted moves PROCESSING to COMPLETED and links fileMetadataID.
// A record that is not PROCESSING yields a *StateTransitionError.
func (c *Coordinator) MarkCompleted(ctx context.Context, id, fileMetadataID string) error {
	return c.complete(ctx, id, nil, fileMetadataID)
}

// MarkCompletedAttempt is MarkCompleted for the worker that owns attempt. A
// request that has since been failed and re-acquired by another attempt
// yields a *StateTransitionError even though it is PROCESSING.
func (c *Coordinator) MarkCompletedAttempt(ctx context.Context, id string, attempt int, fileMetadataID string) error {
	return c.complete(ctx, id, &attempt, fileMetadataID)
}

func (c *Coordinator) complete(ctx context.Context, id string, attempt *int, fileMetadataID string) error {
	now := c.now().UTC()
	ok, err := c.store.TransitionRequest(ctx, id, db.RequestTransition{
		From:           []types.UploadStatus{types.UploadStatusProcessing},
		To:             types.UploadStatusCompleted,
		ExpectAttempt:  attempt,
		ClearError:     true,
		FileMetadataID: fileMetadataID,
		CompletedAt:    &now,
		Now:            now,
	})
	if err != nil {
		transitionsTotal.WithLabelValues("complete", resultError).Inc()
		return fmt.Errorf("complete upload request %s: %w", id, err)
	}
	transitionsTotal.WithLabelValues("complete", result(ok)).Inc()
	if !ok {
		current := c.currentStatus(ctx, id)
		logger.Ctx(ctx).Error().
			Str("upload_request_id", id).
			Str("status", string(current)).
			Msg("refusing to complete upload request outside this attempt")
		return &StateTransitionError{ID: id, From: current, To: types.UploadStatusCompleted}
	}
	return nil
}

// MarkFailed moves PROCESSING to FAILED with reason. A record in any other
// state is left untouched and the call is logged, not failed.
func (c *Coordinator) MarkFailed(ctx context.Context, id, reason string) error {
	return c.fail(ctx, id, nil, reason)
}

// MarkFailedAttempt is MarkFailed for the worker that owns attempt. It leaves
// a later attempt of the same request untouched.
func (c *Coordinator) MarkFailedAttempt(ctx context.Context, id string, attempt int, reason string) error {
	return c.fail(ctx, id, &attempt, reason)
}

func (c *Coordinator) fail(ctx context.Context, id string, attempt *int, reason string) error {
	msg := truncate(reason)
	ok, err := c.store.TransitionRequest(ctx, id, db.RequestTransition{
		From:          []types.UploadStatus{types.UploadStatusProcessing},
		To:            types.UploadStatusFailed,
		ExpectAttempt: attempt,
		ErrorMessage:  &msg,
		Now:           c.now().UTC(),
	})
	if err != nil {
		transitionsTotal.WithLabelValues("fail", resultError).Inc()
		return fmt.Errorf("fail upload request %s: %w", id, err)
	}
	transitionsTotal.WithLabelValues("fail", result(ok)).Inc()
	if !ok {
		logger.Ctx(ctx).Warn().
			Str("upload_request_id", id).
			Str("reason", msg).
			Msg("mark failed skipped: request is not processing this attempt")
	}
	return nil
}

// RejectPending moves PENDING straight to FAILED without consuming an
// attempt. Used when a request fails before storage begins.
func (c *Coordinator) RejectPending(ctx context.Context, id, reason string) error {
	msg := truncate(reason)
	ok, err := c.store.TransitionRequest(ctx, id, db.RequestTransition{
		From:         []types.UploadStatus{types.UploadStatusPending},
		To:           types.UploadStatusFailed,
		ErrorMessage: &msg,
		Now:          c.now().UTC(),
	})
	if err != nil {
		transitionsTotal.WithLabelValues("reject", resultError).Inc()
		return fmt.Errorf("reject upload request %s: %w", id, err)
	}
	transitionsTotal.WithLabelValues("reject", result(ok)).Inc()
	if !ok {
		logger.Ctx(ctx).Warn().Str("upload_request_id", id).Msg("reject skipped: request is not pending")
	}
	return nil
}

// Cancel moves PENDING, PROCESSING or FAILED to CANCELLED. It returns false
// when the record is already COMPLETED or CANCELLED. Bytes already in flight
// are not interrupted.
func (c *Coordinator) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := c.store.TransitionRequest(ctx, id, db.RequestTransition{
		From: []types.UploadStatus{
			types.UploadStatusPending,
			types.UploadStatusProcessing,
			types.UploadStatusFailed,
		},
		To:  types.UploadStatusCancelled,
		Now: c.now().UTC(),
	})
	if err != nil {
		transitionsTotal.WithLabelValues("cancel", resultError).Inc()
		return false, fmt.Errorf("cancel upload request %s: %w", id, err)
	}
	transitionsTotal.WithLabelValues("cancel", result(ok)).Inc()
	return ok, nil
}

// FindDuplicateByChecksum returns the newest COMPLETED request of clientID
// with the same content checksum, or nil when there is none.
func (c *Coordinator) FindDuplicateByChecksum(ctx context.Context, clientID, checksum string) (*types.UploadRequest, error) {
	if checksum == "" {
		return nil, nil
	}
	req, err := c.store.FindCompletedByChecksum(ctx, clientID, checksum)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate for client %s: %w", clientID, err)
	}
	return req, nil
}

// Get returns the request by id; a missing record yields db.ErrNotFound.
func (c *Coordinator) Get(ctx context.Context, id string) (*types.UploadRequest, error) {
	return c.store.GetRequest(ctx, id)
}

// GetByKey returns the request by idempotency key.
func (c *Coordinator) GetByKey(ctx context.Context, clientID, uploadID string) (*types.UploadRequest, error) {
	return c.store.GetRequestByKey(ctx, clientID, uploadID)
}

func (c *Coordinator) currentStatus(ctx context.Context, id string) types.UploadStatus {
	req, err := c.store.GetRequest(ctx, id)
	if err != nil {
		return ""
	}
	return req.Status
}

func truncate(s string) string {
	if len(s) <= maxErrorMessageLen {
		return s
	}
	return s[:maxErrorMessageLen]
}

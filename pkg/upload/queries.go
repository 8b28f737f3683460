package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/events"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/storage/backend"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
)

const (
	MinPresignMinutes     = 1
	MaxPresignMinutes     = 1440
	DefaultPresignMinutes = 60
)

// Status implements Service.
func (s *serviceImpl) Status(ctx context.Context, uploadRequestID, clientID string) (*StatusView, error) {
	req, err := s.ownedRequest(ctx, uploadRequestID, clientID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		UploadRequestID: req.ID,
		ClientID:        req.ClientID,
		UploadID:        req.UploadID,
		Status:          req.Status,
		Progress:        progressOf(req.Status),
		Message:         statusMessage(req.Status),
		AttemptCount:    req.AttemptCount,
		MaxAttempts:     req.MaxAttempts,
		CanRetry:        req.CanRetry(),
		FileMetadataID:  req.FileMetadataID,
		ErrorMessage:    req.ErrorMessage,
		CreatedAt:       req.CreatedAt,
		UpdatedAt:       req.UpdatedAt,
		CompletedAt:     req.CompletedAt,
	}
	if req.Status == types.UploadStatusCompleted && req.FileMetadataID != "" {
		fm, err := s.fileMetadata(ctx, req.FileMetadataID)
		switch {
		case err == nil:
			view.FileURL = fm.Storage.URL
		case !errors.Is(err, db.ErrNotFound):
			return nil, newInternalError(err)
		}
	}
	return view, nil
}

// Info implements Service.
func (s *serviceImpl) Info(ctx context.Context, uploadRequestID, clientID string) (*Outcome, error) {
	req, err := s.ownedRequest(ctx, uploadRequestID, clientID)
	if err != nil {
		return nil, err
	}
	return s.outcomeFor(ctx, req)
}

// Cancel implements Service.
func (s *serviceImpl) Cancel(ctx context.Context, uploadRequestID, clientID string) error {
	req, err := s.ownedRequest(ctx, uploadRequestID, clientID)
	if err != nil {
		return err
	}
	if req.Status != types.UploadStatusPending && req.Status != types.UploadStatusProcessing {
		return newConflictError(fmt.Sprintf("cannot cancel upload in status %s", req.Status))
	}

	ok, err := s.coord.Cancel(ctx, req.ID)
	if err != nil {
		return newInternalError(err)
	}
	if !ok {
		return newConflictError("upload changed state before it could be cancelled")
	}

	cancelled, err := s.coord.Get(ctx, req.ID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("upload_request_id", req.ID).Msg("cancelled request could not be re-read")
		cancelled = req
	}
	s.emitter.EmitRequest(ctx, events.EventUploadCancelled, cancelled, nil)

	logger.Ctx(ctx).Info().
		Str("upload_request_id", req.ID).
		Str("from", req.Status.String()).
		Msg("upload cancelled")
	return nil
}

// Download implements Service.
func (s *serviceImpl) Download(ctx context.Context, fileMetadataID, clientID string) (*Download, error) {
	fm, err := s.ownedFile(ctx, fileMetadataID, clientID)
	if err != nil {
		return nil, err
	}

	obj, err := s.store.Get(ctx, fm.Storage.Bucket, fm.Storage.Key)
	if errors.Is(err, backend.ErrObjectNotFound) {
		logger.Ctx(ctx).Warn().
			Str("file_metadata_id", fm.ID).
			Str("key", fm.Storage.Key).
			Msg("file metadata points at a missing object")
		return nil, newGoneError("file")
	}
	if err != nil {
		return nil, newStorageError("get", err)
	}

	contentType := fm.ContentType
	if contentType == "" {
		contentType = obj.ContentType
	}
	size := obj.Size
	if size < 0 {
		size = fm.Size
	}
	return &Download{
		Body:        obj.Body,
		Size:        size,
		ContentType: contentType,
		Filename:    fm.OriginalFilename,
		ETag:        obj.ETag,
	}, nil
}

// PresignedURL implements Service.
func (s *serviceImpl) PresignedURL(ctx context.Context, fileMetadataID, clientID string, expiryMinutes int) (*PresignResult, error) {
	fm, err := s.ownedFile(ctx, fileMetadataID, clientID)
	if err != nil {
		return nil, err
	}

	minutes := ClampPresignMinutes(expiryMinutes)
	ok, err := s.store.Exists(ctx, fm.Storage.Bucket, fm.Storage.Key)
	if err != nil {
		return nil, newStorageError("exists", err)
	}
	if !ok {
		return nil, newGoneError("file")
	}

	ttl := time.Duration(minutes) * time.Minute
	url, err := s.store.Presign(ctx, fm.Storage.Bucket, fm.Storage.Key, ttl)
	if err != nil {
		return nil, newStorageError("presign", err)
	}
	return &PresignResult{
		URL:              url,
		ExpiresInMinutes: minutes,
		ExpiresAt:        s.now().UTC().Add(ttl),
		FileID:           fm.ID,
		FileName:         fm.OriginalFilename,
	}, nil
}

// ClampPresignMinutes bounds a requested expiry to [MinPresignMinutes,
// MaxPresignMinutes]. Callers substitute DefaultPresignMinutes for an
// absent request before clamping.
func ClampPresignMinutes(minutes int) int {
	switch {
	case minutes < MinPresignMinutes:
		return MinPresignMinutes
	case minutes > MaxPresignMinutes:
		return MaxPresignMinutes
	}
	return minutes
}

func (s *serviceImpl) ownedRequest(ctx context.Context, id, clientID string) (*types.UploadRequest, error) {
	if id == "" {
		return nil, newValidationError("upload request ID is required")
	}
	if clientID == "" {
		return nil, newValidationError("client ID is required")
	}
	req, err := s.coord.Get(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, newNotFoundError("upload request")
	}
	if err != nil {
		return nil, newInternalError(err)
	}
	if req.ClientID != clientID {
		return nil, newForbiddenError()
	}
	return req, nil
}

// ownedFile loads completed file metadata owned by clientID.
func (s *serviceImpl) ownedFile(ctx context.Context, id, clientID string) (*types.FileMetadata, error) {
	if id == "" {
		return nil, newValidationError("file ID is required")
	}
	if clientID == "" {
		return nil, newValidationError("client ID is required")
	}
	fm, err := s.fileMetadata(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, newNotFoundError("file")
	}
	if err != nil {
		return nil, newInternalError(err)
	}
	if fm.ClientID != clientID {
		return nil, newForbiddenError()
	}
	if !fm.IsCompleted() {
		return nil, newNotFoundError("file")
	}
	return fm, nil
}

// fileMetadata reads through the cache when one is configured. Only
// completed rows are cached; they do not change afterwards.
func (s *serviceImpl) fileMetadata(ctx context.Context, id string) (*types.FileMetadata, error) {
	if s.fileCache != nil {
		if fm, ok := s.fileCache.Get(id); ok {
			return fm, nil
		}
	}
	fm, err := s.files.GetFileMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheFile(fm)
	return fm, nil
}

func (s *serviceImpl) cacheFile(fm *types.FileMetadata) {
	if s.fileCache == nil || fm == nil || !fm.IsCompleted() {
		return
	}
	s.fileCache.Set(fm.ID, fm.Clone())
}

func (s *serviceImpl) uncacheFile(id string) {
	if s.fileCache != nil {
		s.fileCache.Delete(id)
	}
}

// outcomeFor rebuilds the caller-visible outcome from persisted state.
func (s *serviceImpl) outcomeFor(ctx context.Context, req *types.UploadRequest) (*Outcome, error) {
	switch req.Status {
	case types.UploadStatusCompleted:
		var fm *types.FileMetadata
		if req.FileMetadataID != "" {
			found, err := s.fileMetadata(ctx, req.FileMetadataID)
			switch {
			case err == nil:
				fm = found
			case !errors.Is(err, db.ErrNotFound):
				return nil, newInternalError(err)
			}
		}
		return s.requestOutcome(req, fm), nil
	case types.UploadStatusFailed:
		code := ErrCodeStorage
		if !req.CanRetry() {
			code = ErrCodeRetryExhausted
		}
		return s.failedOutcome(req, code), nil
	case types.UploadStatusPending:
		return s.acceptedOutcome(req), nil
	default:
		return s.requestOutcome(req, nil), nil
	}
}

func (s *serviceImpl) acceptedOutcome(req *types.UploadRequest) *Outcome {
	out := s.requestOutcome(req, nil)
	out.Status = OutcomeAccepted
	out.Message = "Upload accepted for processing"
	return out
}

func (s *serviceImpl) failedOutcome(req *types.UploadRequest, code ErrorCode) *Outcome {
	out := s.requestOutcome(req, nil)
	out.Status = OutcomeFailed
	msg := req.ErrorMessage
	if msg == "" {
		msg = statusMessage(types.UploadStatusFailed)
	}
	if code == ErrCodeRetryExhausted {
		out.Message = fmt.Sprintf("Upload failed after %d attempts", req.AttemptCount)
	}
	out.Error = &ErrorInfo{
		Code:       code.String(),
		Message:    msg,
		OccurredAt: req.UpdatedAt,
	}
	return out
}

// requestOutcome projects a request and its optional file onto an Outcome.
func (s *serviceImpl) requestOutcome(req *types.UploadRequest, fm *types.FileMetadata) *Outcome {
	out := &Outcome{
		Message:          statusMessage(req.Status),
		UploadRequestID:  req.ID,
		ClientID:         req.ClientID,
		UploadID:         req.UploadID,
		FileMetadataID:   req.FileMetadataID,
		Checksum:         req.Checksum,
		OriginalFilename: req.OriginalFilename,
		ContentType:      req.ContentType,
		FileSize:         req.FileSize,
		AttemptCount:     req.AttemptCount,
		CreatedAt:        req.CreatedAt,
		UpdatedAt:        req.UpdatedAt,
		CompletedAt:      req.CompletedAt,
	}
	switch req.Status {
	case types.UploadStatusPending:
		out.Status = OutcomeAccepted
	case types.UploadStatusProcessing:
		out.Status = OutcomeProcessing
	case types.UploadStatusCompleted:
		out.Status = OutcomeCompleted
	case types.UploadStatusFailed:
		out.Status = OutcomeFailed
	case types.UploadStatusCancelled:
		out.Status = OutcomeCancelled
	}
	if fm != nil {
		out.FileMetadataID = fm.ID
		out.FileURL = fm.Storage.URL
	}
	return out
}

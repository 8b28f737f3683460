// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/cache"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/events"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/storage/backend"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue/handlers"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload/idempotency"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds concurrent async uploads.
const DefaultWorkers = 8

// FileCache caches completed file metadata by id.
type FileCache = cache.Cache[string, *types.FileMetadata]

// Config holds configuration for the upload service
type Config struct {
	Coordinator *idempotency.Coordinator
	Files       db.FileStore
	ObjectStore backend.ObjectStore
	Bucket      string

	MaxFileSize         int64    // 0 means DefaultMaxFileSize
	AllowedContentTypes []string // empty allows any type
	Workers             int      // async pool size, 0 means DefaultWorkers

	TaskQueue taskqueue.Enqueuer // Optional, retries failed compensating deletes
	Emitter   *events.Emitter    // Optional, lifecycle notifications
	FileCache *FileCache         // Optional

	Now func() time.Time
}

// serviceImpl implements the Service interface
type serviceImpl struct {
	coord        *idempotency.Coordinator
	files        db.FileStore
	store        backend.ObjectStore
	bucket       string
	maxFileSize  int64
	allowedTypes []string

	taskQueue taskqueue.Enqueuer
	emitter   *events.Emitter
	fileCache *FileCache
	now       func() time.Time

	pool     *semaphore.Weighted
	inflight sync.WaitGroup
}

// NewService creates a new upload service
func NewService(cfg Config) (Service, error) {
	svc, err := newService(cfg)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func newService(cfg Config) (*serviceImpl, error) {
	if cfg.Coordinator == nil {
		return nil, newValidationError("Coordinator is required")
	}
	if cfg.Files == nil {
		return nil, newValidationError("Files is required")
	}
	if cfg.ObjectStore == nil {
		return nil, newValidationError("ObjectStore is required")
	}
	if cfg.Bucket == "" {
		return nil, newValidationError("Bucket is required")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	allowed := make([]string, 0, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		allowed = append(allowed, normalizeContentType(ct))
	}

	return &serviceImpl{
		coord:        cfg.Coordinator,
		files:        cfg.Files,
		store:        cfg.ObjectStore,
		bucket:       cfg.Bucket,
		maxFileSize:  cfg.MaxFileSize,
		allowedTypes: allowed,
		taskQueue:    cfg.TaskQueue,
		emitter:      cfg.Emitter,
		fileCache:    cfg.FileCache,
		now:          cfg.Now,
		pool:         semaphore.NewWeighted(int64(cfg.Workers)),
	}, nil
}

// payload is a fully read submission body.
type payload struct {
	req      *SubmitRequest
	data     []byte
	checksum string // sha256 hex, used for dedup
	crc      string // crc64nvme base64, verified against the store
}

func (p *payload) size() int64 { return int64(len(p.data)) }

// prepared is the result of the caller-side steps shared by sync and async
// submission: either a finished outcome or a request ready for acquisition.
type prepared struct {
	outcome *Outcome
	request *types.UploadRequest
	payload *payload
}

// Submit implements Service.
func (s *serviceImpl) Submit(ctx context.Context, req *SubmitRequest) (*Outcome, error) {
	p, err := s.prepare(ctx, req, nil)
	if err != nil {
		uploadsTotal.WithLabelValues("sync", errorLabel(err)).Inc()
		return nil, err
	}
	if p.outcome != nil {
		uploadsTotal.WithLabelValues("sync", p.outcome.Status.String()).Inc()
		return p.outcome, nil
	}

	if req.Timeout > 0 {
		logger.Ctx(ctx).Debug().
			Str("upload_request_id", p.request.ID).
			Dur("timeout_hint", req.Timeout).
			Msg("sync upload started")
	}
	out, err := s.process(ctx, p.request, p.payload)
	if err != nil {
		uploadsTotal.WithLabelValues("sync", errorLabel(err)).Inc()
		return nil, err
	}
	uploadsTotal.WithLabelValues("sync", out.Status.String()).Inc()
	return out, nil
}

// SubmitAsync implements Service.
func (s *serviceImpl) SubmitAsync(ctx context.Context, req *SubmitRequest) (*Outcome, error) {
	reserved := false
	reserve := func() error {
		if !s.pool.TryAcquire(1) {
			asyncRejectedTotal.Inc()
			return newBusyError()
		}
		reserved = true
		return nil
	}

	p, err := s.prepare(ctx, req, reserve)
	if err != nil {
		if reserved {
			s.pool.Release(1)
		}
		uploadsTotal.WithLabelValues("async", errorLabel(err)).Inc()
		return nil, err
	}
	if p.outcome != nil {
		if reserved {
			s.pool.Release(1)
		}
		uploadsTotal.WithLabelValues("async", p.outcome.Status.String()).Inc()
		return p.outcome, nil
	}

	s.inflight.Add(1)
	asyncInflight.Inc()
	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.inflight.Done()
		defer asyncInflight.Dec()
		defer s.pool.Release(1)

		out, err := s.process(bg, p.request, p.payload)
		if err != nil {
			logger.Ctx(bg).Error().
				Err(err).
				Str("upload_request_id", p.request.ID).
				Msg("async upload ended with an error")
			return
		}
		logger.Ctx(bg).Debug().
			Str("upload_request_id", p.request.ID).
			Str("status", out.Status.String()).
			Msg("async upload finished")
	}()

	uploadsTotal.WithLabelValues("async", OutcomeAccepted.String()).Inc()
	return s.acceptedOutcome(p.request), nil
}

// prepare runs validation, checksum, dedup, CreateOrGet and the status
// branch. reserve, when set, is called once the submission is known to need
// new work, before any record is created.
func (s *serviceImpl) prepare(ctx context.Context, req *SubmitRequest, reserve func() error) (*prepared, error) {
	if verr := s.validate(req); verr != nil {
		return nil, verr
	}

	p, err := s.readPayload(req)
	if err != nil {
		return nil, err
	}
	log := logger.Ctx(ctx).With().
		Str("client_id", req.ClientID).
		Str("upload_id", req.UploadID).
		Str("checksum", p.checksum).
		Logger()

	existing, err := s.coord.GetByKey(ctx, req.ClientID, req.UploadID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, newInternalError(err)
	}
	if existing != nil {
		if out, err := s.existingOutcome(ctx, existing); err != nil || out != nil {
			return &prepared{outcome: out}, err
		}
	} else {
		// Content dedup applies only to keys seen for the first time.
		dup, err := s.coord.FindDuplicateByChecksum(ctx, req.ClientID, p.checksum)
		if err != nil {
			return nil, newInternalError(err)
		}
		if dup != nil {
			out, err := s.duplicateOutcome(ctx, dup, req.UploadID)
			if err != nil {
				return nil, err
			}
			if out != nil {
				log.Info().
					Str("upload_request_id", dup.ID).
					Str("status", out.Status.String()).
					Msg("answered from existing upload with identical content")
				return &prepared{outcome: out}, nil
			}
		}
	}

	if reserve != nil {
		if err := reserve(); err != nil {
			return nil, err
		}
	}

	record, created, err := s.coord.CreateOrGet(ctx, idempotency.Descriptor{
		ClientID:         req.ClientID,
		UploadID:         req.UploadID,
		Checksum:         p.checksum,
		OriginalFilename: req.Filename,
		ContentType:      req.ContentType,
		FileSize:         p.size(),
	})
	if err != nil {
		return nil, newInternalError(err)
	}
	if !created {
		// Someone else registered the key after our read.
		if out, err := s.existingOutcome(ctx, record); err != nil || out != nil {
			return &prepared{outcome: out}, err
		}
	}

	log.Debug().
		Str("upload_request_id", record.ID).
		Bool("created", created).
		Msg("upload request ready for processing")
	return &prepared{request: record, payload: p}, nil
}

// readPayload consumes the body once, bounded by the size limit, and
// computes its SHA-256.
func (s *serviceImpl) readPayload(req *SubmitRequest) (*payload, error) {
	data, err := io.ReadAll(io.LimitReader(req.Body, s.maxFileSize+1))
	if err != nil {
		return nil, newValidationError(fmt.Sprintf("read upload body: %v", err))
	}
	switch {
	case int64(len(data)) > s.maxFileSize:
		return nil, s.tooLarge(-1)
	case len(data) == 0:
		return nil, newValidationError("file is empty")
	case req.Size > 0 && int64(len(data)) != req.Size:
		return nil, newValidationError(fmt.Sprintf("declared size %d does not match received %d bytes", req.Size, len(data)))
	}
	return &payload{req: req, data: data, checksum: utils.Sha256Hex(data), crc: utils.Crc64nvmeBase64(data)}, nil
}

// existingOutcome decides what a known request means for a new submission.
// A nil outcome means the request should be (re)processed.
func (s *serviceImpl) existingOutcome(ctx context.Context, req *types.UploadRequest) (*Outcome, error) {
	switch req.Status {
	case types.UploadStatusPending:
		return nil, nil
	case types.UploadStatusFailed:
		if req.CanRetry() {
			return nil, nil
		}
		return s.failedOutcome(req, ErrCodeRetryExhausted), nil
	default:
		return s.outcomeFor(ctx, req)
	}
}

// duplicateOutcome answers a submission whose bytes match a completed
// upload of the same client. A nil outcome means the match is unusable.
func (s *serviceImpl) duplicateOutcome(ctx context.Context, dup *types.UploadRequest, uploadID string) (*Outcome, error) {
	fm, err := s.fileMetadata(ctx, dup.FileMetadataID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newInternalError(err)
	}

	out := s.requestOutcome(dup, fm)
	if dup.UploadID == uploadID {
		// Our own key completed after the key lookup.
		return out, nil
	}

	dedupHitsTotal.Inc()
	out.Status = OutcomeDuplicate
	out.Message = "Duplicate content, existing file reused"
	s.emitter.EmitRequest(ctx, events.EventUploadDuplicate, dup, fm)
	return out, nil
}

// process runs acquisition through finalization for one attempt. Storage
// and metadata failures are compensated and resolve to a FAILED outcome.
func (s *serviceImpl) process(ctx context.Context, req *types.UploadRequest, p *payload) (*Outcome, error) {
	attempt, current, err := s.claim(ctx, req)
	if err != nil {
		return nil, newInternalError(err)
	}
	if current != nil {
		return s.outcomeFor(ctx, current)
	}

	start := s.now()
	defer func() { uploadDuration.Observe(time.Since(start).Seconds()) }()

	log := logger.Ctx(ctx).With().
		Str("upload_request_id", req.ID).
		Str("client_id", req.ClientID).
		Str("upload_id", req.UploadID).
		Int("attempt", attempt).
		Logger()

	if out, done, err := s.resumeLeftover(ctx, req, attempt); done || err != nil {
		return out, err
	}

	now := s.now().UTC()
	fm := &types.FileMetadata{
		ID:               uuid.NewString(),
		ClientID:         req.ClientID,
		UploadID:         req.UploadID,
		UploadRequestID:  req.ID,
		OriginalFilename: p.req.Filename,
		Checksum:         p.checksum,
		Size:             p.size(),
		ContentType:      p.req.ContentType,
		Status:           types.FileStatusUploading,
		Storage: types.StorageInfo{
			Provider: string(s.store.Type()),
			Bucket:   s.bucket,
		},
		Metadata:  p.req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.files.CreateFileMetadata(ctx, fm); err != nil {
		log.Error().Err(err).Msg("failed to persist provisional file metadata")
		return s.fail(ctx, req, attempt, nil, "", newInternalError(err))
	}

	key := ObjectKey(req.ClientID, req.UploadID, p.req.Filename, now)
	fm.Storage.Key = key
	fm.StorageFilename = path.Base(key)

	meta := map[string]string{
		"client-id":         req.ClientID,
		"upload-id":         req.UploadID,
		"upload-request-id": req.ID,
		"checksum-sha256":   p.checksum,
	}
	for k, v := range p.req.Metadata {
		meta[k] = v
	}

	put, err := s.store.Put(ctx, s.bucket, key, bytes.NewReader(p.data), p.size(), p.req.ContentType, meta)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("object store write failed")
		return s.fail(ctx, req, attempt, fm, key, newStorageError("put", err))
	}
	if put.ChecksumCRC64NVME != "" && put.ChecksumCRC64NVME != p.crc {
		log.Error().
			Str("key", key).
			Str("sent", p.crc).
			Str("stored", put.ChecksumCRC64NVME).
			Msg("object store checksum mismatch")
		return s.fail(ctx, req, attempt, fm, key, newStorageError("put", backend.ErrChecksumMismatch))
	}
	uploadBytesTotal.Add(float64(p.size()))

	fm.Storage.URL = put.URL
	fm.Storage.ETag = put.ETag
	fm.Storage.UploadedAt = s.now().UTC()
	fm.Status = types.FileStatusCompleted
	fm.UpdatedAt = fm.Storage.UploadedAt
	if err := s.files.UpdateFileMetadata(ctx, fm); err != nil {
		log.Error().Err(err).Msg("failed to finalize file metadata")
		return s.fail(ctx, req, attempt, fm, key, newInternalError(err))
	}

	// The request flips only after its file metadata is durable.
	if err := s.coord.MarkCompletedAttempt(ctx, req.ID, attempt, fm.ID); err != nil {
		if errors.Is(err, idempotency.ErrStateTransition) {
			// Cancelled, or reclaimed and retried, while the bytes were in flight.
			log.Info().Msg("request left processing during transfer, discarding stored object")
			s.compensate(ctx, req, fm, key)
			current, gerr := s.coord.Get(ctx, req.ID)
			if gerr != nil {
				return nil, newInternalError(gerr)
			}
			return s.outcomeFor(ctx, current)
		}
		// File metadata is complete; the stalled sweep finishes the request.
		log.Error().Err(err).Str("file_metadata_id", fm.ID).Msg("failed to mark upload request completed")
		return nil, newInternalError(err)
	}

	s.cacheFile(fm)
	done, err := s.coord.Get(ctx, req.ID)
	if err != nil {
		return nil, newInternalError(err)
	}
	s.emitter.EmitRequest(ctx, events.EventUploadCompleted, done, fm)

	log.Info().
		Str("file_metadata_id", fm.ID).
		Str("key", key).
		Int64("size", fm.Size).
		Msg("upload completed")
	return s.requestOutcome(done, fm), nil
}

// claim acquires the next attempt of req and returns its number. When the
// request cannot be acquired the current record is returned instead. The
// claim is pinned to the attempt_count it was taken from; a record that
// moved on since req was read is re-read and tried again.
func (s *serviceImpl) claim(ctx context.Context, req *types.UploadRequest) (int, *types.UploadRequest, error) {
	seen := req
	for {
		ok, err := s.coord.AcquireAttempt(ctx, seen.ID, seen.AttemptCount)
		if err != nil {
			return 0, nil, err
		}
		if ok {
			return seen.AttemptCount + 1, nil, nil
		}
		current, err := s.coord.Get(ctx, seen.ID)
		if err != nil {
			return 0, nil, err
		}
		acquirable := current.Status == types.UploadStatusPending || current.CanRetry()
		if !acquirable || current.AttemptCount == seen.AttemptCount {
			return 0, current, nil
		}
		seen = current
	}
}

// resumeLeftover deals with file metadata left by an earlier attempt of the
// same request. A completed file finishes the request; an unfinished one is
// discarded so this attempt starts clean.
func (s *serviceImpl) resumeLeftover(ctx context.Context, req *types.UploadRequest, attempt int) (*Outcome, bool, error) {
	leftover, err := s.files.GetFileMetadataByRequest(ctx, req.ID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		out, ferr := s.fail(ctx, req, attempt, nil, "", newInternalError(err))
		return out, true, ferr
	}

	if leftover.IsCompleted() {
		if err := s.coord.MarkCompletedAttempt(ctx, req.ID, attempt, leftover.ID); err != nil {
			return nil, true, newInternalError(err)
		}
		s.cacheFile(leftover)
		done, err := s.coord.Get(ctx, req.ID)
		if err != nil {
			return nil, true, newInternalError(err)
		}
		s.emitter.EmitRequest(ctx, events.EventUploadCompleted, done, leftover)
		return s.requestOutcome(done, leftover), true, nil
	}

	s.compensate(ctx, req, leftover, leftover.Storage.Key)
	return nil, false, nil
}

// fail compensates the attempt and marks the request FAILED. The returned
// outcome is authoritative even if cleanup was incomplete.
func (s *serviceImpl) fail(ctx context.Context, req *types.UploadRequest, attempt int, fm *types.FileMetadata, key string, cause *Error) (*Outcome, error) {
	s.compensate(ctx, req, fm, key)

	if err := s.coord.MarkFailedAttempt(ctx, req.ID, attempt, cause.Error()); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("upload_request_id", req.ID).Msg("failed to mark upload request failed")
	}

	current, err := s.coord.Get(ctx, req.ID)
	if err != nil {
		return nil, newInternalError(err)
	}
	if current.Status != types.UploadStatusFailed {
		return s.outcomeFor(ctx, current)
	}
	s.emitter.EmitRequest(ctx, events.EventUploadFailed, current, nil)

	out := s.failedOutcome(current, cause.Code)
	out.Error.Details = cause.Error()
	return out, nil
}

// compensate removes what an attempt wrote. Failures are logged; a failed
// object delete is queued for retry when a task queue is configured.
func (s *serviceImpl) compensate(ctx context.Context, req *types.UploadRequest, fm *types.FileMetadata, key string) {
	log := logger.Ctx(ctx).With().Str("upload_request_id", req.ID).Logger()

	if key != "" {
		if err := s.store.Delete(ctx, s.bucket, key); err != nil && !errors.Is(err, backend.ErrObjectNotFound) {
			compensationsTotal.WithLabelValues("object", "error").Inc()
			log.Warn().Err(err).Str("key", key).Msg("compensation: object delete failed")
			s.queueCleanup(ctx, req, key, err)
		} else {
			compensationsTotal.WithLabelValues("object", "ok").Inc()
		}
	}

	if fm != nil {
		if err := s.files.DeleteFileMetadata(ctx, fm.ID); err != nil {
			compensationsTotal.WithLabelValues("metadata", "error").Inc()
			log.Warn().Err(err).Str("file_metadata_id", fm.ID).Msg("compensation: file metadata delete failed")
		} else {
			compensationsTotal.WithLabelValues("metadata", "ok").Inc()
		}
		s.uncacheFile(fm.ID)
	}
}

func (s *serviceImpl) queueCleanup(ctx context.Context, req *types.UploadRequest, key string, cause error) {
	if s.taskQueue == nil {
		return
	}
	err := handlers.EnqueueObjectCleanup(context.WithoutCancel(ctx), s.taskQueue, handlers.ObjectCleanupPayload{
		Bucket:          s.bucket,
		Key:             key,
		UploadRequestID: req.ID,
		Reason:          cause.Error(),
	})
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", key).Msg("compensation: could not queue orphan cleanup")
	}
}

// errorLabel names a submission error for the outcome label.
func errorLabel(err error) string {
	if IsValidation(err) {
		return OutcomeValidationError.String()
	}
	return CodeOf(err).String()
}

// Shutdown implements Service.
func (s *serviceImpl) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

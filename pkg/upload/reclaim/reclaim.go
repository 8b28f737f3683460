// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package reclaim runs the background sweeps that recover upload requests
// abandoned in PROCESSING and purge terminal requests past retention.
package reclaim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/events"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload/idempotency"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/utils"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultStalledThreshold  = 30 * time.Minute
	DefaultStalledInterval   = 5 * time.Minute
	DefaultRetention         = 30 * 24 * time.Hour
	DefaultRetentionInterval = 24 * time.Hour
	DefaultBatchSize         = 100
	DefaultConcurrency       = 4

	// TimeoutReason is recorded on requests failed by the stalled sweep.
	TimeoutReason = "processing timed out: no progress within the stalled threshold"
	// AbandonedReason is recorded on PENDING requests that were never acquired.
	AbandonedReason = "abandoned: never picked up for processing"

	jitterFraction = 0.1
	sweepStalled   = "stalled"
	sweepRetention = "retention"
)

// Config holds configuration for the Reclaimer
type Config struct {
	Coordinator *idempotency.Coordinator
	Requests    db.RequestStore
	Files       db.FileStore
	Emitter     *events.Emitter // Optional

	Enabled           bool
	StalledThreshold  time.Duration // 0 means DefaultStalledThreshold
	StalledInterval   time.Duration // 0 means DefaultStalledInterval
	Retention         time.Duration // 0 means DefaultRetention
	RetentionInterval time.Duration // 0 means DefaultRetentionInterval
	BatchSize         int           // 0 means DefaultBatchSize
	Concurrency       int           // 0 means DefaultConcurrency

	Now func() time.Time
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned  int
	Failed   int // stalled requests moved to FAILED
	Resumed  int // stalled requests completed from durable file metadata
	Rejected int // PENDING requests never picked up, moved to FAILED
	Deleted  int // requests purged by retention
	Errors   int
}

// Reclaimer recovers stalled requests and purges old ones.
type Reclaimer struct {
	cfg Config

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool
}

// New creates a Reclaimer, filling in defaults.
func New(cfg Config) (*Reclaimer, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("reclaim: coordinator is required")
	}
	if cfg.Requests == nil {
		return nil, errors.New("reclaim: request store is required")
	}
	if cfg.Files == nil {
		return nil, errors.New("reclaim: file store is required")
	}
	if cfg.StalledThreshold <= 0 {
		cfg.StalledThreshold = DefaultStalledThreshold
	}
	if cfg.StalledInterval <= 0 {
		cfg.StalledInterval = DefaultStalledInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = DefaultRetentionInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reclaimer{cfg: cfg, stopCh: make(chan struct{})}, nil
}

// Start runs both sweeps on their schedules until Stop or ctx is done.
// It is a no-op when the reclaimer is disabled or already running.
func (r *Reclaimer) Start(ctx context.Context) {
	if !r.cfg.Enabled || !r.running.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(2)
	go r.loop(ctx, sweepStalled, r.cfg.StalledInterval, r.SweepStalled)
	go r.loop(ctx, sweepRetention, r.cfg.RetentionInterval, r.SweepRetention)

	logger.Info().
		Dur("stalled_threshold", r.cfg.StalledThreshold).
		Dur("stalled_interval", r.cfg.StalledInterval).
		Dur("retention", r.cfg.Retention).
		Msg("reclaimer started")
}

// Stop signals the sweeps to exit and waits for a running pass to finish.
func (r *Reclaimer) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reclaimer) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) (SweepResult, error)) {
	defer r.wg.Done()
	for {
		timer := utils.NextTick(interval, jitterFraction)
		select {
		case <-timer.C:
			if _, err := sweep(ctx); err != nil {
				logger.Error().Err(err).Str("sweep", name).Msg("reclaimer sweep failed")
			}
		case <-r.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// SweepStalled fails PROCESSING requests untouched for longer than the
// stalled threshold. A request whose file metadata already completed is
// finished instead, since its bytes and metadata are durable. PENDING
// requests past the same threshold are rejected.
func (r *Reclaimer) SweepStalled(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	sweepRunsTotal.WithLabelValues(sweepStalled).Inc()
	defer func() { sweepDuration.WithLabelValues(sweepStalled).Observe(time.Since(start).Seconds()) }()

	cutoff := r.cfg.Now().UTC().Add(-r.cfg.StalledThreshold)
	var res SweepResult
	var failed, resumed, errCount atomic.Int64

	err := r.forEachBatch(ctx, db.RequestFilter{
		Statuses:      []types.UploadStatus{types.UploadStatusProcessing},
		UpdatedBefore: cutoff,
	}, func(batch []*types.UploadRequest) {
		res.Scanned += len(batch)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, req := range batch {
			g.Go(func() error {
				outcome, err := r.reclaimOne(gctx, req)
				switch {
				case err != nil:
					errCount.Add(1)
					sweepRecordsTotal.WithLabelValues(sweepStalled, "error").Inc()
					logger.Ctx(ctx).Error().Err(err).Str("upload_request_id", req.ID).Msg("failed to reclaim stalled request")
				case outcome == "resumed":
					resumed.Add(1)
					sweepRecordsTotal.WithLabelValues(sweepStalled, outcome).Inc()
				default:
					failed.Add(1)
					sweepRecordsTotal.WithLabelValues(sweepStalled, outcome).Inc()
				}
				return nil
			})
		}
		_ = g.Wait()
	})
	if err != nil {
		return r.stalledResult(res, &failed, &resumed, &errCount), fmt.Errorf("list stalled requests: %w", err)
	}

	res = r.stalledResult(res, &failed, &resumed, &errCount)
	if err := r.rejectAbandoned(ctx, cutoff, &res); err != nil {
		return res, err
	}
	if res.Scanned > 0 {
		logger.Info().
			Int("scanned", res.Scanned).
			Int("failed", res.Failed).
			Int("resumed", res.Resumed).
			Int("rejected", res.Rejected).
			Int("errors", res.Errors).
			Time("cutoff", cutoff).
			Msg("stalled sweep completed")
	}
	return res, ctx.Err()
}

// rejectAbandoned fails PENDING requests older than cutoff. No attempt is
// consumed, so a resubmission of the same key can still run.
func (r *Reclaimer) rejectAbandoned(ctx context.Context, cutoff time.Time, res *SweepResult) error {
	err := r.forEachBatch(ctx, db.RequestFilter{
		Statuses:      []types.UploadStatus{types.UploadStatusPending},
		UpdatedBefore: cutoff,
	}, func(batch []*types.UploadRequest) {
		res.Scanned += len(batch)
		for _, req := range batch {
			if err := r.cfg.Coordinator.RejectPending(ctx, req.ID, AbandonedReason); err != nil {
				res.Errors++
				sweepRecordsTotal.WithLabelValues(sweepStalled, "error").Inc()
				logger.Ctx(ctx).Error().Err(err).Str("upload_request_id", req.ID).Msg("failed to reject abandoned request")
				continue
			}
			res.Rejected++
			sweepRecordsTotal.WithLabelValues(sweepStalled, "rejected").Inc()
			r.emit(ctx, events.EventUploadFailed, req.ID, nil)
		}
	})
	if err != nil {
		return fmt.Errorf("list abandoned requests: %w", err)
	}
	return nil
}

// forEachBatch pages through the requests matching filter in (updated_at, id)
// order. Each page starts after the last row of the previous one, so rows
// that fail every sweep cannot hold back the rows behind them.
func (r *Reclaimer) forEachBatch(ctx context.Context, filter db.RequestFilter, fn func([]*types.UploadRequest)) error {
	filter.Limit = r.cfg.BatchSize
	for ctx.Err() == nil {
		batch, err := r.cfg.Requests.ListRequests(ctx, filter)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		fn(batch)
		if len(batch) < r.cfg.BatchSize {
			return nil
		}
		filter.After = db.CursorAt(batch[len(batch)-1])
	}
	return nil
}

func (r *Reclaimer) stalledResult(res SweepResult, failed, resumed, errs *atomic.Int64) SweepResult {
	res.Failed = int(failed.Load())
	res.Resumed = int(resumed.Load())
	res.Errors = int(errs.Load())
	return res
}

func (r *Reclaimer) reclaimOne(ctx context.Context, req *types.UploadRequest) (string, error) {
	fm, err := r.cfg.Files.GetFileMetadataByRequest(ctx, req.ID)
	switch {
	case err == nil && fm.IsCompleted():
		if err := r.cfg.Coordinator.MarkCompleted(ctx, req.ID, fm.ID); err != nil {
			return "", err
		}
		logger.Ctx(ctx).Info().
			Str("upload_request_id", req.ID).
			Str("file_metadata_id", fm.ID).
			Msg("resumed stalled request from completed file metadata")
		r.emit(ctx, events.EventUploadCompleted, req.ID, fm)
		return "resumed", nil
	case err != nil && !errors.Is(err, db.ErrNotFound):
		return "", fmt.Errorf("load file metadata: %w", err)
	}

	if err := r.cfg.Coordinator.MarkFailed(ctx, req.ID, TimeoutReason); err != nil {
		return "", err
	}
	logger.Ctx(ctx).Warn().
		Str("upload_request_id", req.ID).
		Time("updated_at", req.UpdatedAt).
		Int("attempt", req.AttemptCount).
		Msg("stalled request marked failed")
	r.emit(ctx, events.EventUploadFailed, req.ID, nil)
	return "failed", nil
}

func (r *Reclaimer) emit(ctx context.Context, t events.EventType, id string, fm *types.FileMetadata) {
	if !r.cfg.Emitter.IsEnabled() {
		return
	}
	current, err := r.cfg.Coordinator.Get(ctx, id)
	if err != nil {
		return
	}
	r.cfg.Emitter.EmitRequest(ctx, t, current, fm)
}

// SweepRetention deletes COMPLETED and FAILED requests last updated before
// the retention window. File metadata and objects are left in place.
func (r *Reclaimer) SweepRetention(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	sweepRunsTotal.WithLabelValues(sweepRetention).Inc()
	defer func() { sweepDuration.WithLabelValues(sweepRetention).Observe(time.Since(start).Seconds()) }()

	cutoff := r.cfg.Now().UTC().Add(-r.cfg.Retention)
	var res SweepResult

	err := r.forEachBatch(ctx, db.RequestFilter{
		Statuses:      db.RetentionStatuses,
		UpdatedBefore: cutoff,
	}, func(batch []*types.UploadRequest) {
		res.Scanned += len(batch)
		for _, req := range batch {
			ok, err := r.cfg.Requests.DeleteRequest(ctx, req.ID, db.RetentionStatuses, cutoff)
			if err != nil {
				res.Errors++
				sweepRecordsTotal.WithLabelValues(sweepRetention, "error").Inc()
				logger.Ctx(ctx).Error().Err(err).Str("upload_request_id", req.ID).Msg("failed to purge upload request")
				continue
			}
			if ok {
				res.Deleted++
				sweepRecordsTotal.WithLabelValues(sweepRetention, "deleted").Inc()
			}
		}
	})
	if err != nil {
		return res, fmt.Errorf("list expired requests: %w", err)
	}

	if res.Deleted > 0 || res.Errors > 0 {
		logger.Info().
			Int("deleted", res.Deleted).
			Int("errors", res.Errors).
			Time("cutoff", cutoff).
			Msg("retention sweep completed")
	}
	return res, ctx.Err()
}

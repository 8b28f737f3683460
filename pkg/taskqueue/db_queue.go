// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	dbsql "github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// maxDeadlockRetries is the maximum number of retry attempts for deadlock errors
	maxDeadlockRetries = 3
	// baseDeadlockBackoff is the base backoff duration for deadlock retries
	baseDeadlockBackoff = 10 * time.Millisecond

	pgDeadlockDetected   = "40P01"
	mysqlDeadlockErrCode = 1213
)

const taskColumns = `id, type, status, priority, payload, scheduled_at, started_at,
	completed_at, attempts, max_retries, retry_after, last_error,
	created_at, updated_at, heartbeat_at, worker_id`

// DBQueue is a database-backed implementation of Queue. Queries are written
// with $N placeholders and rewritten by the dialect, so the same queue serves
// PostgreSQL/CockroachDB and MySQL/Vitess. Concurrent workers claim tasks with
// FOR UPDATE SKIP LOCKED.
type DBQueue struct {
	db                *sql.DB
	dialect           dbsql.Dialect
	tableName         string
	visibilityTimeout time.Duration
	now               func() time.Time
}

var _ Queue = (*DBQueue)(nil)

// DBQueueConfig configures the database queue.
type DBQueueConfig struct {
	DB                *sql.DB
	Dialect           dbsql.Dialect // Defaults to PostgreSQL.
	TableName         string        // Defaults to "tasks"
	VisibilityTimeout time.Duration // How long before a running task is considered abandoned (default: 5m)
}

// NewDBQueue creates a new database-backed queue.
func NewDBQueue(cfg DBQueueConfig) (*DBQueue, error) {
	if cfg.DB == nil {
		return nil, errors.New("taskqueue: database connection is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "tasks"
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.Dialect == nil {
		cfg.Dialect = dbsql.PostgresDialect{}
	}

	return &DBQueue{
		db:                cfg.DB,
		dialect:           cfg.Dialect,
		tableName:         cfg.TableName,
		visibilityTimeout: cfg.VisibilityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}, nil
}

func (q *DBQueue) query(format string, args ...any) string {
	return q.dialect.ReplacePlaceholders(fmt.Sprintf(format, args...))
}

func (q *DBQueue) Enqueue(ctx context.Context, task *Task) error {
	prepareEnqueue(task, q.now())

	query := q.query(`
		INSERT INTO %s (id, type, status, priority, payload, scheduled_at,
			attempts, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, q.tableName)

	_, err := q.db.ExecContext(ctx, query,
		task.ID, string(task.Type), string(task.Status), int(task.Priority), string(task.Payload),
		task.ScheduledAt, task.Attempts, task.MaxRetries,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.Type, err)
	}
	tasksEnqueued.WithLabelValues(string(task.Type)).Inc()
	return nil
}

// isDeadlockError reports whether err is a PostgreSQL deadlock_detected or a
// MySQL ER_LOCK_DEADLOCK error.
func isDeadlockError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgDeadlockDetected
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlockErrCode
	}
	return false
}

// withDeadlockRetry runs fn, retrying deadlocks with jittered exponential
// backoff: 10-20ms, 20-40ms, 40-80ms.
func withDeadlockRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := range maxDeadlockRetries {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !isDeadlockError(err) {
			return zero, err
		}
		lastErr = err
		deadlockRetries.Inc()

		backoff := baseDeadlockBackoff * time.Duration(1<<attempt)
		jitter := time.Duration(rand.Int64N(int64(backoff)))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return zero, lastErr
}

func (q *DBQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	return withDeadlockRetry(ctx, func() (*Task, error) {
		return q.dequeueOnce(ctx, workerID, taskTypes...)
	})
}

func (q *DBQueue) dequeueOnce(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := q.now()
	staleThreshold := now.Add(-q.visibilityTimeout)

	args := []any{now, now, staleThreshold}
	typeFilter := ""
	if len(taskTypes) > 0 {
		typeFilter = " AND type IN (" + q.dialect.PlaceholderRange(len(args)+1, len(taskTypes)) + ")"
		for _, t := range taskTypes {
			args = append(args, string(t))
		}
	}

	// Highest priority, oldest first. Running tasks whose heartbeat expired
	// belong to a crashed worker and are claimed again.
	selectQuery := q.query(`
		SELECT %s
		FROM %s
		WHERE (
			(status = 'pending' AND scheduled_at <= $1 AND (retry_after IS NULL OR retry_after <= $2))
			OR
			(status = 'running' AND heartbeat_at < $3)
		)%s
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, taskColumns, q.tableName, typeFilter)

	task, err := scanTask(tx.QueryRowContext(ctx, selectQuery, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if task.Status == StatusRunning {
		task.Attempts++
	}

	updateQuery := q.query(`
		UPDATE %s SET status = 'running', started_at = $1, heartbeat_at = $2,
			worker_id = $3, attempts = $4, updated_at = $5
		WHERE id = $6
	`, q.tableName)
	if _, err := tx.ExecContext(ctx, updateQuery, now, now, workerID, task.Attempts, now, task.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task.Status = StatusRunning
	task.StartedAt = &now
	task.HeartbeatAt = &now
	task.WorkerID = workerID
	task.UpdatedAt = now
	return task, nil
}

func (q *DBQueue) Complete(ctx context.Context, taskID string) error {
	now := q.now()
	query := q.query(`
		UPDATE %s SET status = 'completed', completed_at = $1, updated_at = $2
		WHERE id = $3
	`, q.tableName)
	return q.execOne(ctx, query, now, now, taskID)
}

func (q *DBQueue) Fail(ctx context.Context, taskID string, taskErr error) error {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return err
	}
	applyFailure(task, taskErr, q.now())
	if task.Status == StatusPending {
		taskRetries.WithLabelValues(string(task.Type)).Inc()
	}

	var retryAfter sql.NullTime
	if !task.RetryAfter.IsZero() {
		retryAfter = sql.NullTime{Time: task.RetryAfter, Valid: true}
	}

	query := q.query(`
		UPDATE %s SET status = $1, attempts = $2, last_error = $3,
			retry_after = $4, worker_id = NULL, updated_at = $5
		WHERE id = $6
	`, q.tableName)
	return q.execOne(ctx, query,
		string(task.Status), task.Attempts, task.LastError,
		retryAfter, task.UpdatedAt, taskID,
	)
}

func (q *DBQueue) Cancel(ctx context.Context, taskID string) error {
	now := q.now()
	query := q.query(`
		UPDATE %s SET status = 'cancelled', completed_at = $1, updated_at = $2
		WHERE id = $3
	`, q.tableName)
	return q.execOne(ctx, query, now, now, taskID)
}

// Heartbeat extends the visibility timeout for a running task.
func (q *DBQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	_, err := withDeadlockRetry(ctx, func() (struct{}, error) {
		now := q.now()
		query := q.query(`
			UPDATE %s SET heartbeat_at = $1, updated_at = $2
			WHERE id = $3 AND worker_id = $4 AND status = 'running'
		`, q.tableName)
		return struct{}{}, q.execOne(ctx, query, now, now, taskID, workerID)
	})
	return err
}

func (q *DBQueue) execOne(ctx context.Context, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (q *DBQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	query := q.query(`SELECT %s FROM %s WHERE id = $1`, taskColumns, q.tableName)
	task, err := scanTask(q.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (q *DBQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE 1=1", taskColumns, q.tableName)

	var args []any
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		fmt.Fprintf(&b, " AND type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&b, " AND status = $%d", len(args))
	}
	b.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", filter.Offset)
	}

	rows, err := q.db.QueryContext(ctx, q.dialect.ReplacePlaceholders(b.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (q *DBQueue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{ByType: make(map[TaskType]int64)}

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT status, type, COUNT(*) FROM %s GROUP BY status, type`, q.tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status, taskType string
		var count int64
		if err := rows.Scan(&status, &taskType, &count); err != nil {
			return nil, err
		}
		switch TaskStatus(status) {
		case StatusPending:
			stats.Pending += count
			stats.ByType[TaskType(taskType)] += count
		case StatusRunning:
			stats.Running += count
		case StatusCompleted:
			stats.Completed += count
		case StatusFailed:
			stats.Failed += count
		case StatusDeadLetter:
			stats.DeadLetter += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullTime
	err = q.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT MIN(scheduled_at) FROM %s WHERE status = 'pending'`, q.tableName)).Scan(&oldest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestPending = &oldest.Time
	}
	return stats, nil
}

func (q *DBQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.now().Add(-olderThan)
	query := q.query(`
		DELETE FROM %s
		WHERE status IN ('completed', 'cancelled')
		AND completed_at < $1
	`, q.tableName)

	result, err := q.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// VisibilityTimeout returns the configured visibility timeout.
func (q *DBQueue) VisibilityTimeout() time.Duration {
	return q.visibilityTimeout
}

// Close is a no-op; the connection pool belongs to the metadata store.
func (q *DBQueue) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task                                        Task
		taskType, status, payload                   string
		priority                                    int
		startedAt, completedAt, retryAfter, heartbt sql.NullTime
		lastError, workerID                         sql.NullString
	)
	err := row.Scan(
		&task.ID, &taskType, &status, &priority, &payload,
		&task.ScheduledAt, &startedAt, &completedAt, &task.Attempts,
		&task.MaxRetries, &retryAfter, &lastError, &task.CreatedAt,
		&task.UpdatedAt, &heartbt, &workerID,
	)
	if err != nil {
		return nil, err
	}

	task.Type = TaskType(taskType)
	task.Status = TaskStatus(status)
	task.Priority = TaskPriority(priority)
	task.Payload = []byte(payload)
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if retryAfter.Valid {
		task.RetryAfter = retryAfter.Time
	}
	if heartbt.Valid {
		task.HeartbeatAt = &heartbt.Time
	}
	task.LastError = lastError.String
	task.WorkerID = workerID.String
	return &task, nil
}

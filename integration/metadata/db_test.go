//go:build integration

package metadata

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/integration/testutil"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/postgres"
	dbsql "github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/sql"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/vitess"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload/idempotency"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDB struct {
	name    string
	db      db.DB
	sqlDB   *sql.DB
	dialect dbsql.Dialect
}

// openTestDBs connects to every database named by POSTGRES_DSN and
// MYSQL_DSN. Tests are skipped when neither is set.
func openTestDBs(t *testing.T) []testDB {
	t.Helper()
	testutil.SkipIfShort(t)

	var out []testDB
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		t.Logf("Connecting to postgres: %s", testutil.RedactDSN(dsn))
		cfg := db.DefaultConfig(db.DriverPostgres)
		cfg.DSN = dsn
		pg, err := postgres.NewPostgres(cfg)
		require.NoError(t, err, "should connect to postgres")
		out = append(out, testDB{name: "postgres", db: pg, sqlDB: pg.SqlDB(), dialect: dbsql.PostgresDialect{}})
	}
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		t.Logf("Connecting to mysql: %s", testutil.RedactDSN(dsn))
		cfg := db.DefaultConfig(db.DriverMySQL)
		cfg.DSN = dsn
		v, err := vitess.NewVitess(vitess.Config{Config: cfg})
		require.NoError(t, err, "should connect to mysql")
		out = append(out, testDB{name: "mysql", db: v, sqlDB: v.SqlDB(), dialect: dbsql.MySQLDialect{}})
	}
	if len(out) == 0 {
		t.Skip("POSTGRES_DSN / MYSQL_DSN not set - skipping database integration test")
	}

	for _, tdb := range out {
		ctx := testutil.Context(t)
		require.NoError(t, tdb.db.Migrate(ctx), "%s: should run migrations", tdb.name)
		// Migrations are idempotent.
		require.NoError(t, tdb.db.Migrate(ctx), "%s: second migrate", tdb.name)
		t.Cleanup(func() { tdb.db.Close() })
	}
	return out
}

func newRequest(client, upload string) *types.UploadRequest {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &types.UploadRequest{
		ID:               uuid.NewString(),
		ClientID:         client,
		UploadID:         upload,
		Status:           types.UploadStatusPending,
		MaxAttempts:      3,
		Checksum:         "checksum-" + upload,
		OriginalFilename: "report.pdf",
		ContentType:      "application/pdf",
		FileSize:         42,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestRequestStore_InsertIfAbsent(t *testing.T) {
	for _, tdb := range openTestDBs(t) {
		t.Run(tdb.name, func(t *testing.T) {
			ctx := context.Background()
			client := testutil.UniqueID("client")

			first := newRequest(client, "up-1")
			created, err := tdb.db.InsertRequestIfAbsent(ctx, first)
			require.NoError(t, err)
			assert.True(t, created)

			second := newRequest(client, "up-1")
			created, err = tdb.db.InsertRequestIfAbsent(ctx, second)
			require.NoError(t, err)
			assert.False(t, created, "same (client, upload) must not create a second row")

			got, err := tdb.db.GetRequestByKey(ctx, client, "up-1")
			require.NoError(t, err)
			assert.Equal(t, first.ID, got.ID)
			assert.Equal(t, types.UploadStatusPending, got.Status)
			assert.Equal(t, "report.pdf", got.OriginalFilename)
			assert.EqualValues(t, 42, got.FileSize)

			_, err = tdb.db.GetRequest(ctx, second.ID)
			assert.ErrorIs(t, err, db.ErrNotFound)
		})
	}
}

func TestCoordinator_SingleWinnerUnderContention(t *testing.T) {
	for _, tdb := range openTestDBs(t) {
		t.Run(tdb.name, func(t *testing.T) {
			ctx := context.Background()
			coord, err := idempotency.New(idempotency.Config{Store: tdb.db, MaxAttempts: 3})
			require.NoError(t, err)

			req, created, err := coord.CreateOrGet(ctx, idempotency.Descriptor{
				ClientID: testutil.UniqueID("client"),
				UploadID: "up-1",
				Checksum: "abc",
				FileSize: 1,
			})
			require.NoError(t, err)
			require.True(t, created)

			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := coord.AcquireForProcessing(ctx, req.ID)
					assert.NoError(t, err)
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, wins.Load())

			got, err := coord.Get(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, types.UploadStatusProcessing, got.Status)
			assert.Equal(t, 1, got.AttemptCount)
		})
	}
}

func TestCoordinator_RetryBudget(t *testing.T) {
	for _, tdb := range openTestDBs(t) {
		t.Run(tdb.name, func(t *testing.T) {
			ctx := context.Background()
			coord, err := idempotency.New(idempotency.Config{Store: tdb.db, MaxAttempts: 2})
			require.NoError(t, err)

			req, _, err := coord.CreateOrGet(ctx, idempotency.Descriptor{
				ClientID: testutil.UniqueID("client"),
				UploadID: "up-1",
				Checksum: "abc",
				FileSize: 1,
			})
			require.NoError(t, err)

			for attempt := 1; attempt <= 2; attempt++ {
				ok, err := coord.AcquireForProcessing(ctx, req.ID)
				require.NoError(t, err)
				require.True(t, ok, "attempt %d", attempt)
				require.NoError(t, coord.MarkFailed(ctx, req.ID, "boom"))
			}

			ok, err := coord.AcquireForProcessing(ctx, req.ID)
			require.NoError(t, err)
			assert.False(t, ok, "retry budget is exhausted")

			got, err := coord.Get(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, types.UploadStatusFailed, got.Status)
			assert.Equal(t, 2, got.AttemptCount)
			assert.Equal(t, "boom", got.ErrorMessage)
			assert.False(t, got.CanRetry())
		})
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	for _, tdb := range openTestDBs(t) {
		t.Run(tdb.name, func(t *testing.T) {
			ctx := context.Background()
			client := testutil.UniqueID("client")
			req := newRequest(client, "up-1")
			_, err := tdb.db.InsertRequestIfAbsent(ctx, req)
			require.NoError(t, err)

			fm := &types.FileMetadata{
				ID:               uuid.NewString(),
				ClientID:         client,
				UploadID:         "up-1",
				UploadRequestID:  req.ID,
				OriginalFilename: "report.pdf",
				StorageFilename:  "1736274600000-report.pdf",
				Checksum:         req.Checksum,
				Size:             42,
				ContentType:      "application/pdf",
				Status:           types.FileStatusUploading,
				Storage:          types.StorageInfo{Provider: "s3", Bucket: "uploads", Key: client + "/k"},
				Metadata:         map[string]string{"source": "integration"},
				CreatedAt:        time.Now().UTC(),
				UpdatedAt:        time.Now().UTC(),
			}
			require.NoError(t, tdb.db.CreateFileMetadata(ctx, fm))

			dup := *fm
			dup.ID = uuid.NewString()
			assert.ErrorIs(t, tdb.db.CreateFileMetadata(ctx, &dup), db.ErrConflict)

			fm.Status = types.FileStatusCompleted
			fm.Storage.ETag = "etag-1"
			fm.Storage.URL = "https://example.invalid/uploads/k"
			require.NoError(t, tdb.db.UpdateFileMetadata(ctx, fm))

			got, err := tdb.db.GetFileMetadataByRequest(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, fm.ID, got.ID)
			assert.True(t, got.IsCompleted())
			assert.Equal(t, "etag-1", got.Storage.ETag)
			assert.Equal(t, map[string]string{"source": "integration"}, got.Metadata)

			require.NoError(t, tdb.db.DeleteFileMetadata(ctx, fm.ID))
			_, err = tdb.db.GetFileMetadata(ctx, fm.ID)
			assert.ErrorIs(t, err, db.ErrNotFound)
		})
	}
}

func TestRequestStore_ChecksumLookupAndRetention(t *testing.T) {
	for _, tdb := range openTestDBs(t) {
		t.Run(tdb.name, func(t *testing.T) {
			ctx := context.Background()
			coord, err := idempotency.New(idempotency.Config{Store: tdb.db})
			require.NoError(t, err)
			client := testutil.UniqueID("client")

			req, _, err := coord.CreateOrGet(ctx, idempotency.Descriptor{
				ClientID: client, UploadID: "up-1", Checksum: "same-bytes", FileSize: 3,
			})
			require.NoError(t, err)
			ok, err := coord.AcquireForProcessing(ctx, req.ID)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, coord.MarkCompleted(ctx, req.ID, uuid.NewString()))

			dup, err := tdb.db.FindCompletedByChecksum(ctx, client, "same-bytes")
			require.NoError(t, err)
			assert.Equal(t, req.ID, dup.ID)

			_, err = tdb.db.FindCompletedByChecksum(ctx, "other-"+client, "same-bytes")
			assert.ErrorIs(t, err, db.ErrNotFound)

			future := time.Now().Add(time.Hour)
			list, err := tdb.db.ListRequests(ctx, db.RequestFilter{
				Statuses:      []types.UploadStatus{types.UploadStatusCompleted},
				UpdatedBefore: future,
				Limit:         1000,
			})
			require.NoError(t, err)
			var found bool
			for _, r := range list {
				found = found || r.ID == req.ID
			}
			assert.True(t, found)

			deleted, err := tdb.db.DeleteRequest(ctx, req.ID, []types.UploadStatus{types.UploadStatusFailed}, future)
			require.NoError(t, err)
			assert.False(t, deleted, "status guard must hold")

			deleted, err = tdb.db.DeleteRequest(ctx, req.ID, db.RetentionStatuses, future)
			require.NoError(t, err)
			assert.True(t, deleted)
		})
	}
}

func TestDBQueue_EnqueueDequeue(t *testing.T) {
	for _, tdb := range openTestDBs(t) {
		t.Run(tdb.name, func(t *testing.T) {
			ctx := context.Background()
			q, err := taskqueue.NewDBQueue(taskqueue.DBQueueConfig{DB: tdb.sqlDB, Dialect: tdb.dialect})
			require.NoError(t, err)

			payload, err := taskqueue.MarshalPayload(map[string]string{"key": testutil.UniqueID("obj")})
			require.NoError(t, err)
			task := &taskqueue.Task{Type: taskqueue.TaskTypeObjectCleanup, Payload: payload}
			require.NoError(t, q.Enqueue(ctx, task))

			got, err := q.Dequeue(ctx, "worker-1", taskqueue.TaskTypeObjectCleanup)
			require.NoError(t, err)
			require.NotNil(t, got)
			require.NoError(t, q.Complete(ctx, got.ID))

			done, err := q.Get(ctx, got.ID)
			require.NoError(t, err)
			assert.Equal(t, taskqueue.StatusCompleted, done.Status)
		})
	}
}

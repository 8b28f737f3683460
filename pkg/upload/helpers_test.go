package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/metadata/db/memory"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/storage/backend"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload/idempotency"

	"github.com/stretchr/testify/require"
)

const testBucket = "uploads"

var errInjected = errors.New("injected failure")

// flakyStore wraps the memory backend with switchable failures and an
// optional gate that holds Put until released.
type flakyStore struct {
	*backend.MemoryStorage

	failPuts    atomic.Bool
	failDeletes atomic.Bool
	corruptPut  atomic.Bool // store succeeds but reports a different checksum
	putAttempts atomic.Int64

	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStorage: backend.NewMemoryStorage()}
}

// gate makes the next Put signal started and block until release is closed.
func (f *flakyStore) gate() (started <-chan struct{}, release chan<- struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = make(chan struct{})
	f.release = make(chan struct{})
	return f.started, f.release
}

func (f *flakyStore) Put(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string, meta map[string]string) (*backend.PutResult, error) {
	f.putAttempts.Add(1)

	f.mu.Lock()
	started, release := f.started, f.release
	f.started, f.release = nil, nil
	f.mu.Unlock()
	if started != nil {
		close(started)
		<-release
	}

	if f.failPuts.Load() {
		return nil, errInjected
	}
	res, err := f.MemoryStorage.Put(ctx, bucket, key, data, size, contentType, meta)
	if err == nil && f.corruptPut.Load() {
		res.ChecksumCRC64NVME = "AAAAAAAAAAA="
	}
	return res, err
}

func (f *flakyStore) Delete(ctx context.Context, bucket, key string) error {
	if f.failDeletes.Load() {
		return errInjected
	}
	return f.MemoryStorage.Delete(ctx, bucket, key)
}

type fixture struct {
	svc   *serviceImpl
	coord *idempotency.Coordinator
	db    *memory.DB
	store *flakyStore
	queue *taskqueue.MemoryQueue
}

type fixtureOption func(*Config, *idempotency.Config)

func withMaxAttempts(n int) fixtureOption {
	return func(_ *Config, ic *idempotency.Config) { ic.MaxAttempts = n }
}

func withWorkers(n int) fixtureOption {
	return func(c *Config, _ *idempotency.Config) { c.Workers = n }
}

func withMaxFileSize(n int64) fixtureOption {
	return func(c *Config, _ *idempotency.Config) { c.MaxFileSize = n }
}

func withAllowedTypes(cts ...string) fixtureOption {
	return func(c *Config, _ *idempotency.Config) { c.AllowedContentTypes = cts }
}

// withSteppingClock gives the service a clock that moves one second per
// read, so every attempt gets its own object key.
func withSteppingClock() fixtureOption {
	var mu sync.Mutex
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func(c *Config, _ *idempotency.Config) {
		c.Now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		}
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		db:    memory.New(),
		store: newFlakyStore(),
		queue: taskqueue.NewMemoryQueue(),
	}
	t.Cleanup(func() { _ = f.queue.Close() })

	cfg := Config{
		Files:       f.db,
		ObjectStore: f.store,
		Bucket:      testBucket,
		TaskQueue:   f.queue,
	}
	icfg := idempotency.Config{Store: f.db, MaxAttempts: 3}
	for _, opt := range opts {
		opt(&cfg, &icfg)
	}

	coord, err := idempotency.New(icfg)
	require.NoError(t, err)
	f.coord = coord
	cfg.Coordinator = coord

	svc, err := newService(cfg)
	require.NoError(t, err)
	f.svc = svc
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return f
}

func submission(client, upload string, body []byte) *SubmitRequest {
	return &SubmitRequest{
		ClientID:    client,
		UploadID:    upload,
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
		Metadata:    map[string]string{"source": "test"},
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func descriptorFor(client, upload string) idempotency.Descriptor {
	return idempotency.Descriptor{
		ClientID:         client,
		UploadID:         upload,
		Checksum:         "deadbeef",
		OriginalFilename: "report.pdf",
		ContentType:      "application/pdf",
		FileSize:         5,
	}
}

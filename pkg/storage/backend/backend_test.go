package backend

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegister_CustomType(t *testing.T) {
	t.Parallel()

	customType := StorageType("test-custom")
	Register(customType, func(cfg Config) (ObjectStore, error) {
		return NewMemoryStorage(), nil
	})

	store, err := New(Config{Type: customType})
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	assert.Equal(t, StorageTypeMemory, store.Type())
}

func TestNew_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Type: "unknown-type"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}

func TestNew_S3RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Type: StorageTypeS3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket required")
}

func TestNew_S3WithEndpoint(t *testing.T) {
	t.Parallel()

	store, err := New(Config{
		Type:      StorageTypeS3,
		Bucket:    "uploads",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.Equal(t, StorageTypeS3, store.Type())
}

func TestNew_S3AssumeRoleIsLazy(t *testing.T) {
	t.Parallel()

	// The role is only assumed on the first signed request.
	store, err := NewS3(Config{
		Bucket:    "uploads",
		Region:    "eu-central-1",
		AccessKey: "base",
		SecretKey: "base-secret",
		RoleARN:   "arn:aws:iam::123456789012:role/uploader-writer",
		KMSKeyID:  "alias/uploads",
	})
	require.NoError(t, err)
	assert.Equal(t, "alias/uploads", store.cfg.KMSKeyID)
}

func TestS3_PresignDoesNotCallServer(t *testing.T) {
	t.Parallel()

	store, err := NewS3(Config{
		Bucket:    "uploads",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)

	u, err := store.Presign(context.Background(), "uploads", "c1/2025/01/02/u1/1-a.txt", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://localhost:9000/uploads/c1/2025/01/02/u1/1-a.txt?"))
	assert.Contains(t, u, "X-Amz-Expires=900")
}

func TestObjectURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://minio:9000/files/c1/a%20b.txt",
		objectURL(Config{Endpoint: "http://minio:9000/"}, "files", "c1/a b.txt"))
	assert.Equal(t, "https://files.s3.eu-west-1.amazonaws.com/c1/a.txt",
		objectURL(Config{Region: "eu-west-1"}, "files", "c1/a.txt"))
	assert.Equal(t, "https://files.s3.us-east-1.amazonaws.com/c1/a.txt",
		objectURL(Config{}, "files", "c1/a.txt"))
}

// ============================================================================
// MemoryStorage Tests
// ============================================================================

func TestMemoryStorage_PutGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStorage()

	data := []byte("hello world")
	res, err := m.Put(ctx, "b", "k", bytes.NewReader(data), int64(len(data)), "text/plain", map[string]string{"x": "y"})
	require.NoError(t, err)
	assert.Equal(t, "memory://b/k", res.URL)
	assert.Len(t, res.ETag, 32)
	assert.Equal(t, utils.Crc64nvmeBase64(data), res.ChecksumCRC64NVME)

	obj, err := m.Get(ctx, "b", "k")
	require.NoError(t, err)
	defer obj.Body.Close()
	got, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, int64(len(data)), obj.Size)
	assert.Equal(t, map[string]string{"x": "y"}, m.Metadata("b", "k"))
	assert.Equal(t, int64(1), m.PutCount())
}

func TestMemoryStorage_ShortWrite(t *testing.T) {
	t.Parallel()

	m := NewMemoryStorage()
	_, err := m.Put(context.Background(), "b", "k", bytes.NewReader([]byte("abc")), 10, "", nil)
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryStorage_Get_NotFound(t *testing.T) {
	t.Parallel()

	_, err := NewMemoryStorage().Get(context.Background(), "b", "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMemoryStorage_DeleteIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStorage()

	_, err := m.Put(ctx, "b", "k", bytes.NewReader([]byte("x")), 1, "", nil)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "b", "k"))
	require.NoError(t, m.Delete(ctx, "b", "k"))

	ok, err := m.Exists(ctx, "b", "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), m.DeleteCount())
}

func TestMemoryStorage_Presign(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStorage()

	_, err := m.Presign(ctx, "b", "k", time.Minute)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, err = m.Put(ctx, "b", "k", bytes.NewReader([]byte("x")), 1, "", nil)
	require.NoError(t, err)
	u, err := m.Presign(ctx, "b", "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "memory://b/k?expires="))
}

func TestMemoryStorage_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryStorage()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := strings.Repeat("k", i+1)
			_, err := m.Put(ctx, "b", key, bytes.NewReader([]byte(key)), int64(len(key)), "", nil)
			assert.NoError(t, err)
			_, _ = m.Exists(ctx, "b", key)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.Len())
}

// Package backend provides object store implementations used to hold upload
// payloads. Backends are created through a factory registry keyed by
// StorageType so the server can select one from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// StorageType identifies an object store implementation.
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMemory StorageType = "memory"
)

var (
	// ErrObjectNotFound is returned by Get when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrChecksumMismatch means the store acknowledged different bytes than were sent.
	ErrChecksumMismatch = errors.New("stored object checksum mismatch")
)

// Config configures an object store backend.
type Config struct {
	Type StorageType `mapstructure:"type"`

	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// RoleARN, when set, is assumed through STS on top of the base credentials.
	RoleARN string `mapstructure:"role_arn"`
	// KMSKeyID enables SSE-KMS with this key for every written object.
	KMSKeyID string `mapstructure:"kms_key_id"`

	// CreateBucket makes EnsureBucket create a missing bucket instead of failing.
	CreateBucket bool `mapstructure:"create_bucket"`
}

// PutResult describes a stored object.
type PutResult struct {
	ETag string
	URL  string
	// ChecksumCRC64NVME is the store-computed CRC64-NVME in base64, empty
	// when the store did not report one.
	ChecksumCRC64NVME string
}

// Object is a readable stored object. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	ETag        string
}

// ObjectStore is the blob storage contract the upload service depends on.
type ObjectStore interface {
	Type() StorageType

	Put(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string, meta map[string]string) (*PutResult, error)
	Get(ctx context.Context, bucket, key string) (*Object, error)
	// Delete succeeds when the key is already absent.
	Delete(ctx context.Context, bucket, key string) error
	Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// EnsureBucket verifies the bucket is reachable, creating it when allowed.
	EnsureBucket(ctx context.Context, bucket string) error

	Close() error
}

// Registry holds registered backend factories
var (
	registryMu sync.RWMutex
	registry   = make(map[StorageType]Factory)
)

// Factory creates an ObjectStore from config
type Factory func(cfg Config) (ObjectStore, error)

// Register adds a factory for a storage type
func Register(t StorageType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates an ObjectStore from config
func New(cfg Config) (ObjectStore, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	return f(cfg)
}

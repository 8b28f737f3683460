// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/utils"
)

func init() {
	Register(StorageTypeMemory, func(cfg Config) (ObjectStore, error) {
		return NewMemoryStorage(), nil
	})
}

type memoryObject struct {
	data        []byte
	contentType string
	meta        map[string]string
	etag        string
}

// MemoryStorage is an in-memory object store for tests and local runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject

	puts    atomic.Int64
	deletes atomic.Int64
}

var _ ObjectStore = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]*memoryObject),
	}
}

func memoryKey(bucket, key string) string {
	return bucket + "/" + key
}

func (m *MemoryStorage) Type() StorageType {
	return StorageTypeMemory
}

func (m *MemoryStorage) Put(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string, meta map[string]string) (*PutResult, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if size >= 0 && int64(len(buf)) != size {
		return nil, fmt.Errorf("short write: expected %d bytes, got %d", size, len(buf))
	}

	obj := &memoryObject{
		data:        buf,
		contentType: contentType,
		meta:        maps.Clone(meta),
		etag:        utils.Sha256Hex(buf)[:32],
	}

	m.mu.Lock()
	m.objects[memoryKey(bucket, key)] = obj
	m.mu.Unlock()
	m.puts.Add(1)

	return &PutResult{
		ETag:              obj.etag,
		URL:               "memory://" + bucket + "/" + key,
		ChecksumCRC64NVME: utils.Crc64nvmeBase64(buf),
	}, nil
}

func (m *MemoryStorage) Get(ctx context.Context, bucket, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[memoryKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		ETag:        obj.etag,
	}, nil
}

func (m *MemoryStorage) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, memoryKey(bucket, key))
	m.deletes.Add(1)
	return nil
}

func (m *MemoryStorage) Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	ok, _ := m.Exists(ctx, bucket, key)
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
	}
	q := url.Values{}
	q.Set("expires", fmt.Sprint(time.Now().Add(ttl).Unix()))
	return "memory://" + bucket + "/" + key + "?" + q.Encode(), nil
}

func (m *MemoryStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[memoryKey(bucket, key)]
	return ok, nil
}

func (m *MemoryStorage) EnsureBucket(ctx context.Context, bucket string) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[string]*memoryObject)
	return nil
}

// PutCount returns the number of successful Put calls.
func (m *MemoryStorage) PutCount() int64 {
	return m.puts.Load()
}

// DeleteCount returns the number of Delete calls.
func (m *MemoryStorage) DeleteCount() int64 {
	return m.deletes.Load()
}

// Len returns the number of stored objects.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Metadata returns the user metadata stored with an object.
func (m *MemoryStorage) Metadata(bucket, key string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if obj, ok := m.objects[memoryKey(bucket, key)]; ok {
		return maps.Clone(obj.meta)
	}
	return nil
}

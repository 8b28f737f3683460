// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides a small concurrent LRU cache with optional TTL,
// used to keep completed file metadata close to the download path.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt int64 // unix nanos, 0 = never
}

// Cache is a size-bounded LRU with optional expiry.
//
//	c := cache.New[string, *types.FileMetadata](
//	    cache.WithMaxSize[string, *types.FileMetadata](10000),
//	    cache.WithExpiry[string, *types.FileMetadata](10*time.Minute),
//	)
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]*list.Element
	order *list.List // front = most recently used

	maxSize  int
	expiry   time.Duration
	loadFunc func(ctx context.Context, key K) (V, error)

	cleanupTimer *time.Timer
	stopOnce     sync.Once
	stopped      chan struct{}
}

// Option configures a Cache
type Option[K comparable, V any] func(*Cache[K, V])

// WithMaxSize bounds the number of entries; the least recently used entry
// is evicted first. Zero means unbounded.
func WithMaxSize[K comparable, V any](maxSize int) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.maxSize = maxSize
	}
}

// WithExpiry sets how long an entry lives after it was stored. A timer
// sweeps expired entries every expiry interval.
func WithExpiry[K comparable, V any](expiry time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.expiry = expiry
	}
}

// WithLoadFunc sets the loader GetOrLoad calls on a miss.
func WithLoadFunc[K comparable, V any](loadFunc func(ctx context.Context, key K) (V, error)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.loadFunc = loadFunc
	}
}

// New creates a new Cache with the given options.
func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		items:   make(map[K]*list.Element),
		order:   list.New(),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.expiry > 0 {
		c.scheduleCleanup()
	}
	return c
}

func (c *Cache[K, V]) scheduleCleanup() {
	c.cleanupTimer = time.AfterFunc(c.expiry, func() {
		c.removeExpired()
		select {
		case <-c.stopped:
		default:
			c.cleanupTimer.Reset(c.expiry)
		}
	})
}

// Stop stops the cleanup timer. Call this when the cache is no longer needed.
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		if c.cleanupTimer != nil {
			c.cleanupTimer.Stop()
		}
	})
}

func (c *Cache[K, V]) removeExpired() {
	now := time.Now().UnixNano()
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry[K, V]); e.expiresAt != 0 && now >= e.expiresAt {
			c.removeElement(el)
		}
		el = prev
	}
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[K, V]).key)
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if e.expiresAt != 0 && time.Now().UnixNano() >= e.expiresAt {
		c.removeElement(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// GetOrLoad returns the cached value or calls the load function and caches
// its result. Without a load function a miss returns the zero value.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	var zero V
	if c.loadFunc == nil {
		return zero, nil
	}
	v, err := c.loadFunc(ctx, key)
	if err != nil {
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Set adds or replaces the value for key.
func (c *Cache[K, V]) Set(key K, value V) {
	var expiresAt int64
	if c.expiry > 0 {
		expiresAt = time.Now().Add(c.expiry).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	for c.maxSize > 0 && c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}
}

// Delete removes a key from the cache.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Size returns the number of stored entries, expired ones included until
// they are swept.
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes all entries from the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element)
	c.order.Init()
}

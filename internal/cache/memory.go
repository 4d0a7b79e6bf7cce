// Package cache provides the in-memory tier of the narrative cache and a
// two-tier cache that fronts a distributed store.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/domain"
)

const (
	defaultMaxEntries = 1000
	defaultTTL        = 24 * time.Hour
)

// MemoryCache is a size-bounded LRU cache whose entries expire after a TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, string]
}

// NewMemoryCache creates an in-memory cache; zero values select defaults.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryCache{lru: expirable.NewLRU[string, string](maxEntries, nil, ttl)}
}

// Get implements domain.TextCache.
func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

// Set implements domain.TextCache.
func (m *MemoryCache) Set(_ context.Context, key, value string) error {
	m.lru.Add(key, value)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// Tiered checks a memory tier first, then a distributed tier, populating the
// memory tier on a distributed hit. Distributed-tier errors are logged and
// treated as misses.
type Tiered struct {
	memory *MemoryCache
	remote domain.TextCache
	logger *logrus.Logger
}

// NewTiered creates a two-tier cache.
func NewTiered(memory *MemoryCache, remote domain.TextCache, logger *logrus.Logger) *Tiered {
	return &Tiered{memory: memory, remote: remote, logger: logger}
}

// Get implements domain.TextCache.
func (t *Tiered) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok, _ := t.memory.Get(ctx, key); ok {
		return v, true, nil
	}

	v, ok, err := t.remote.Get(ctx, key)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"cache_tier": "redis",
			"error":      err.Error(),
		}).Warn("Distributed cache read failed")
		return "", false, nil
	}
	if ok {
		_ = t.memory.Set(ctx, key, v)
	}
	return v, ok, nil
}

// Set implements domain.TextCache.
func (t *Tiered) Set(ctx context.Context, key, value string) error {
	_ = t.memory.Set(ctx, key, value)
	if err := t.remote.Set(ctx, key, value); err != nil {
		t.logger.WithFields(logrus.Fields{
			"cache_tier": "redis",
			"error":      err.Error(),
		}).Warn("Distributed cache write failed")
	}
	return nil
}

package storage

import (
	"context"

	"github.com/sashko-guz/spacer/internal/cache"
	"github.com/sashko-guz/spacer/internal/logger"
	"github.com/sashko-guz/spacer/internal/metrics"
)

// CachedBackend puts read-through cache layers in front of a slow backend.
// Layer 1: in-memory (optional). Layer 2: on-disk. Layer 3: the backend.
//
// Writes and deletes go straight to the backend and invalidate both layers.
// Changes made to the backend by other processes become visible once the
// cached entry expires.
type CachedBackend struct {
	underlying Backend
	namespace  string
	memory     *cache.MemoryCache
	disk       *cache.DiskCache
	log        *logger.Logger
}

// NewCachedBackend wraps underlying. namespace separates keys of different
// backends sharing the same cache layers, typically the bucket name.
// Either layer may be nil.
func NewCachedBackend(underlying Backend, namespace string, memory *cache.MemoryCache, disk *cache.DiskCache) *CachedBackend {
	return &CachedBackend{
		underlying: underlying,
		namespace:  namespace,
		memory:     memory,
		disk:       disk,
		log:        logger.New("CachedBackend:" + namespace),
	}
}

func (cb *CachedBackend) cacheKey(key string) string {
	return cb.namespace + "/" + key
}

func (cb *CachedBackend) Load(ctx context.Context, key string) ([]byte, error) {
	ck := cb.cacheKey(key)

	if cb.memory != nil {
		if data, found := cb.memory.Get(ck); found {
			metrics.ArtifactCacheLookups.WithLabelValues("memory", "hit").Inc()
			cb.log.Debugf("Memory cache HIT for key: %s", key)
			return data, nil
		}
		metrics.ArtifactCacheLookups.WithLabelValues("memory", "miss").Inc()
	}

	if cb.disk != nil {
		if data, err := cb.disk.Get(ck); err == nil {
			metrics.ArtifactCacheLookups.WithLabelValues("disk", "hit").Inc()
			cb.log.Debugf("Disk cache HIT for key: %s", key)
			if cb.memory != nil {
				cb.memory.Set(ck, data)
			}
			return data, nil
		}
		metrics.ArtifactCacheLookups.WithLabelValues("disk", "miss").Inc()
	}

	data, err := cb.underlying.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	if cb.memory != nil {
		cb.memory.Set(ck, data)
	}
	if cb.disk != nil {
		if err := cb.disk.Set(ck, data); err != nil {
			// The caller still gets the data
			cb.log.Warnf("Error writing to disk cache: %v", err)
		}
	}
	return data, nil
}

func (cb *CachedBackend) Store(ctx context.Context, key string, data []byte) error {
	if err := cb.underlying.Store(ctx, key, data); err != nil {
		return err
	}
	cb.invalidate(key)
	return nil
}

func (cb *CachedBackend) Delete(ctx context.Context, key string) error {
	err := cb.underlying.Delete(ctx, key)
	// Drop cached copies even when the backend says the key is already gone
	cb.invalidate(key)
	return err
}

func (cb *CachedBackend) Exists(ctx context.Context, key string) bool {
	ck := cb.cacheKey(key)
	if cb.memory != nil {
		if _, found := cb.memory.Get(ck); found {
			return true
		}
	}
	if cb.disk != nil {
		if _, err := cb.disk.Get(ck); err == nil {
			return true
		}
	}
	return cb.underlying.Exists(ctx, key)
}

// Unwrap returns the backend behind the cache layers.
func (cb *CachedBackend) Unwrap() Backend {
	return cb.underlying
}

func (cb *CachedBackend) invalidate(key string) {
	ck := cb.cacheKey(key)
	if cb.memory != nil {
		cb.memory.Delete(ck)
	}
	if cb.disk != nil {
		if err := cb.disk.Delete(ck); err != nil {
			cb.log.Warnf("Error invalidating disk cache for %s: %v", key, err)
		}
	}
}

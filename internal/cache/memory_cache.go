package cache

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/sashko-guz/spacer/internal/logger"
)

// ErrMiss is returned when a key is not cached or its entry expired.
var ErrMiss = errors.New("cache miss")

// MemoryCache is a cost-bounded in-memory byte cache with TTL.
// Admission is probabilistic (TinyLFU), so a Set is not guaranteed to stick.
type MemoryCache struct {
	cache *ristretto.Cache
	log   *logger.Logger
	ttl   time.Duration
}

type MemoryCacheConfig struct {
	Name     string        // used in log lines
	MaxBytes int64         // total cost budget, cost = len(value)
	MaxItems int64         // expected item count, sizes the frequency sketch
	TTL      time.Duration // 0 = no expiry
}

func NewMemoryCache(cfg MemoryCacheConfig) (*MemoryCache, error) {
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("memory cache %q: MaxBytes must be positive", cfg.Name)
	}

	if cfg.MaxItems <= 0 {
		// Model and feature artifacts average around 1MB
		cfg.MaxItems = max(cfg.MaxBytes/(1024*1024), 100)
	}

	log := logger.New("MemoryCache:" + cfg.Name)

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxItems * 10,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
		Metrics:     true,
		OnEvict: func(item *ristretto.Item) {
			log.Debugf("Evicted item (cost: %d bytes)", item.Cost)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	log.Infof("Initialized: MaxBytes=%s, MaxItems=%d, TTL=%v", formatBytes(cfg.MaxBytes), cfg.MaxItems, cfg.TTL)
	return &MemoryCache{cache: c, log: log, ttl: cfg.TTL}, nil
}

// Get returns a copy of the cached value.
func (mc *MemoryCache) Get(key string) ([]byte, bool) {
	value, found := mc.cache.Get(key)
	if !found {
		return nil, false
	}
	data, ok := value.([]byte)
	if !ok {
		mc.log.Warnf("Unexpected value type for key: %s", key)
		return nil, false
	}
	return bytes.Clone(data), true
}

// Set queues a copy of data for admission. The write becomes visible
// asynchronously; call Wait to flush.
func (mc *MemoryCache) Set(key string, data []byte) bool {
	ok := mc.cache.SetWithTTL(key, bytes.Clone(data), int64(len(data)), mc.ttl)
	if !ok {
		mc.log.Debugf("Set dropped for key: %s", key)
	}
	return ok
}

func (mc *MemoryCache) Delete(key string) {
	mc.cache.Del(key)
}

func (mc *MemoryCache) Clear() {
	mc.cache.Clear()
}

func (mc *MemoryCache) Wait() {
	mc.cache.Wait()
}

func (mc *MemoryCache) Stats() map[string]any {
	m := mc.cache.Metrics
	return map[string]any{
		"hits":         m.Hits(),
		"misses":       m.Misses(),
		"hit_ratio":    m.Ratio(),
		"keys_added":   m.KeysAdded(),
		"keys_evicted": m.KeysEvicted(),
		"cost_added":   m.CostAdded(),
		"cost_evicted": m.CostEvicted(),
	}
}

func (mc *MemoryCache) Close() {
	mc.cache.Wait()
	mc.cache.Close()
}

func formatBytes(bytes int64) string {
	if bytes == 0 {
		return "0"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	unitIndex := 0
	for size >= 1024 && unitIndex < len(units)-1 {
		size /= 1024
		unitIndex++
	}
	return fmt.Sprintf("%.2f%s", size, units[unitIndex])
}

package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sashko-guz/spacer/internal/cache"
	"github.com/sashko-guz/spacer/internal/logger"
	"github.com/sashko-guz/spacer/internal/storage/drivers"
)

var registryLog = logger.New("Storage")

// RegistryConfig wires a Registry to its collaborators.
type RegistryConfig struct {
	// S3Client is nil when the process has no object store access.
	S3Client drivers.S3API
	// TmpDir receives URL downloads. Defaults to os.TempDir().
	TmpDir string
	// HTTPClient performs URL fetches. Defaults to a pooled client.
	HTTPClient *http.Client
	// Cache enables read-through layers in front of S3 loads.
	Cache *CacheConfig
}

// Registry resolves storage kinds to backends. It owns the shared in-memory
// backend: every Resolve(KindMemory, ...) returns the same instance until
// ClearMemoryBackend is called. Other kinds get a fresh lightweight wrapper
// on every call.
//
// Tests that need isolation create their own Registry.
type Registry struct {
	cfg RegistryConfig

	mu     sync.Mutex
	memory *drivers.MemoryStorage

	memCache  *cache.MemoryCache
	diskCache *cache.DiskCache
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = drivers.NewHTTPClient(nil)
	}

	r := &Registry{cfg: cfg}
	if err := r.initCaches(); err != nil {
		return nil, err
	}
	return r, nil
}

// Options describe a Registry in terms of configuration values rather than
// constructed clients.
type Options struct {
	S3      *drivers.S3ClientConfig // nil disables the object store
	URLHTTP *drivers.HTTPConfig
	TmpDir  string
	S3Cache *CacheConfig
}

// Connect builds the S3 client described by opts and returns a Registry using it.
func Connect(ctx context.Context, opts Options) (*Registry, error) {
	cfg := RegistryConfig{
		TmpDir:     opts.TmpDir,
		HTTPClient: drivers.NewHTTPClient(opts.URLHTTP),
		Cache:      opts.S3Cache,
	}

	if opts.S3 != nil {
		client, err := drivers.NewS3Client(ctx, *opts.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3: %w", err)
		}
		cfg.S3Client = client
	} else {
		registryLog.Infof("Object store access disabled")
	}

	return NewRegistry(cfg)
}

// Resolve returns a backend for kind. bucket is required for KindS3 and
// ignored otherwise.
func (r *Registry) Resolve(kind Kind, bucket string) (Backend, error) {
	switch kind {
	case KindMemory:
		return r.memoryBackend(), nil

	case KindFilesystem:
		return drivers.NewLocalStorage(), nil

	case KindS3:
		s3Backend, err := r.S3(bucket)
		if err != nil {
			return nil, err
		}
		if r.memCache == nil && r.diskCache == nil {
			return s3Backend, nil
		}
		return NewCachedBackend(s3Backend, bucket, r.memCache, r.diskCache), nil

	case KindURL:
		return drivers.NewURLStorage(r.cfg.HTTPClient, r.cfg.TmpDir), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q: %w", kind, ErrInput)
	}
}

func (r *Registry) ResolveLocation(loc Location) (Backend, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return r.Resolve(loc.Kind, loc.Bucket)
}

// S3 returns an uncached object store backend bound to bucket.
func (r *Registry) S3(bucket string) (*drivers.S3Storage, error) {
	if r.cfg.S3Client == nil {
		return nil, fmt.Errorf("no object store access: %w", ErrConfiguration)
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket: %w", ErrConfiguration)
	}
	return drivers.NewS3Storage(r.cfg.S3Client, bucket), nil
}

// HasS3 reports whether the registry can reach the object store.
func (r *Registry) HasS3() bool {
	return r.cfg.S3Client != nil
}

// ClearMemoryBackend drops the shared in-memory backend. Handles resolved
// before the call keep their old contents; the next Resolve starts empty.
func (r *Registry) ClearMemoryBackend() {
	r.mu.Lock()
	r.memory = nil
	r.mu.Unlock()
	registryLog.Debugf("Memory backend cleared")
}

func (r *Registry) memoryBackend() *drivers.MemoryStorage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memory == nil {
		r.memory = drivers.NewMemoryStorage()
	}
	return r.memory
}

// Close releases the cache layers.
func (r *Registry) Close() {
	if r.memCache != nil {
		r.memCache.Close()
	}
	if r.diskCache != nil {
		r.diskCache.Close()
	}
}

func (r *Registry) initCaches() error {
	cfg := r.cfg.Cache
	diskEnabled := cfg.diskEnabled()
	memoryEnabled := cfg.memoryEnabled()

	if !diskEnabled && !memoryEnabled {
		return nil
	}
	if !diskEnabled {
		return fmt.Errorf("disk cache must be enabled when using the memory cache: %w", ErrConfiguration)
	}
	if cfg.Disk.Dir == "" {
		return fmt.Errorf("cache dir is required when the disk cache is enabled: %w", ErrConfiguration)
	}

	ttl := 5 * time.Minute
	if cfg.Disk.TTLSeconds > 0 {
		ttl = time.Duration(cfg.Disk.TTLSeconds) * time.Second
	}

	if memoryEnabled && cfg.Memory.MaxSizeMB > 0 {
		memCache, err := cache.NewMemoryCache(cache.MemoryCacheConfig{
			Name:     "s3",
			MaxBytes: int64(cfg.Memory.MaxSizeMB) * 1024 * 1024,
			MaxItems: int64(cfg.Memory.MaxItems),
			TTL:      ttl,
		})
		if err != nil {
			// The disk layer still works without it
			registryLog.Warnf("Failed to init memory cache: %v", err)
		} else {
			r.memCache = memCache
		}
	}

	clearOnStartup := cfg.Disk.ClearOnStartup != nil && *cfg.Disk.ClearOnStartup
	diskCache, err := cache.NewDiskCache(cache.DiskCacheConfig{
		Name:           "s3",
		Dir:            cfg.Disk.Dir,
		TTL:            ttl,
		MaxBytes:       int64(cfg.Disk.MaxSizeMB) * 1024 * 1024,
		ClearOnStartup: clearOnStartup,
	})
	if err != nil {
		if r.memCache != nil {
			r.memCache.Close()
			r.memCache = nil
		}
		return fmt.Errorf("failed to create disk cache: %w", err)
	}
	r.diskCache = diskCache

	registryLog.Infof("S3 read-through cache enabled (disk: %s, memory: %v)", cfg.Disk.Dir, r.memCache != nil)
	return nil
}

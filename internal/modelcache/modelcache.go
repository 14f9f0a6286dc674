// Package modelcache keeps local copies of model files fetched from the
// object store.
//
// A file that exists under the cache root is a hit; it is never compared
// against the remote object and never expires. Growth is unbounded and left
// to an external retention policy.
//
// Downloads for the same identifier are collapsed within a process. Separate
// processes sharing the cache root can still race and both download; each
// writes a private temp file and renames it into place, so the last rename
// wins. That is harmless because a published model never changes.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sashko-guz/spacer/internal/logger"
	"github.com/sashko-guz/spacer/internal/metrics"
	"github.com/sashko-guz/spacer/internal/storage"
	"golang.org/x/sync/singleflight"
)

var log = logger.New("ModelCache")

// Source streams a remote object. *drivers.S3Storage implements it.
type Source interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Cache struct {
	root   string
	source Source
	group  singleflight.Group
}

// New returns a cache rooted at root. A nil source or empty root is accepted
// here and reported by EnsureLocal as ErrConfiguration.
func New(root string, source Source) *Cache {
	return &Cache{root: root, source: source}
}

// FromRegistry builds a cache that downloads from bucket through reg.
func FromRegistry(reg *storage.Registry, bucket, root string) *Cache {
	src, err := reg.S3(bucket)
	if err != nil {
		log.Debugf("No model source: %v", err)
		return New(root, nil)
	}
	return New(root, src)
}

// Path returns where identifier is (or would be) stored locally.
func (c *Cache) Path(identifier string) string {
	return filepath.Join(c.root, identifier)
}

// EnsureLocal makes sure identifier is present under the cache root and
// returns its path. cached reports whether the file was already there.
//
// Concurrent callers for the same identifier share one download and the
// context of the caller that started it.
func (c *Cache) EnsureLocal(ctx context.Context, identifier string) (path string, cached bool, err error) {
	if err := c.checkConfig(); err != nil {
		return "", false, err
	}
	if identifier == "" || !filepath.IsLocal(identifier) {
		return "", false, fmt.Errorf("model identifier %q: %w", identifier, storage.ErrInput)
	}

	path = c.Path(identifier)
	log.Debugf("Fetching model %s to %s", identifier, path)

	if isFile(path) {
		metrics.ModelCacheHits.Inc()
		log.Debugf("Model %s already cached", identifier)
		return path, true, nil
	}

	v, err, shared := c.group.Do(identifier, func() (any, error) {
		// Another caller may have finished between the check and here
		if isFile(path) {
			return true, nil
		}
		return false, c.download(ctx, identifier, path)
	})
	if err != nil {
		return "", false, err
	}
	if shared {
		log.Debugf("Model %s download shared with a concurrent caller", identifier)
	}
	return path, v.(bool), nil
}

func (c *Cache) checkConfig() error {
	if c.source == nil {
		return fmt.Errorf("need access to the model bucket: %w", storage.ErrConfiguration)
	}
	if c.root == "" {
		return fmt.Errorf("model path not set: %w", storage.ErrConfiguration)
	}
	info, err := os.Stat(c.root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("model path %s is invalid: %w", c.root, storage.ErrConfiguration)
	}
	return nil
}

func (c *Cache) download(ctx context.Context, identifier, dest string) error {
	start := time.Now()
	log.Infof("Downloading model %s", identifier)

	body, err := c.source.Open(ctx, identifier)
	if err != nil {
		return fmt.Errorf("download model %s: %w", identifier, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	tmpPath := dest + "." + uuid.NewString() + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}

	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, dest)
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write model %s: %w", identifier, err)
	}

	metrics.ModelDownloads.Inc()
	log.Infof("Downloaded model %s (%d bytes) in %v", identifier, n, time.Since(start).Round(time.Millisecond))
	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Stat %s: %v", path, err)
		}
		return false
	}
	return info.Mode().IsRegular()
}

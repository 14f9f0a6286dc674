package cache

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashko-guz/spacer/internal/logger"
	"lukechampine.com/blake3"
)

const diskCacheExt = ".cache"

// DiskCache stores byte entries under a directory tree addressed by the
// BLAKE3 hash of the key. The expiry is encoded in the file name:
//
//	root/<last 2 hex>/<previous 2 hex>/<hash>_<unix expiry>.cache
//
// A janitor goroutine removes expired entries and, when MaxBytes is set,
// evicts the entries closest to expiry until the tree fits.
type DiskCache struct {
	root     string
	ttl      time.Duration
	maxBytes int64
	log      *logger.Logger

	mu   sync.RWMutex
	stop chan struct{}
	done chan struct{}
}

type DiskCacheConfig struct {
	Name            string
	Dir             string
	TTL             time.Duration
	MaxBytes        int64 // 0 = unlimited
	ClearOnStartup  bool
	JanitorInterval time.Duration // default: 30s
}

type sweepStats struct {
	scanned int
	kept    int
	keptSz  int64
	deleted int
	freed   int64
}

type diskEntry struct {
	path      string
	size      int64
	expiresAt time.Time
}

func NewDiskCache(cfg DiskCacheConfig) (*DiskCache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("disk cache %q: dir is required", cfg.Name)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("disk cache %q: TTL must be positive", cfg.Name)
	}

	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache path: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dc := &DiskCache{
		root:     root,
		ttl:      cfg.TTL,
		maxBytes: cfg.MaxBytes,
		log:      logger.New("DiskCache:" + cfg.Name),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.ClearOnStartup {
		if err := dc.Clear(); err != nil {
			dc.log.Warnf("Startup clear failed: %v", err)
		}
	} else {
		dc.sweep()
	}

	interval := cfg.JanitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go dc.janitor(interval)

	dc.log.Infof("Initialized: Dir=%s, TTL=%v, MaxBytes=%s", root, cfg.TTL, formatBytes(cfg.MaxBytes))
	return dc, nil
}

func (dc *DiskCache) Get(key string) ([]byte, error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	hash := hashKey(key)
	path, expiresAt, err := dc.find(hash)
	if err != nil {
		return nil, ErrMiss
	}
	if time.Now().After(expiresAt) {
		return nil, ErrMiss
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return data, nil
}

func (dc *DiskCache) Set(key string, data []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	hash := hashKey(key)
	// Only one live file per key
	if old, _, err := dc.find(hash); err == nil {
		os.Remove(old)
	}

	expiresAt := time.Now().Add(dc.ttl)
	path := filepath.Join(dc.dirFor(hash), fmt.Sprintf("%s_%d%s", hash, expiresAt.Unix(), diskCacheExt))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory structure: %w", err)
	}

	tmpPath := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	path, _, err := dc.find(hashKey(key))
	if err != nil {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if err := os.RemoveAll(dc.root); err != nil {
		return fmt.Errorf("failed to remove cache directory: %w", err)
	}
	if err := os.MkdirAll(dc.root, 0755); err != nil {
		return fmt.Errorf("failed to recreate cache directory: %w", err)
	}
	return nil
}

// Stats walks the tree and reports the number and total size of entries.
func (dc *DiskCache) Stats() (count int, totalSize int64, err error) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	err = filepath.WalkDir(dc.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != diskCacheExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		count++
		totalSize += info.Size()
		return nil
	})
	return count, totalSize, err
}

// Close stops the janitor. Entries stay on disk.
func (dc *DiskCache) Close() {
	select {
	case <-dc.stop:
	default:
		close(dc.stop)
	}
	<-dc.done
}

func (dc *DiskCache) janitor(interval time.Duration) {
	defer close(dc.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-dc.stop:
			return
		case <-ticker.C:
			stats := dc.sweep()
			if stats.deleted > 0 {
				dc.log.Debugf("Sweep: scanned %d, deleted %d (%s), kept %d (%s)",
					stats.scanned, stats.deleted, formatBytes(stats.freed), stats.kept, formatBytes(stats.keptSz))
			}
		}
	}
}

func (dc *DiskCache) sweep() sweepStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := time.Now()
	var stats sweepStats
	var live []diskEntry

	err := filepath.WalkDir(dc.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != diskCacheExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.scanned++

		expiresAt, err := parseExpiry(d.Name())
		if err != nil || now.After(expiresAt) {
			if os.Remove(path) == nil {
				stats.deleted++
				stats.freed += info.Size()
			}
			return nil
		}

		stats.kept++
		stats.keptSz += info.Size()
		live = append(live, diskEntry{path: path, size: info.Size(), expiresAt: expiresAt})
		return nil
	})
	if err != nil {
		dc.log.Warnf("Sweep walk failed: %v", err)
	}

	if dc.maxBytes > 0 && stats.keptSz > dc.maxBytes {
		sort.Slice(live, func(i, j int) bool {
			return live[i].expiresAt.Before(live[j].expiresAt)
		})
		for _, e := range live {
			if stats.keptSz <= dc.maxBytes {
				break
			}
			if os.Remove(e.path) != nil {
				continue
			}
			stats.deleted++
			stats.freed += e.size
			stats.kept--
			stats.keptSz -= e.size
		}
	}
	return stats
}

func (dc *DiskCache) dirFor(hash string) string {
	n := len(hash)
	return filepath.Join(dc.root, hash[n-2:], hash[n-4:n-2])
}

// find returns the entry file for hash. Callers hold dc.mu.
func (dc *DiskCache) find(hash string) (string, time.Time, error) {
	dir := dc.dirFor(hash)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", time.Time{}, err
	}

	prefix := hash + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, diskCacheExt) {
			continue
		}
		expiresAt, err := parseExpiry(name)
		if err != nil {
			continue
		}
		return filepath.Join(dir, name), expiresAt, nil
	}
	return "", time.Time{}, ErrMiss
}

func hashKey(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func parseExpiry(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, diskCacheExt)
	i := strings.LastIndex(base, "_")
	if i == -1 {
		return time.Time{}, fmt.Errorf("invalid cache file name: %s", name)
	}
	ts, err := strconv.ParseInt(base[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry in cache file name: %w", err)
	}
	return time.Unix(ts, 0), nil
}

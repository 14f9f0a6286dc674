package classifier

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashko-guz/spacer/internal/logger"
	"github.com/sashko-guz/spacer/internal/metrics"
	"github.com/sashko-guz/spacer/internal/storage"
	"golang.org/x/sync/singleflight"
)

// CacheSize is how many decoded classifiers a Cache keeps. Each one holds the
// full weight matrices of every fold, so the bound is kept small.
const CacheSize = 3

var cacheLog = logger.New("ClassifierCache")

// Cache keeps the most recently used decoded classifiers, keyed by location.
// Entries are never checked against storage: a classifier written again to
// the same location is not seen until its entry is evicted or purged.
type Cache struct {
	resolver Resolver
	codec    *Codec
	entries  *lru.Cache[storage.Location, *Classifier]
	group    singleflight.Group
}

// NewCache returns an empty cache loading through resolver. A nil codec uses
// the default one.
func NewCache(resolver Resolver, codec *Codec) (*Cache, error) {
	if codec == nil {
		codec = defaultCodec
	}
	entries, err := lru.NewWithEvict(CacheSize, func(loc storage.Location, _ *Classifier) {
		metrics.ClassifierCacheEvictions.Inc()
		cacheLog.Debugf("Evicted %s", loc)
	})
	if err != nil {
		return nil, fmt.Errorf("create classifier cache: %w", err)
	}
	return &Cache{resolver: resolver, codec: codec, entries: entries}, nil
}

// GetOrLoad returns the classifier stored at loc, loading and decoding it on
// a miss. The returned value is shared between callers.
func (c *Cache) GetOrLoad(ctx context.Context, loc storage.Location) (*Classifier, error) {
	loc = loc.Normalize()

	if clf, ok := c.entries.Get(loc); ok {
		metrics.ClassifierCacheHits.Inc()
		return clf, nil
	}
	metrics.ClassifierCacheMisses.Inc()

	v, err, _ := c.group.Do(flightKey(loc), func() (any, error) {
		if clf, ok := c.entries.Get(loc); ok {
			return clf, nil
		}
		clf, err := Load(ctx, c.resolver, c.codec, loc)
		if err != nil {
			return nil, err
		}
		c.entries.Add(loc, clf)
		cacheLog.Debugf("Loaded %s", loc)
		return clf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Classifier), nil
}

// flightKey covers every field; String renders url key "mem://a" the same as
// memory key "a".
func flightKey(loc storage.Location) string {
	return fmt.Sprintf("%s\x00%s\x00%s", loc.Kind, loc.Bucket, loc.Key)
}

// Contains reports whether loc is cached without touching its recency.
func (c *Cache) Contains(loc storage.Location) bool {
	return c.entries.Contains(loc.Normalize())
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

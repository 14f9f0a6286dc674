package classifier

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sashko-guz/spacer/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend counts loads per key.
type countingBackend struct {
	storage.Backend
	mu    sync.Mutex
	loads map[string]int
}

func (b *countingBackend) Load(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	b.loads[key]++
	b.mu.Unlock()
	return b.Backend.Load(ctx, key)
}

func (b *countingBackend) count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[key]
}

type staticResolver struct {
	backend  storage.Backend
	resolves atomic.Int32
}

func (r *staticResolver) ResolveLocation(loc storage.Location) (storage.Backend, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	r.resolves.Add(1)
	return r.backend, nil
}

func newTestCache(t *testing.T, keys ...string) (*Cache, *countingBackend, *staticResolver) {
	t.Helper()

	reg, err := storage.NewRegistry(storage.RegistryConfig{})
	require.NoError(t, err)
	mem, err := reg.Resolve(storage.KindMemory, "")
	require.NoError(t, err)

	for _, key := range keys {
		require.NoError(t, mem.Store(context.Background(), key, []byte(fixture113)))
	}

	backend := &countingBackend{Backend: mem, loads: map[string]int{}}
	resolver := &staticResolver{backend: backend}
	cache, err := NewCache(resolver, &Codec{Warn: func(string) {}})
	require.NoError(t, err)
	return cache, backend, resolver
}

func memLoc(key string) storage.Location {
	return storage.Location{Kind: storage.KindMemory, Key: key}
}

func TestCache_HitReturnsSharedInstance(t *testing.T) {
	cache, backend, _ := newTestCache(t, "a")
	ctx := context.Background()

	first, err := cache.GetOrLoad(ctx, memLoc("a"))
	require.NoError(t, err)
	second, err := cache.GetOrLoad(ctx, memLoc("a"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, backend.count("a"))
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache, backend, _ := newTestCache(t, "m1", "m2", "m3", "m4")
	ctx := context.Background()

	for _, key := range []string{"m1", "m2", "m3", "m4"} {
		_, err := cache.GetOrLoad(ctx, memLoc(key))
		require.NoError(t, err)
	}

	assert.Equal(t, CacheSize, cache.Len())
	assert.False(t, cache.Contains(memLoc("m1")))
	assert.True(t, cache.Contains(memLoc("m4")))

	_, err := cache.GetOrLoad(ctx, memLoc("m1"))
	require.NoError(t, err)
	assert.Equal(t, 2, backend.count("m1"))

	// Reloading m1 pushed out m2, the oldest remaining entry
	assert.False(t, cache.Contains(memLoc("m2")))
	assert.Equal(t, 1, backend.count("m3"))
}

func TestCache_HitRefreshesRecency(t *testing.T) {
	cache, _, _ := newTestCache(t, "m1", "m2", "m3", "m4")
	ctx := context.Background()

	for _, key := range []string{"m1", "m2", "m3", "m1", "m4"} {
		_, err := cache.GetOrLoad(ctx, memLoc(key))
		require.NoError(t, err)
	}

	assert.True(t, cache.Contains(memLoc("m1")))
	assert.False(t, cache.Contains(memLoc("m2")))
}

func TestCache_BucketIgnoredOutsideS3(t *testing.T) {
	cache, backend, _ := newTestCache(t, "a")
	ctx := context.Background()

	_, err := cache.GetOrLoad(ctx, storage.Location{Kind: storage.KindMemory, Bucket: "x", Key: "a"})
	require.NoError(t, err)
	_, err = cache.GetOrLoad(ctx, memLoc("a"))
	require.NoError(t, err)

	assert.Equal(t, 1, backend.count("a"))
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	cache, backend, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.GetOrLoad(ctx, memLoc("missing"))
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, cache.Len())

	require.NoError(t, backend.Store(ctx, "missing", []byte(fixture113)))
	clf, err := cache.GetOrLoad(ctx, memLoc("missing"))
	require.NoError(t, err)
	assert.True(t, clf.Fitted())
}

func TestCache_CorruptPayload(t *testing.T) {
	cache, backend, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, backend.Store(ctx, "bad", []byte("not a model")))

	_, err := cache.GetOrLoad(ctx, memLoc("bad"))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestCache_InvalidLocation(t *testing.T) {
	cache, _, resolver := newTestCache(t)

	_, err := cache.GetOrLoad(context.Background(), memLoc(""))
	assert.ErrorIs(t, err, storage.ErrInput)
	assert.Zero(t, resolver.resolves.Load())
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	cache, backend, _ := newTestCache(t, "a")
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetOrLoad(ctx, memLoc("a"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Goroutines may arrive after the first load finished and hit the LRU;
	// either way the object is read once.
	assert.Equal(t, 1, backend.count("a"))
}

func TestCache_LocationsRenderingAlikeStayDistinct(t *testing.T) {
	cache, backend, _ := newTestCache(t, "a")
	ctx := context.Background()
	require.NoError(t, backend.Store(ctx, "mem://a", []byte(fixture0221)))

	mem := memLoc("a")
	url := storage.Location{Kind: storage.KindURL, Key: "mem://a"}
	require.Equal(t, mem.String(), url.String())
	assert.NotEqual(t, flightKey(mem), flightKey(url))

	var wg sync.WaitGroup
	for i := range 16 {
		loc, want := mem, "1.1.3"
		if i%2 == 1 {
			loc, want = url, "0.22.1"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			clf, err := cache.GetOrLoad(ctx, loc)
			if assert.NoError(t, err) {
				assert.Equal(t, want, clf.LibraryVersion, loc.Kind)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, 1, backend.count("a"))
	assert.Equal(t, 1, backend.count("mem://a"))
}

func TestCache_PurgeForcesReload(t *testing.T) {
	cache, backend, _ := newTestCache(t, "a")
	ctx := context.Background()

	_, err := cache.GetOrLoad(ctx, memLoc("a"))
	require.NoError(t, err)
	cache.Purge()
	assert.Zero(t, cache.Len())

	_, err = cache.GetOrLoad(ctx, memLoc("a"))
	require.NoError(t, err)
	assert.Equal(t, 2, backend.count("a"))
}

func TestStoreThenLoad(t *testing.T) {
	_, backend, resolver := newTestCache(t)
	ctx := context.Background()

	clf, err := Decode(strings.NewReader(fixture0221))
	require.NoError(t, err)

	codec := &Codec{Compress: true, Warn: func(string) {}}
	require.NoError(t, Store(ctx, resolver, codec, memLoc("models/7.model"), clf))
	assert.True(t, backend.Exists(ctx, "models/7.model"))

	loaded, err := Load(ctx, resolver, nil, memLoc("models/7.model"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, loaded.CalibratedClassifiers[0].Classes)
	assert.Len(t, loaded.CalibratedClassifiers[0].Calibrators, 3)

	err = Store(ctx, resolver, nil, memLoc("models/empty.model"), &Classifier{})
	assert.ErrorIs(t, err, ErrNotFitted)
	assert.False(t, backend.Exists(ctx, "models/empty.model"))
}

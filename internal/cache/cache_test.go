// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cache

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-harvester/pkg/types"
)

func TestKeyDeterministic(t *testing.T) {
	a := Key("plos", "sleep", 1, 50, "")
	b := Key("plos", "sleep", 1, 50, "")
	assert.Equal(t, a, b)
	assert.Regexp(t, `^plos_1_50_[0-9a-f]{64}$`, a)
	assert.Equal(t, a, Key("PLOS", "sleep", 1, 50, ""), "provider spelling does not matter")
}

func TestKeyChangesWithEveryInput(t *testing.T) {
	base := Key("plos", "sleep", 1, 50, "")
	variants := map[string]string{
		"provider":    Key("openalex", "sleep", 1, 50, ""),
		"query":       Key("plos", "sleep apnea", 1, 50, ""),
		"page":        Key("plos", "sleep", 2, 50, ""),
		"rpp":         Key("plos", "sleep", 1, 25, ""),
		"fingerprint": Key("plos", "sleep", 1, 50, "abc"),
	}
	for name, k := range variants {
		assert.NotEqual(t, base, k, name)
	}
	assert.NotEqual(t, Key("plos", "ab", 1, 50, "c"), Key("plos", "a", 1, 50, "bc"))
	assert.NotEqual(t, Key("plos", "sleep", 11, 5, ""), Key("plos", "sleep", 1, 15, ""))
}

func successOutcome() types.Outcome {
	return types.Success(
		[]types.Record{{"id": "10.1371/a", "title": "Sleep", "score": 1.5}},
		map[string]any{"numFound": float64(1)},
		&types.RawResponse{URL: "https://api.plos.org/search?q=sleep", StatusCode: 200, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{}`)},
	)
}

func TestResponseCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemory(0), nil)
	key := Key("plos", "sleep", 1, 50, "")

	_, ok := c.Lookup(ctx, key)
	assert.False(t, ok)

	want := successOutcome()
	c.Store(ctx, key, want)
	got, ok := c.Lookup(ctx, key)
	require.True(t, ok)
	assert.True(t, got.FromCache)
	want.FromCache = true
	assert.Equal(t, want, got)

	// Re-storing a hit does not persist the marker.
	c.Store(ctx, key, got)
	raw, ok, err := c.store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "from_cache")
}

func TestResponseCacheSkipsFailures(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(0)
	c := New(store, nil)

	c.Store(ctx, "k1", types.HTTPFailure(http.StatusTooManyRequests, "", nil))
	c.Store(ctx, "k2", types.TransportFailure(errors.New("timeout")))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

type brokenStore struct{ Null }

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (brokenStore) Set(context.Context, string, []byte) error {
	return errors.New("disk on fire")
}

func TestResponseCacheStorageErrorsAreMisses(t *testing.T) {
	c := New(brokenStore{}, nil)
	c.Store(context.Background(), "k", successOutcome())
	_, ok := c.Lookup(context.Background(), "k")
	assert.False(t, ok)
}

func TestResponseCacheDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(0)
	require.NoError(t, store.Set(ctx, "k", []byte(`{not json`)))

	_, ok := New(store, nil).Lookup(ctx, "k")
	assert.False(t, ok)
	_, found, _ := store.Get(ctx, "k")
	assert.False(t, found)
}

func TestNilResponseCache(t *testing.T) {
	var c *ResponseCache
	c.Store(context.Background(), "k", successOutcome())
	_, ok := c.Lookup(context.Background(), "k")
	assert.False(t, ok)
}

// exerciseStorage runs the Storage contract against a backend.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "plos_1_50_a", []byte("one")))
	require.NoError(t, s.Set(ctx, "plos_2_50_a", []byte("two")))
	require.NoError(t, s.Set(ctx, "arxiv_1_25_b", []byte("three")))
	require.NoError(t, s.Set(ctx, "plos_1_50_a", []byte("uno")))

	v, ok, err := s.Get(ctx, "plos_1_50_a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "uno", string(v))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"arxiv_1_25_b", "plos_1_50_a", "plos_2_50_a"}, keys)
	assert.Equal(t, []string{"plos_1_50_a", "plos_2_50_a"}, FilterPrefix(keys, "plos_"))

	require.NoError(t, s.Delete(ctx, "plos_2_50_a"))
	_, ok, err = s.Get(ctx, "plos_2_50_a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Clear(ctx))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemory(0))
}

func TestMemoryTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v")))
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestSQLiteStorage(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache", "harvest.db"), 0)
	require.NoError(t, err)
	defer s.Close()
	exerciseStorage(t, s)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.db")
	ctx := context.Background()

	s, err := NewSQLite(path, 0)
	require.NoError(t, err)
	c := New(s, nil)
	c.Store(ctx, "k", successOutcome())
	require.NoError(t, c.Close())

	s2, err := NewSQLite(path, 0)
	require.NoError(t, err)
	defer s2.Close()
	got, ok := New(s2, nil).Lookup(ctx, "k")
	require.True(t, ok)
	want := successOutcome()
	want.FromCache = true
	assert.Equal(t, want, got)
}

func TestSQLiteTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewSQLite(filepath.Join(t.TempDir(), "harvest.db"), time.Hour)
	require.NoError(t, err)
	defer s.Close()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	now = now.Add(2 * time.Hour)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := DialRedis(ctx, RedisAddrFromEnv(), "", RedisDBFromEnv(15), WithPrefix("harvest-test-"+t.Name()))
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer s.Close()
	require.NoError(t, s.Clear(ctx))
	exerciseStorage(t, s)
}

func TestWithPrefixAddsSeparator(t *testing.T) {
	r := NewRedis(nil, WithPrefix("harvest"))
	assert.Equal(t, "harvest:", r.prefix)
	r = NewRedis(nil, WithPrefix("a:b:"))
	assert.Equal(t, "a:b:", r.prefix)
}

func TestRedisAddrFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "")
	t.Setenv("REDIS_PORT", "")
	assert.Equal(t, "localhost:6379", RedisAddrFromEnv())
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	assert.Equal(t, "cache.internal:6380", RedisAddrFromEnv())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, types.CacheConfig{Backend: types.CacheMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, types.CacheConfig{Backend: types.CacheNone})
	require.NoError(t, err)
	assert.IsType(t, Null{}, s)

	s, err = Open(ctx, types.CacheConfig{Backend: types.CacheSQLite, Path: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, types.CacheConfig{Backend: "mongo"})
	assert.ErrorContains(t, err, "unknown cache backend")
}

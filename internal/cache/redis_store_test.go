package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/hap/internal/model"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_PutThenGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	entry := model.TranscriptionCacheEntry{
		SourceURL: "https://example.com/clip1.mp4",
		Words:     []model.Word{{Text: "play", Start: 0.1, End: 0.4, Confidence: 0.9}},
		Duration:  12.5,
	}
	require.NoError(t, store.Put(ctx, entry, 0))

	got, ok, err := store.Get(ctx, entry.SourceURL, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.SourceURL, got.SourceURL)
	require.Len(t, got.Words, 1)
	assert.Equal(t, "play", got.Words[0].Text)
}

func TestRedisStore_GetMissReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	_, ok, err := store.Get(ctx, "https://example.com/nope.mp4", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_ExpiredEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	entry := model.TranscriptionCacheEntry{SourceURL: "https://example.com/old.mp4"}
	require.NoError(t, store.Put(ctx, entry, 0))

	_, ok, err := store.Get(ctx, entry.SourceURL, -time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_EvictsOldestHalfWhenOverMaxEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	urls := []string{
		"https://example.com/a.mp4",
		"https://example.com/b.mp4",
		"https://example.com/c.mp4",
		"https://example.com/d.mp4",
	}
	for _, u := range urls {
		require.NoError(t, store.Put(ctx, model.TranscriptionCacheEntry{SourceURL: u}, 0))
		// the index score has one-second granularity; space writes out so
		// eviction order is deterministic instead of relying on member tiebreaks.
		time.Sleep(1100 * time.Millisecond)
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, count)

	require.NoError(t, store.evictIfNeeded(ctx, 3))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, ok, err := store.Get(ctx, urls[0], time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "the oldest entry should have been evicted")
}

func TestRedisStore_ClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	require.NoError(t, store.Put(ctx, model.TranscriptionCacheEntry{SourceURL: "https://example.com/a.mp4"}, 0))
	require.NoError(t, store.Put(ctx, model.TranscriptionCacheEntry{SourceURL: "https://example.com/b.mp4"}, 0))

	require.NoError(t, store.Clear(ctx))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

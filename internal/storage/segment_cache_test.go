package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentCache_StoreBytesAndGet(t *testing.T) {
	cache, err := NewSegmentCache(t.TempDir())
	require.NoError(t, err)

	meta := NewStagedSegmentMetadata("https://cdn.example.com/stream/seg1.ts?token=abc", 42)
	path, err := cache.StoreBytes(meta, []byte("segment-data"))
	require.NoError(t, err)
	assert.Equal(t, meta.RelativeSegmentPath(), path)
	assert.Equal(t, int64(len("segment-data")), meta.FileSize)

	got, err := cache.GetBytes(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("segment-data"), got)

	loaded, err := cache.LoadMetadata(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, loaded.ID)
	assert.Equal(t, SegmentSourceStaged, loaded.GetSource())
}

func TestSegmentCache_Store_DeterministicIDMergesPrefetchAndConfirmed(t *testing.T) {
	cache, err := NewSegmentCache(t.TempDir())
	require.NoError(t, err)

	prefetch := NewStagedSegmentMetadata("https://cdn.example.com/stream/seg2.ts", 7)
	prefetch.IsPrefetch = true
	_, err = cache.StoreBytes(prefetch, []byte("prefetched"))
	require.NoError(t, err)

	confirmed := NewStagedSegmentMetadata("https://cdn.example.com/stream/seg2.ts", 7)
	assert.Equal(t, prefetch.ID, confirmed.ID, "same normalized URL must hash to the same segment id")
}

func TestSegmentCache_MarkProcessed_MovesFileAndMetadata(t *testing.T) {
	cache, err := NewSegmentCache(t.TempDir())
	require.NoError(t, err)

	meta := NewStagedSegmentMetadata("https://cdn.example.com/stream/seg3.ts", 1)
	_, err = cache.StoreBytes(meta, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, cache.MarkProcessed(meta, "job-123"))
	assert.Equal(t, SegmentSourceProcessed, meta.GetSource())

	exists, err := cache.Exists(meta.RelativeSegmentPath())
	require.NoError(t, err)
	assert.True(t, exists, "segment file must exist under the processed path after the move")

	loaded, err := cache.LoadMetadata(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-123", loaded.JobID)
	assert.Equal(t, SegmentSourceProcessed, loaded.Source)
}

func TestSegmentCache_GetStaleSegments_OnlyReturnsPastCutoff(t *testing.T) {
	cache, err := NewSegmentCache(t.TempDir())
	require.NoError(t, err)

	fresh := NewStagedSegmentMetadata("https://cdn.example.com/stream/fresh.ts", 1)
	_, err = cache.StoreBytes(fresh, []byte("x"))
	require.NoError(t, err)

	stale := NewStagedSegmentMetadata("https://cdn.example.com/stream/stale.ts", 2)
	stale.LastSeenAt = time.Now().Add(-48 * time.Hour)
	_, err = cache.StoreBytes(stale, []byte("y"))
	require.NoError(t, err)

	cutoff := time.Now().Add(-24 * time.Hour)
	results, err := cache.GetStaleSegments(cutoff)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, stale.ID, results[0].ID)
}

func TestSegmentCache_Store_FromReader(t *testing.T) {
	cache, err := NewSegmentCache(t.TempDir())
	require.NoError(t, err)

	meta := NewStagedSegmentMetadata("https://cdn.example.com/stream/seg4.ts", 3)
	path, size, err := cache.Store(meta, bytes.NewReader([]byte("reader-data")))
	require.NoError(t, err)
	assert.Equal(t, int64(len("reader-data")), size)

	got, err := cache.GetBytes(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("reader-data"), got)
}

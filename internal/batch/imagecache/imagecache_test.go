package imagecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adforge/pipeline/internal/batch/types"
	"github.com/adforge/pipeline/internal/common"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(common.NewSilentLogger(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ad_0001.jpg")
	require.NoError(t, os.WriteFile(path, []byte("fake-jpeg-bytes"), 0o644))
	return path
}

func TestCache_GetMissingReturnsNil(t *testing.T) {
	c := openTestCache(t)
	v, err := c.Get("deadbeefdeadbeef")
	require.NoError(t, err)
	require.Nil(t, v)
}

// Round-trip law from spec.md §8: put(q,v); get(q) returns v (hit_count
// >= 1) as long as the file at v.stored_path exists.
func TestCache_PutThenGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	path := writeArtifact(t)

	err := c.Put("fp1", types.CacheEntry{
		Query: "red sneakers", SourceURL: "https://example.com/a.jpg",
		StoredPath: path, ContentDigest: "abc123", Width: 800, Height: 600,
		ByteSize: 1024, Provider: "unsplash",
	})
	require.NoError(t, err)

	got, err := c.Get("fp1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "red sneakers", got.Query)
	require.Equal(t, path, got.StoredPath)
	require.GreaterOrEqual(t, got.HitCount, 1)
}

func TestCache_GetEvictsWhenFileMissing(t *testing.T) {
	c := openTestCache(t)
	missingPath := filepath.Join(t.TempDir(), "gone.jpg")

	require.NoError(t, c.Put("fp2", types.CacheEntry{Query: "q", StoredPath: missingPath}))

	got, err := c.Get("fp2")
	require.NoError(t, err)
	require.Nil(t, got)

	// Eviction should have removed the entry entirely.
	stats, err := c.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.Entries)
}

func TestCache_PutResetsHitCount(t *testing.T) {
	c := openTestCache(t)
	path := writeArtifact(t)

	require.NoError(t, c.Put("fp3", types.CacheEntry{Query: "q", StoredPath: path}))
	_, err := c.Get("fp3")
	require.NoError(t, err)
	_, err = c.Get("fp3")
	require.NoError(t, err)

	require.NoError(t, c.Put("fp3", types.CacheEntry{Query: "q2", StoredPath: path}))
	got, err := c.Get("fp3")
	require.NoError(t, err)
	require.Equal(t, 1, got.HitCount)
}

func TestCache_Stats(t *testing.T) {
	c := openTestCache(t)
	path := writeArtifact(t)

	require.NoError(t, c.Put("fp4", types.CacheEntry{Query: "q1", StoredPath: path}))
	require.NoError(t, c.Put("fp5", types.CacheEntry{Query: "q2", StoredPath: path}))
	_, err := c.Get("fp4")
	require.NoError(t, err)

	stats, err := c.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.Entries)
	require.Equal(t, 1, stats.TotalHits)
}

func TestCache_Clear(t *testing.T) {
	c := openTestCache(t)
	path := writeArtifact(t)
	require.NoError(t, c.Put("fp6", types.CacheEntry{Query: "q", StoredPath: path}))

	require.NoError(t, c.Clear())

	stats, err := c.Stats()
	require.NoError(t, err)
	require.Equal(t, 0, stats.Entries)
}

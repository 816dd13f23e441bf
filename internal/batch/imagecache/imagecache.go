// Package imagecache implements ImageCache (spec.md §4.5, C5): a
// durable mapping query_fingerprint -> stored artifact, backed by
// BadgerHold the same way the teacher's storage/userdb.Store and
// storage/internaldb.Store wrap it (open-on-construct, upsert pattern,
// ErrNotFound handling), generalized from user/portfolio records to
// cache entries.
package imagecache

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/adforge/pipeline/internal/batch/types"
	"github.com/adforge/pipeline/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// schemaVersion is stamped into the store on first open; a mismatch on
// a later open logs a warning instead of silently mixing schemas
// (spec.md's supplemented "schema/version migration guard", generalized
// from the teacher's app.go checkSchemaVersion idiom).
const schemaVersion = 1

type schemaRecord struct {
	Key     string `badgerholdKey:"Key"`
	Version int
}

// entry is the BadgerHold-persisted shape of a cache value. QueryFP is
// the primary key; hit_count and created_at double as the freshness and
// popularity bookkeeping spec.md §4.5 requires.
type entry struct {
	QueryFP       string `badgerholdKey:"QueryFP"`
	Query         string
	SourceURL     string
	StoredPath    string
	ContentDigest string
	Width         int
	Height        int
	ByteSize      int
	Provider      string
	CreatedAtNS   int64
	HitCount      int
}

// Stats aggregates the cache's size and hit totals.
type Stats struct {
	Entries  int
	TotalHits int
}

// Cache is a single durable session shared by every worker and
// serialized by one mutex (spec.md §4.5: "the simplest implementation
// serializes").
type Cache struct {
	mu     sync.Mutex
	db     *badgerhold.Store
	logger *common.Logger
}

// Open opens (creating if necessary) a BadgerHold-backed cache at path.
func Open(logger *common.Logger, path string) (*Cache, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image cache dir %s: %w", path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open image cache at %s: %w", path, err)
	}

	c := &Cache{db: db, logger: logger}
	if err := c.checkSchema(); err != nil {
		logger.Warn().Err(err).Msg("image cache schema check failed, continuing")
	}
	logger.Info().Str("path", path).Msg("image cache opened")
	return c, nil
}

func (c *Cache) checkSchema() error {
	var rec schemaRecord
	err := c.db.Get("schema", &rec)
	if err == badgerhold.ErrNotFound {
		return c.db.Upsert("schema", &schemaRecord{Key: "schema", Version: schemaVersion})
	}
	if err != nil {
		return err
	}
	if rec.Version != schemaVersion {
		return fmt.Errorf("image cache schema version mismatch: store=%d binary=%d", rec.Version, schemaVersion)
	}
	return nil
}

// Close releases the underlying BadgerHold session.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.Close()
}

// Get looks up the cache entry for a query fingerprint. If the entry's
// stored_path no longer exists on disk it is evicted and (nil, nil) is
// returned (spec.md §4.5's staleness rule); otherwise hit_count is
// incremented and the updated entry is returned.
func (c *Cache) Get(queryFP string) (*types.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rec entry
	if err := c.db.Get(queryFP, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry %s: %w", queryFP, err)
	}

	if _, statErr := os.Stat(rec.StoredPath); statErr != nil {
		if err := c.db.Delete(queryFP, &entry{}); err != nil && err != badgerhold.ErrNotFound {
			c.logger.Warn().Str("query_fp", queryFP).Err(err).Msg("failed to evict stale cache entry")
		}
		return nil, nil
	}

	rec.HitCount++
	if err := c.db.Upsert(queryFP, &rec); err != nil {
		return nil, fmt.Errorf("failed to bump hit count for %s: %w", queryFP, err)
	}

	out := toPublic(rec)
	return &out, nil
}

// Put upserts the cache entry for a query fingerprint, resetting
// hit_count to 0.
func (c *Cache) Put(queryFP string, value types.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	value.QueryFP = queryFP
	value.HitCount = 0
	if value.CreatedAtNS == 0 {
		value.CreatedAtNS = time.Now().UnixNano()
	}
	rec := fromPublic(value)
	if err := c.db.Upsert(queryFP, &rec); err != nil {
		return fmt.Errorf("failed to put cache entry %s: %w", queryFP, err)
	}
	return nil
}

// Stats aggregates entry count and total hit count across the cache.
func (c *Cache) Stats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var all []entry
	if err := c.db.Find(&all, badgerhold.Where("QueryFP").Ne("")); err != nil {
		return Stats{}, fmt.Errorf("failed to scan cache: %w", err)
	}
	stats := Stats{Entries: len(all)}
	for _, e := range all {
		stats.TotalHits += e.HitCount
	}
	return stats, nil
}

// Clear truncates the cache, removing all entries (schema key is
// preserved so re-open doesn't re-warn about version drift).
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var all []entry
	if err := c.db.Find(&all, badgerhold.Where("QueryFP").Ne("")); err != nil {
		return fmt.Errorf("failed to scan cache for clear: %w", err)
	}
	for _, e := range all {
		if err := c.db.Delete(e.QueryFP, &entry{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to delete cache entry %s: %w", e.QueryFP, err)
		}
	}
	return nil
}

func toPublic(e entry) types.CacheEntry {
	return types.CacheEntry{
		QueryFP: e.QueryFP, Query: e.Query, SourceURL: e.SourceURL,
		StoredPath: e.StoredPath, ContentDigest: e.ContentDigest,
		Width: e.Width, Height: e.Height, ByteSize: e.ByteSize,
		Provider: e.Provider, CreatedAtNS: e.CreatedAtNS, HitCount: e.HitCount,
	}
}

func fromPublic(v types.CacheEntry) entry {
	return entry{
		QueryFP: v.QueryFP, Query: v.Query, SourceURL: v.SourceURL,
		StoredPath: v.StoredPath, ContentDigest: v.ContentDigest,
		Width: v.Width, Height: v.Height, ByteSize: v.ByteSize,
		Provider: v.Provider, CreatedAtNS: v.CreatedAtNS, HitCount: v.HitCount,
	}
}

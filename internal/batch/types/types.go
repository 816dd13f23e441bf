// Package types holds the data-model structs shared across the batch
// pipeline's components (spec.md §3), kept in one leaf package so
// search, imagecache, progress, and selector can all depend on it
// without forming an import cycle.
package types

// Candidate is one (url, provider, optional width/height, optional
// title) tuple produced by a search provider.
type Candidate struct {
	URL      string
	Provider string
	Title    string
	Width    int // 0 = unknown
	Height   int // 0 = unknown
}

// Artifact is a persisted image file paired with its metadata.
type Artifact struct {
	Path          string
	Width         int
	Height        int
	ByteSize      int
	ContentDigest string
	Provider      string
	SourceURL     string

	// Verification scores, populated when a Verifier was consulted.
	Clip          float64
	Blip          float64
	Combined      float64
	Caption       string
	Verified      bool
}

// ProgressStatus is one of the three states a row can be in.
type ProgressStatus string

const (
	ProgressPending ProgressStatus = "pending"
	ProgressDone    ProgressStatus = "done"
	ProgressFailed  ProgressStatus = "failed"
)

// ProgressRecord is the durable per-row state tracked by ProgressStore.
type ProgressRecord struct {
	Index         int
	Status        ProgressStatus
	Retries       int
	Query         string
	Filename      string
	Provider      string
	Error         string
	CompletedAtNS int64
	Meta          map[string]any
}

// CacheEntry is the durable value stored by ImageCache, keyed by query
// fingerprint.
type CacheEntry struct {
	QueryFP       string
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

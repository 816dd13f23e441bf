package orchestrator

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adforge/pipeline/internal/batch/compose"
	"github.com/adforge/pipeline/internal/batch/condition"
	"github.com/adforge/pipeline/internal/batch/imagecache"
	"github.com/adforge/pipeline/internal/batch/progress"
	"github.com/adforge/pipeline/internal/batch/query"
	"github.com/adforge/pipeline/internal/batch/rowtable"
	"github.com/adforge/pipeline/internal/batch/search"
	"github.com/adforge/pipeline/internal/batch/selector"
	"github.com/adforge/pipeline/internal/batch/shutdown"
	"github.com/adforge/pipeline/internal/batch/types"
	"github.com/adforge/pipeline/internal/batch/verify"
	"github.com/adforge/pipeline/internal/common"
)

// WorkerConfig bundles every tunable a RowWorker needs, independent of
// its collaborators (which are passed in via RowWorker's fields).
type WorkerConfig struct {
	Columns              ColumnConfig
	ImagesDir            string
	TempDirRoot          string
	SearchOptions        search.Options
	Stage1Thresholds     verify.Thresholds
	Stage2Thresholds     verify.Thresholds
	MaxRecomposeAttempts int
	CacheEnabled         bool
	// RowTimeout bounds one row's total wall time across search, select,
	// condition, compose, and recompose (spec.md's "Per-task timeout
	// bounds total wall time for one row" rule). Zero disables the
	// per-row deadline.
	RowTimeout time.Duration
}

// RowWorker drives a single row through the full stage pipeline
// (spec.md §4.9). It holds no per-row state; Process is safe to call
// concurrently from many goroutines sharing one RowWorker.
type RowWorker struct {
	cfg WorkerConfig

	broker     *search.Broker
	selector   *selector.Selector
	cache      *imagecache.Cache
	progress   *progress.Store
	remover    *condition.Remover
	compositor *compose.Compositor
	verifier   *verify.Verifier
	shutdown   *shutdown.Coordinator
	table      *rowtable.Table
	stats      *Stats
	logger     *common.Logger

	workerSlot int // stable per-goroutine temp-dir suffix, tid mod 100 per spec.md §6
}

// NewRowWorker creates a RowWorker bound to its collaborators. workerSlot
// seeds the per-worker temp subdirectory name ("w<slot>").
func NewRowWorker(cfg WorkerConfig, broker *search.Broker, sel *selector.Selector, cache *imagecache.Cache, prog *progress.Store, remover *condition.Remover, compositor *compose.Compositor, verifier *verify.Verifier, coord *shutdown.Coordinator, table *rowtable.Table, stats *Stats, logger *common.Logger, workerSlot int) *RowWorker {
	return &RowWorker{
		cfg: cfg, broker: broker, selector: sel, cache: cache, progress: prog,
		remover: remover, compositor: compositor, verifier: verifier,
		shutdown: coord, table: table, stats: stats, logger: logger,
		workerSlot: workerSlot % 100,
	}
}

// Meta is the per-row outcome returned by Process (spec.md §4.9's
// "Return a meta dict" shape).
type Meta struct {
	Index             int
	Success           bool
	Skipped           bool
	Query             string
	Filename          string
	Source            string
	Stage1Clip        float64
	Stage1Blip        float64
	Stage1Caption     string
	Stage1Accepted    bool
	Stage2Clip        float64
	Stage2Blip        float64
	Stage2Caption     string
	Stage2Accepted    bool
	Recomposed        bool
	RecomposeReason   string
	RecomposeExhausted bool
	Error             string
}

func (m Meta) asMap() map[string]any {
	return map[string]any{
		"success": m.Success, "query": m.Query, "filename": m.Filename, "source": m.Source,
		"stage1_clip": m.Stage1Clip, "stage1_blip": m.Stage1Blip, "stage1_caption": m.Stage1Caption, "stage1_accepted": m.Stage1Accepted,
		"stage2_clip": m.Stage2Clip, "stage2_blip": m.Stage2Blip, "stage2_caption": m.Stage2Caption, "stage2_accepted": m.Stage2Accepted,
		"recomposed": m.Recomposed, "recompose_reason": m.RecomposeReason, "recompose_exhausted": m.RecomposeExhausted,
		"error": m.Error,
	}
}

// Process drives row idx through search -> download -> verify ->
// background-condition -> compose -> post-verify (spec.md §4.9).
func (w *RowWorker) Process(ctx context.Context, idx int) Meta {
	if w.shutdown.Tripped() {
		return Meta{Index: idx, Skipped: true}
	}

	row, ok := w.table.Row(idx)
	if !ok {
		return Meta{Index: idx, Success: false, Error: "row index out of range"}
	}

	tempDir := filepath.Join(w.cfg.TempDirRoot, fmt.Sprintf("w%d", w.workerSlot))
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return w.finish(idx, Meta{Index: idx, Success: false, Error: err.Error()}, nil)
	}
	var tempFiles []string
	defer func() {
		for _, f := range tempFiles {
			_ = os.Remove(f)
		}
	}()

	primaryQuery := w.buildQuery(row)
	meta := Meta{Index: idx, Query: primaryQuery}

	destBase := filepath.Join(tempDir, fmt.Sprintf("ad_%04d", idx+1))

	var artifactPath string
	var err error

	if primaryQuery == "" {
		artifactPath, meta, err = w.placeholderArtifact(idx, "", meta)
	} else {
		artifactPath, meta, err = w.obtainArtifact(ctx, idx, row, primaryQuery, destBase, meta)
	}
	if err != nil {
		meta.Success = false
		meta.Error = err.Error()
		return w.finish(idx, meta, tempFiles)
	}
	if artifactPath == "" {
		meta.Success = false
		if meta.Error == "" {
			meta.Error = "no acceptable image found"
		}
		return w.finish(idx, meta, tempFiles)
	}

	finalPath, meta := w.composeAndVerify(idx, row, artifactPath, meta)

	relPath, relErr := filepath.Rel(w.cfg.ImagesDir, finalPath)
	if relErr != nil {
		relPath = finalPath
	}
	if err := w.table.SetField(idx, w.cfg.Columns.ImagePathColumn, relPath); err != nil {
		w.logger.Warn().Int("row", idx).Err(err).Msg("failed to write image path column")
	}
	meta.Filename = relPath
	meta.Success = true

	return w.finish(idx, meta, tempFiles)
}

// buildQuery implements spec.md §4.9 step 2: walk the priority column
// list, normalize the first usable value, falling back to the text
// column.
func (w *RowWorker) buildQuery(row rowtable.Row) string {
	cols := w.cfg.Columns
	for _, col := range cols.PriorityColumns {
		raw := row.Get(col)
		if query.IsValid(raw, cols.IgnoreValues) {
			return query.Clean(raw, cols.MaxWords, cols.JunkSuffixes)
		}
	}
	raw := row.Get(cols.TextColumn)
	if query.IsValid(raw, cols.IgnoreValues) {
		return query.Clean(raw, cols.MaxWords, cols.JunkSuffixes)
	}
	return ""
}

// obtainArtifact implements steps 3-4: cache probe, then search+select,
// with up to two fallback queries, finally a placeholder.
func (w *RowWorker) obtainArtifact(ctx context.Context, idx int, row rowtable.Row, primaryQuery, destBase string, meta Meta) (string, Meta, error) {
	if w.cfg.CacheEnabled {
		if path, hit := w.cacheProbe(primaryQuery, destBase); hit {
			meta.Source = "cache"
			return path, meta, nil
		}
	}

	queries := []string{primaryQuery}
	for _, fb := range query.BuildFallbacks(row.Fields, "", w.cfg.Columns.FallbackColumns, w.cfg.Columns.MaxWords, w.cfg.Columns.IgnoreValues) {
		if fb != primaryQuery && len(queries) < 3 {
			queries = append(queries, fb)
		}
	}

	for _, q := range queries {
		if w.shutdown.Tripped() {
			meta.Skipped = true
			return "", meta, nil
		}
		candidates := w.broker.Search(ctx, q, w.cfg.SearchOptions)
		if len(candidates) == 0 {
			continue
		}
		outcome, err := w.selector.Select(ctx, candidates, q, destBase)
		if err != nil {
			w.logger.Warn().Int("row", idx).Err(err).Msg("candidate selection error")
			continue
		}
		if outcome == nil || outcome.Artifact == nil {
			if outcome != nil {
				w.stats.Stage1VerifyRejects.Add(1)
			}
			continue
		}
		w.stats.Stage1Verified.Add(1)
		meta.Query = q
		meta.Source = outcome.Artifact.Provider
		if outcome.Verified != nil {
			meta.Stage1Clip = outcome.Verified.Clip
			meta.Stage1Blip = outcome.Verified.Blip
			meta.Stage1Caption = outcome.Verified.Caption
			meta.Stage1Accepted = outcome.Verified.Accepted
		}
		if w.cfg.CacheEnabled {
			w.cachePut(q, outcome.Artifact)
		}
		return outcome.Artifact.Path, meta, nil
	}

	path, meta, err := w.placeholderArtifact(idx, primaryQuery, meta)
	return path, meta, err
}

func (w *RowWorker) cacheProbe(q, destBase string) (string, bool) {
	fp := query.Fingerprint(q)
	entry, err := w.cache.Get(fp)
	if err != nil {
		w.logger.Warn().Err(err).Msg("cache probe failed")
		return "", false
	}
	if entry == nil {
		return "", false
	}
	w.stats.CacheHits.Add(1)

	data, err := os.ReadFile(entry.StoredPath)
	if err != nil {
		return "", false
	}
	dest := destBase + filepath.Ext(entry.StoredPath)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", false
	}
	return dest, true
}

func (w *RowWorker) cachePut(q string, artifact *types.Artifact) {
	fp := query.Fingerprint(q)
	entry := types.CacheEntry{
		Query: q, SourceURL: artifact.SourceURL, StoredPath: artifact.Path,
		ContentDigest: artifact.ContentDigest, Width: artifact.Width, Height: artifact.Height,
		ByteSize: artifact.ByteSize, Provider: artifact.Provider, CreatedAtNS: time.Now().UnixNano(),
	}
	if err := w.cache.Put(fp, entry); err != nil {
		w.logger.Warn().Err(err).Msg("cache put failed")
	}
}

func (w *RowWorker) placeholderArtifact(idx int, q string, meta Meta) (string, Meta, error) {
	label := q
	if label == "" {
		label = "ad"
	}
	dest := filepath.Join(w.cfg.ImagesDir, rowtable.OutputFilename(idx, "jpg"))
	path, err := w.compositor.Placeholder(label, dest)
	if err != nil {
		return "", meta, fmt.Errorf("failed to synthesize placeholder: %w", err)
	}
	meta.Source = "placeholder"
	return path, meta, nil
}

// composeAndVerify implements steps 5-7: background conditioning,
// composition, and bounded Stage-2 recomposition.
func (w *RowWorker) composeAndVerify(idx int, row rowtable.Row, artifactPath string, meta Meta) (string, Meta) {
	outputPath := filepath.Join(w.cfg.ImagesDir, rowtable.OutputFilename(idx, "jpg"))

	if meta.Source == "placeholder" {
		return artifactPath, meta
	}

	original, err := decodeImage(artifactPath)
	if err != nil {
		w.logger.Warn().Int("row", idx).Err(err).Msg("failed to decode artifact for composition")
		return artifactPath, meta
	}

	var conditioned = original
	useOriginal := true
	if w.remover != nil && w.remover.ShouldAttempt(meta.Query) {
		out, result, err := w.remover.Remove(original)
		if err == nil && result.UseConditioned {
			conditioned = out
			useOriginal = false
			w.stats.BGRemoved.Add(1)
		} else {
			w.stats.BGSkipped.Add(1)
		}
	} else {
		w.stats.BGSkipped.Add(1)
	}

	fields := compose.RowFields{
		Text: row.Get(w.cfg.Columns.TextColumn),
		Discount: row.Get(w.cfg.Columns.DiscountColumn),
		CallToAction: row.Get(w.cfg.Columns.CallToActionColumn),
		DominantColor: row.Get(w.cfg.Columns.ColorColumn),
	}

	finalPath, err := w.compositor.Compose(original, conditioned, useOriginal, fields, outputPath, idx)
	if err != nil {
		w.logger.Warn().Int("row", idx).Err(err).Msg("composition failed")
		return artifactPath, meta
	}

	if w.verifier == nil {
		return finalPath, meta
	}

	composedImg, err := decodeImage(finalPath)
	if err != nil {
		return finalPath, meta
	}
	result := w.verifier.VerifyComposed(composedImg, meta.Query, w.cfg.Stage2Thresholds)
	meta.Stage2Clip, meta.Stage2Blip, meta.Stage2Caption, meta.Stage2Accepted = result.Clip, result.Blip, result.Caption, result.Accepted
	if result.Accepted {
		w.stats.Stage2Verified.Add(1)
		return finalPath, meta
	}
	w.stats.Stage2VerifyRejects.Add(1)

	return w.recompose(idx, original, fields, outputPath, meta)
}

// recompose implements step 7's bounded recovery attempts: attempt 1
// forces background removal off (uses the original image untouched),
// attempt 2 additionally strips the discount/call-to-action overlay
// text down to the bare product text. The first attempt the Stage-2
// verifier accepts wins; if every attempt is exhausted, the last
// composed image is kept and meta.RecomposeExhausted is set.
func (w *RowWorker) recompose(idx int, original image.Image, fields compose.RowFields, outputPath string, meta Meta) (string, Meta) {
	attempts := w.cfg.MaxRecomposeAttempts
	if attempts <= 0 {
		attempts = 2
	}

	variants := []struct {
		reason string
		fields compose.RowFields
	}{
		{reason: "background_removal_disabled", fields: fields},
		{reason: "simplified_text", fields: compose.RowFields{Text: fields.Text}},
	}
	if len(variants) > attempts {
		variants = variants[:attempts]
	}

	finalPath := outputPath
	for i, variant := range variants {
		w.stats.Recomposes.Add(1)
		meta.Recomposed = true
		meta.RecomposeReason = variant.reason

		path, err := w.compositor.Compose(original, original, true, variant.fields, outputPath, idx+i+1)
		if err != nil {
			w.logger.Warn().Int("row", idx).Err(err).Msg("recompose failed")
			continue
		}
		finalPath = path

		composedImg, err := decodeImage(path)
		if err != nil {
			continue
		}
		result := w.verifier.VerifyComposed(composedImg, meta.Query, w.cfg.Stage2Thresholds)
		meta.Stage2Clip, meta.Stage2Blip, meta.Stage2Caption, meta.Stage2Accepted = result.Clip, result.Blip, result.Caption, result.Accepted
		if result.Accepted {
			w.stats.Stage2Verified.Add(1)
			return finalPath, meta
		}
	}

	meta.RecomposeExhausted = true
	return finalPath, meta
}

func decodeImage(path string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".png" {
		return compose.DecodePNG(path)
	}
	return compose.DecodeJPEG(path)
}

func (w *RowWorker) finish(idx int, meta Meta, tempFiles []string) Meta {
	w.stats.Total.Add(1)
	if meta.Success {
		w.stats.Success.Add(1)
		if meta.Source == "placeholder" {
			w.stats.Placeholder.Add(1)
		}
	} else if !meta.Skipped {
		w.stats.Failed.Add(1)
	}
	return meta
}

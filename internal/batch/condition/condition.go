// Package condition implements the background-conditioning step
// (spec.md §4.9 step 5): a Remover collaborator that strips the
// background from a candidate image when the query doesn't mention a
// "scene" keyword, with sanity checks on the result (retained-pixel
// ratio and coherent-region checks) before the caller is allowed to use
// it. Grounded on original_source/imaging/background.py's
// BackgroundRemover: should_remove's scene-keyword gate, remove's
// retention-ratio bands, and _coherent's bounding-box fill-ratio check.
package condition

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
)

// defaultSceneKeywords mirrors original_source's scene_keywords config:
// queries mentioning these are assumed to be full scenes rather than a
// single product, so background removal is skipped.
var defaultSceneKeywords = []string{
	"highway", "interior", "crowd", "street", "landscape", "skyline",
	"room", "office", "kitchen", "garden", "stadium", "city",
}

// Config tunes the conditioner's scene-skip and sanity-check bands.
type Config struct {
	SceneKeywords  []string
	MinRetention   float64 // r_lo: below this, the removal was too aggressive
	MaxRetention   float64 // r_hi: above this, nothing meaningful was removed
	MinObjectRatio float64 // object_min: the bounding box of all opaque pixels must cover at least this fraction of canvas; separate regions are not told apart
	MinFillRatio   float64 // min_fill_ratio: bounding-box coherence threshold
}

// DefaultConfig returns the tunables original_source/config/settings.py
// ships for BackgroundRemovalConfig.
func DefaultConfig() Config {
	return Config{
		SceneKeywords:  defaultSceneKeywords,
		MinRetention:   0.05,
		MaxRetention:   0.95,
		MinObjectRatio: 0.10,
		MinFillRatio:   0.40,
	}
}

// Result is the outcome of one conditioning attempt.
type Result struct {
	UseConditioned bool
	RetainedRatio  float64
	Reason         string
}

// Backend performs the actual pixel-level background removal, returning
// an RGBA image with background pixels made transparent. It is a narrow
// collaborator per spec.md §6: the concrete ML segmentation model is
// out of scope.
type Backend interface {
	RemoveBackground(img image.Image) (image.Image, error)
}

// Remover wraps a Backend with the scene-keyword skip heuristic and the
// retained-pixel/coherent-region sanity checks. Calls are serialized
// through a single mutex since the underlying model is assumed
// non-reentrant (spec.md §4.9 step 5 / §5's shared-resource table).
type Remover struct {
	mu      sync.Mutex
	backend Backend
	cfg     Config
}

// New creates a Remover over backend with cfg's thresholds.
func New(backend Backend, cfg Config) *Remover {
	return &Remover{backend: backend, cfg: cfg}
}

// ShouldAttempt reports whether background removal should be attempted
// for query: false when the query mentions a configured scene keyword.
func (r *Remover) ShouldAttempt(query string) bool {
	low := strings.ToLower(query)
	for _, kw := range r.cfg.SceneKeywords {
		if strings.Contains(low, kw) {
			return false
		}
	}
	return true
}

// Remove runs the backend under the process-wide mutex and validates
// the result against the configured retention/coherence bands. On any
// rejection it returns UseConditioned=false so the caller falls back to
// the original image (spec.md §4.9 step 5).
func (r *Remover) Remove(img image.Image) (image.Image, Result, error) {
	r.mu.Lock()
	out, err := r.backend.RemoveBackground(img)
	r.mu.Unlock()
	if err != nil {
		return nil, Result{Reason: "backend_error"}, fmt.Errorf("background removal failed: %w", err)
	}

	bounds := out.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return nil, Result{Reason: "empty_image"}, nil
	}

	kept, minX, minY, maxX, maxY := 0, bounds.Max.X, bounds.Max.Y, bounds.Min.X, bounds.Min.Y
	hasAny := false
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if isOpaque(out.At(x, y)) {
				kept++
				hasAny = true
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	ratio := float64(kept) / float64(total)

	if ratio < r.cfg.MinRetention {
		if ratio >= 0.01 && hasAny && coherent(out, minX, minY, maxX, maxY, r.cfg.MinFillRatio) {
			return out, Result{UseConditioned: true, RetainedRatio: ratio, Reason: "sparse_but_coherent"}, nil
		}
		return nil, Result{RetainedRatio: ratio, Reason: "too_aggressive"}, nil
	}

	if ratio > r.cfg.MaxRetention {
		return nil, Result{RetainedRatio: ratio, Reason: "nothing_removed"}, nil
	}

	if hasAny {
		bboxArea := (maxX - minX + 1) * (maxY - minY + 1)
		objectRatio := float64(bboxArea) / float64(total)
		if objectRatio < r.cfg.MinObjectRatio {
			return nil, Result{RetainedRatio: ratio, Reason: "object_too_small"}, nil
		}
	}

	return out, Result{UseConditioned: true, RetainedRatio: ratio}, nil
}

func isOpaque(c color.Color) bool {
	_, _, _, a := c.RGBA()
	// alpha > 10/255 threshold, same as original_source's "alpha > 10"
	return a > (10 << 8)
}

// coherent reimplements _coherent: the filled fraction of the
// opaque-pixel bounding box must meet MinFillRatio.
func coherent(img image.Image, minX, minY, maxX, maxY int, minFillRatio float64) bool {
	bboxArea := (maxX - minX + 1) * (maxY - minY + 1)
	if bboxArea <= 0 {
		return false
	}
	if minFillRatio <= 0 {
		minFillRatio = 0.40
	}
	filled := 0
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if isOpaque(img.At(x, y)) {
				filled++
			}
		}
	}
	return float64(filled)/float64(bboxArea) >= minFillRatio
}

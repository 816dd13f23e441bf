// Package verify implements the Verifier collaborator contract
// (spec.md §6, §4.7): two methods producing clip/blip-shaped sub-scores
// and a weighted combined score for Stage-1 (strict) and Stage-2
// (relaxed) verification.
//
// Real CLIP/BLIP model weights are explicitly out of scope
// (spec.md §1's Non-goals treat the ML models as external
// collaborators). This package ships the dependency-free reference
// implementation SPEC_FULL.md §4.2 calls for: a histogram-entropy
// stand-in for the "clip" image/text alignment score, and the word
// overlap heuristic from original_source/imaging/verifier.py's
// _word_overlap (stop-word-filtered coverage/Jaccard blend) as the
// "blip" caption/query overlap score, so the full accept/reject
// threshold logic in C7 and RowWorker is exercised end to end.
package verify

import (
	"image"
	"math"
	"strings"
)

// Thresholds configures one verification stage's accept/reject bands
// (spec.md §4.7's table, reused unchanged for Stage-2 with relaxed
// values).
type Thresholds struct {
	ClipAcceptHi   float64
	ClipRejectLo   float64
	CombinedAccept float64
	CombinedReject float64
	ClipWeight     float64
	BlipWeight     float64
}

// Result is the shape both verify(image, query) and
// verify_composed(image, query) return per spec.md §6's Verifier
// contract.
type Result struct {
	Clip     float64
	Blip     float64
	Combined float64
	Caption  string
	Accepted bool
	Reason   string
}

// Verifier is the reference implementation wired into the pipeline by
// default. Captioner is pluggable so a real model-backed implementation
// can be substituted without touching C7/RowWorker.
type Verifier struct {
	Captioner Captioner
}

// Captioner produces a short caption for an image, standing in for
// BLIP's caption generation. DefaultCaptioner derives one from the
// image's luminance entropy when no real model is wired in.
type Captioner interface {
	Caption(img image.Image) string
}

// New creates a Verifier using DefaultCaptioner unless captioner is
// supplied.
func New(captioner Captioner) *Verifier {
	if captioner == nil {
		captioner = DefaultCaptioner{}
	}
	return &Verifier{Captioner: captioner}
}

// Verify runs Stage-1 (strict) verification: the downloaded candidate
// image against the query.
func (v *Verifier) Verify(img image.Image, query string, t Thresholds) Result {
	return v.verifyWithThresholds(img, query, t, "download")
}

// VerifyComposed runs Stage-2 (relaxed) verification: the final
// composed ad image against the query.
func (v *Verifier) VerifyComposed(img image.Image, query string, t Thresholds) Result {
	return v.verifyWithThresholds(img, query, t, "compose")
}

func (v *Verifier) verifyWithThresholds(img image.Image, query string, t Thresholds, stage string) Result {
	result := Result{}

	clip := clipScore(img, query)
	result.Clip = clip

	if clip >= t.ClipAcceptHi {
		result.Accepted = true
		result.Combined = clip
		result.Reason = stage + "_clip_high"
		return result
	}
	if clip < t.ClipRejectLo {
		result.Combined = clip
		result.Reason = stage + "_clip_low"
		return result
	}

	caption := v.Captioner.Caption(img)
	result.Caption = caption
	result.Blip = wordOverlap(query, caption)

	clipWeight, blipWeight := t.ClipWeight, t.BlipWeight
	if clipWeight == 0 && blipWeight == 0 {
		clipWeight, blipWeight = 0.6, 0.4
	}
	weightedSum := clip*clipWeight + result.Blip*blipWeight
	totalWeight := clipWeight + blipWeight
	if totalWeight > 0 {
		result.Combined = weightedSum / totalWeight
	}

	result.Accepted = result.Combined >= t.CombinedAccept
	if result.Accepted {
		result.Reason = stage + "_combined_pass"
	} else {
		result.Reason = stage + "_combined_fail"
	}
	return result
}

// clipScore stands in for a real CLIP cosine-similarity score: it uses
// normalized Shannon entropy of the image's luminance histogram, scaled
// so a photographic image (high entropy) scores higher than a
// near-solid placeholder. The query is not consulted.
func clipScore(img image.Image, query string) float64 {
	entropy := luminanceEntropy(img)
	// Shannon entropy over 256 buckets maxes at 8 bits; normalize to [0,1].
	normalized := entropy / 8.0
	if normalized > 1 {
		normalized = 1
	}
	if normalized < 0 {
		normalized = 0
	}
	return normalized
}

func luminanceEntropy(img image.Image) float64 {
	bounds := img.Bounds()
	var hist [256]int
	total := 0
	stepX, stepY := sampleStep(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			lum := (299*int(r>>8) + 587*int(g>>8) + 114*int(b>>8)) / 1000
			if lum > 255 {
				lum = 255
			}
			hist[lum]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func sampleStep(bounds image.Rectangle) (int, int) {
	w, h := bounds.Dx(), bounds.Dy()
	stepX, stepY := 1, 1
	if w > 200 {
		stepX = w / 200
	}
	if h > 200 {
		stepY = h / 200
	}
	return stepX, stepY
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"to": {}, "of": {}, "in": {}, "for": {}, "on": {}, "with": {}, "at": {},
	"by": {}, "from": {}, "as": {}, "and": {}, "but": {}, "or": {}, "not": {},
	"it": {}, "its": {}, "this": {}, "that": {}, "image": {}, "photo": {},
	"picture": {}, "showing": {}, "featuring": {}, "very": {}, "really": {},
}

// wordOverlap reimplements original_source/imaging/verifier.py's
// _word_overlap: stop-word-filtered token sets from query and caption,
// blended 0.7 coverage (intersection / query words) + 0.3 Jaccard.
func wordOverlap(query, caption string) float64 {
	wq := extractWords(query)
	wc := extractWords(caption)
	if len(wq) == 0 || len(wc) == 0 {
		return 0
	}

	inter := 0
	union := make(map[string]struct{}, len(wq)+len(wc))
	for w := range wq {
		union[w] = struct{}{}
		if _, ok := wc[w]; ok {
			inter++
		}
	}
	for w := range wc {
		union[w] = struct{}{}
	}

	coverage := float64(inter) / float64(len(wq))
	jaccard := float64(inter) / float64(len(union))
	return 0.7*coverage + 0.3*jaccard
}

func extractWords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		w = strings.ToLower(strings.Trim(w, ".,!?;:'\"()[]{}"))
		if len(w) <= 1 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// DefaultCaptioner derives a crude caption from one image statistic
// (the entropy of its luminance histogram) when no real captioning model
// is wired in. It is intentionally weak: it exists to keep the
// Stage-1/Stage-2 combined-score machinery exercised, not to produce
// usable captions.
type DefaultCaptioner struct{}

// Caption implements Captioner.
func (DefaultCaptioner) Caption(img image.Image) string {
	bounds := img.Bounds()
	entropy := luminanceEntropy(img)
	switch {
	case entropy < 2:
		return "a plain solid colored image"
	case entropy < 5:
		return "a simple image with few colors"
	default:
		_ = bounds
		return "a detailed photographic image"
	}
}

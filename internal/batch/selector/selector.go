// Package selector implements CandidateSelector (spec.md §4.7, C7): the
// densest part of the core. It scores candidates cheaply from URL
// metadata, downloads and validates the top-ranked ones, and runs
// Stage-1 verification until it finds an acceptor or exhausts its
// budget, falling back to the best-scoring candidate examined so far if
// it clears the reject floor. Grounded on
// original_source/imaging/downloader.py's ImageDownloader.download_best
// (ranking, verified_count/best_candidate bookkeeping, the exact
// min_candidates_before_best / combined_reject fallback rule) and
// imaging/scorer.py's ImageQualityScorer.score_result (trusted-domain
// table, penalty patterns, format/resolution bonuses).
package selector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adforge/pipeline/internal/batch/dedup"
	"github.com/adforge/pipeline/internal/batch/types"
	"github.com/adforge/pipeline/internal/batch/verify"
	"github.com/adforge/pipeline/internal/common"
)

// trustedDomains mirrors scorer.py's TRUSTED_DOMAINS table verbatim.
var trustedDomains = []struct {
	domain string
	trust  float64
}{
	{"shutterstock.com", 0.9}, {"istockphoto.com", 0.9},
	{"gettyimages.com", 0.9}, {"adobe.com", 0.85},
	{"unsplash.com", 0.85}, {"pexels.com", 0.8},
	{"freepik.com", 0.7}, {"pngtree.com", 0.7},
	{"amazon.com", 0.6}, {"ebay.com", 0.5},
}

// penaltyPatterns mirrors scorer.py's PENALTY_PATTERNS.
var penaltyPatterns = []string{
	"thumb", "small", "icon", "tiny", "mini",
	"preview", "placeholder", "loading", "spinner",
}

var providerTrust = map[string]float64{"duckduckgo": 3, "bing": 2, "google": 1}

// ScoreCandidate implements score_result: a cheap, pre-download score
// from URL metadata alone, used to rank candidates before any network
// call.
func ScoreCandidate(c types.Candidate) float64 {
	s := 0.0
	low := strings.ToLower(c.URL)

	if strings.Contains(low, ".png") {
		s += 10
	} else if strings.Contains(low, ".webp") {
		s += 5
	}

	for _, td := range trustedDomains {
		if strings.Contains(low, td.domain) {
			s += td.trust * 10
			break
		}
	}

	if c.Width > 0 && c.Height > 0 {
		mpx := float64(c.Width*c.Height) / 1_000_000
		bonus := mpx * 5
		if bonus > 20 {
			bonus = 20
		}
		s += bonus
	}

	for _, p := range penaltyPatterns {
		if strings.Contains(low, p) {
			s -= 15
			break
		}
	}

	s += providerTrust[c.Provider]
	return s
}

// ValidationConfig bounds the post-download validation checks (spec.md
// §4.7's Validation rules).
type ValidationConfig struct {
	MinFileBytes      int
	MinWidth          int
	MinHeight         int
	MinAspect         float64
	MaxAspect         float64
	MinLuminanceStd   float64
	MinDistinctColors int
}

// DefaultValidationConfig mirrors original_source/config/settings.py's
// ImageQualityConfig defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MinFileBytes: 2048, MinWidth: 200, MinHeight: 200,
		MinAspect: 0.4, MaxAspect: 2.5,
		MinLuminanceStd: 8, MinDistinctColors: 16,
	}
}

// SelectionConfig bounds the Stage-1 selection loop (spec.md §4.7's
// Selection loop / Thresholds table).
type SelectionConfig struct {
	MaxVerifyCandidates     int
	MinCandidatesBeforeBest int
	Thresholds              verify.Thresholds
}

// Downloader fetches raw candidate bytes. Grounded on downloader.py's
// ImageDownloader._fetch: up to 2 attempts with exponential back-off
// (base 0.5s), a per-thread HTTP client.
type Downloader struct {
	httpClient *http.Client
}

// NewDownloader creates a Downloader with the given per-request timeout.
func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Downloader{httpClient: &http.Client{Timeout: timeout}}
}

// Fetch downloads url with up to 2 attempts and exponential back-off
// starting at 0.5s, per spec.md §4.7 step 2a.
func (d *Downloader) Fetch(ctx context.Context, url string, minBytes int) ([]byte, error) {
	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		data, err := d.fetchOnce(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if len(data) < minBytes {
			lastErr = fmt.Errorf("downloaded body too small (%d bytes < %d)", len(data), minBytes)
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

func (d *Downloader) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// Selector ties together scoring, validation, Stage-1 verification, and
// persistence.
type Selector struct {
	downloader *Downloader
	dedup      *dedup.Set
	verifier   *verify.Verifier
	validation ValidationConfig
	selection  SelectionConfig
	logger     *common.Logger
}

// New creates a Selector. verifier may be nil, meaning Stage-1
// verification is skipped and the top-scoring validated candidate is
// accepted directly (spec.md §4.7: "if a verifier is configured").
func New(downloader *Downloader, dedupSet *dedup.Set, verifier *verify.Verifier, validation ValidationConfig, selection SelectionConfig, logger *common.Logger) *Selector {
	return &Selector{
		downloader: downloader, dedup: dedupSet, verifier: verifier,
		validation: validation, selection: selection, logger: logger,
	}
}

// Outcome is the result of Select: either a persisted artifact or none.
type Outcome struct {
	Artifact *types.Artifact
	Verified *verify.Result
}

// Select runs the algorithm from spec.md §4.7: sort by cheap score,
// then loop downloading/validating/verifying until an acceptor is found
// or the candidate list and verify budget are exhausted.
func (s *Selector) Select(ctx context.Context, candidates []types.Candidate, query, destBase string) (*Outcome, error) {
	ranked := make([]types.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ScoreCandidate(ranked[i]) > ScoreCandidate(ranked[j])
	})

	maxVerify := s.selection.MaxVerifyCandidates
	if maxVerify <= 0 {
		maxVerify = 10
	}
	minBeforeBest := s.selection.MinCandidatesBeforeBest
	if minBeforeBest <= 0 {
		minBeforeBest = 3
	}

	var best *pendingArtifact
	bestCombined := math.Inf(-1)
	examined := 0

	for _, c := range ranked {
		if s.verifier != nil && query != "" && examined >= maxVerify {
			break
		}

		data, err := s.downloader.Fetch(ctx, c.URL, s.validation.MinFileBytes)
		if err != nil {
			s.logger.Debug().Str("url", c.URL).Err(err).Msg("candidate download failed")
			continue
		}

		digest := dedup.Digest(data)
		if !s.dedup.Add(digest) {
			continue
		}

		img, format, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			s.logger.Debug().Str("url", c.URL).Err(err).Msg("candidate decode failed")
			continue
		}
		if !s.validate(img) {
			continue
		}

		candidate := &pendingArtifact{
			candidate: c, data: data, img: img, format: format, digest: digest,
		}

		if s.verifier == nil || query == "" {
			artifact, err := s.persist(candidate, destBase, verify.Result{})
			if err != nil {
				return nil, err
			}
			return &Outcome{Artifact: artifact}, nil
		}

		examined++
		result := s.verifier.Verify(img, query, s.selection.Thresholds)

		// spec.md §4.7 step 2d: an immediate-reject never updates best —
		// only accept or the ambiguous middle band participate in
		// best-candidate tracking.
		immediateReject := !result.Accepted && strings.HasSuffix(result.Reason, "_clip_low")
		if !result.Accepted && !immediateReject && result.Combined > bestCombined {
			bestCombined = result.Combined
			best = candidate
			best.verified = result
		}

		if result.Accepted {
			artifact, err := s.persist(candidate, destBase, result)
			if err != nil {
				return nil, err
			}
			return &Outcome{Artifact: artifact, Verified: &result}, nil
		}

		if examined >= minBeforeBest && bestCombined > s.selection.Thresholds.CombinedReject {
			artifact, err := s.persist(best, destBase, best.verified)
			if err != nil {
				return nil, err
			}
			return &Outcome{Artifact: artifact, Verified: &best.verified}, nil
		}
	}

	if best != nil && bestCombined >= s.selection.Thresholds.CombinedReject {
		artifact, err := s.persist(best, destBase, best.verified)
		if err != nil {
			return nil, err
		}
		return &Outcome{Artifact: artifact, Verified: &best.verified}, nil
	}

	return nil, nil
}

type pendingArtifact struct {
	candidate types.Candidate
	data      []byte
	img       image.Image
	format    string
	digest    string
	verified  verify.Result
}

func (s *Selector) validate(img image.Image) bool {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < s.validation.MinWidth || h < s.validation.MinHeight {
		return false
	}
	aspect := float64(w) / float64(h)
	if aspect < s.validation.MinAspect || aspect > s.validation.MaxAspect {
		return false
	}
	return hasVisualContent(img, s.validation.MinLuminanceStd, s.validation.MinDistinctColors)
}

// hasVisualContent rejects near-solid images: luminance standard
// deviation must clear a floor and a downsampled sample must show
// enough distinct colors, per spec.md §4.7's Validation rules.
func hasVisualContent(img image.Image, minStd float64, minColors int) bool {
	bounds := img.Bounds()
	stepX, stepY := sampleStep(bounds)

	var sum, sumSq float64
	n := 0
	colors := make(map[uint32]struct{})

	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			lum := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			sum += lum
			sumSq += lum * lum
			n++
			key := (r>>8)<<16 | (g>>8)<<8 | (b >> 8)
			colors[key] = struct{}{}
		}
	}
	if n == 0 {
		return false
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	stdDev := math.Sqrt(variance)

	return stdDev >= minStd && len(colors) >= minColors
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

// persist writes the decoded image beside destBase, choosing extension
// by alpha-channel presence (spec.md §4.7's Persistence rule: ".png" if
// it carries an alpha channel, ".jpg" at quality 95 otherwise).
func (s *Selector) persist(p *pendingArtifact, destBase string, verified verify.Result) (*types.Artifact, error) {
	hasAlpha := imageHasAlpha(p.img)
	ext := "jpg"
	if hasAlpha {
		ext = "png"
	}
	dest := destBase + "." + ext

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	if err := writeImage(dest, p.img, hasAlpha); err != nil {
		return nil, err
	}

	bounds := p.img.Bounds()
	return &types.Artifact{
		Path: dest, Width: bounds.Dx(), Height: bounds.Dy(), ByteSize: len(p.data),
		ContentDigest: p.digest, Provider: p.candidate.Provider, SourceURL: p.candidate.URL,
		Clip: verified.Clip, Blip: verified.Blip, Combined: verified.Combined,
		Caption: verified.Caption, Verified: verified.Accepted,
	}, nil
}

func writeImage(dest string, img image.Image, hasAlpha bool) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create artifact file %s: %w", dest, err)
	}
	defer f.Close()

	if hasAlpha {
		if err := png.Encode(f, img); err != nil {
			return fmt.Errorf("failed to encode png artifact: %w", err)
		}
		return nil
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		return fmt.Errorf("failed to encode jpeg artifact: %w", err)
	}
	return nil
}

func imageHasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA, *image.RGBA:
		bounds := img.Bounds()
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				_, _, _, a := img.At(x, y).RGBA()
				if a < 0xffff {
					return true
				}
			}
		}
	}
	return false
}

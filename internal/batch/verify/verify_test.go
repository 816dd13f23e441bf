package verify

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func noisyImage(w, h int, seed int64) image.Image {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(r.Intn(256)), G: uint8(r.Intn(256)), B: uint8(r.Intn(256)), A: 255,
			})
		}
	}
	return img
}

type stubCaptioner struct{ caption string }

func (s stubCaptioner) Caption(image.Image) string { return s.caption }

func strictThresholds() Thresholds {
	return Thresholds{ClipAcceptHi: 0.9, ClipRejectLo: 0.2, CombinedAccept: 0.65, CombinedReject: 0.3}
}

func TestVerify_SolidImageScoresLowEntropy(t *testing.T) {
	v := New(stubCaptioner{"a plain solid colored image"})
	img := solidImage(64, 64, color.RGBA{R: 10, G: 10, B: 10, A: 255})
	result := v.Verify(img, "red sneakers", strictThresholds())
	require.Less(t, result.Clip, 0.3)
}

func TestVerify_ImmediateAcceptAboveClipHi(t *testing.T) {
	v := New(stubCaptioner{"anything"})
	img := noisyImage(256, 256, 1)
	thresholds := Thresholds{ClipAcceptHi: 0.01, ClipRejectLo: 0.0, CombinedAccept: 0.9, CombinedReject: 0.8}
	result := v.Verify(img, "red sneakers", thresholds)
	require.True(t, result.Accepted)
	require.Contains(t, result.Reason, "clip_high")
}

func TestVerify_ImmediateRejectBelowClipLo(t *testing.T) {
	v := New(stubCaptioner{"anything"})
	img := solidImage(64, 64, color.RGBA{R: 5, G: 5, B: 5, A: 255})
	thresholds := Thresholds{ClipAcceptHi: 0.99, ClipRejectLo: 0.5, CombinedAccept: 0.5, CombinedReject: 0.1}
	result := v.Verify(img, "red sneakers", thresholds)
	require.False(t, result.Accepted)
	require.Contains(t, result.Reason, "clip_low")
	require.Empty(t, result.Caption, "caption should not be computed on immediate reject")
}

func TestVerify_CombinedBlendUsesCaptionOverlap(t *testing.T) {
	v := New(stubCaptioner{"red sneakers on a white background"})
	img := noisyImage(128, 128, 2)
	thresholds := Thresholds{ClipAcceptHi: 2.0, ClipRejectLo: -1.0, CombinedAccept: 0.1, CombinedReject: 0.0}
	result := v.Verify(img, "red sneakers", thresholds)
	require.Greater(t, result.Blip, 0.0, "caption overlapping the query should score above zero")
	require.True(t, result.Accepted)
}

func TestVerify_NoOverlapScoresZeroBlip(t *testing.T) {
	v := New(stubCaptioner{"a completely unrelated caption text"})
	img := noisyImage(128, 128, 3)
	thresholds := Thresholds{ClipAcceptHi: 2.0, ClipRejectLo: -1.0, CombinedAccept: 0.99, CombinedReject: 0.0}
	result := v.Verify(img, "red sneakers", thresholds)
	require.Equal(t, 0.0, result.Blip)
}

func TestVerifyComposed_UsesRelaxedThresholds(t *testing.T) {
	v := New(stubCaptioner{"red sneakers"})
	img := noisyImage(128, 128, 4)
	relaxed := Thresholds{ClipAcceptHi: 2.0, ClipRejectLo: -1.0, CombinedAccept: 0.05, CombinedReject: 0.0}
	result := v.VerifyComposed(img, "red sneakers", relaxed)
	require.True(t, result.Accepted)
	require.Contains(t, result.Reason, "compose_combined_pass")
}

func TestDefaultCaptioner_VariesByEntropy(t *testing.T) {
	c := DefaultCaptioner{}
	solid := c.Caption(solidImage(32, 32, color.RGBA{A: 255}))
	noisy := c.Caption(noisyImage(128, 128, 5))
	require.NotEqual(t, solid, noisy)
}

func TestNew_DefaultsToDefaultCaptioner(t *testing.T) {
	v := New(nil)
	require.IsType(t, DefaultCaptioner{}, v.Captioner)
}

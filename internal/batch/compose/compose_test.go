package compose

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectTemplate_CyclesByIndex(t *testing.T) {
	templates := []Template{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	require.Equal(t, "a", SelectTemplate(templates, 0).Name)
	require.Equal(t, "b", SelectTemplate(templates, 1).Name)
	require.Equal(t, "c", SelectTemplate(templates, 2).Name)
	require.Equal(t, "a", SelectTemplate(templates, 3).Name)
	require.Equal(t, "c", SelectTemplate(templates, 5).Name)
}

func TestSelectTemplate_EmptyFallsBackToDefault(t *testing.T) {
	tpl := SelectTemplate(nil, 7)
	require.Equal(t, DefaultTemplates[0].Name, tpl.Name)
}

func solidTestImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{200, 30, 30, 255})
		}
	}
	return img
}

func TestCompositor_ComposeWritesJPEGFile(t *testing.T) {
	c := New(nil)
	product := solidTestImage(200, 200)
	out := filepath.Join(t.TempDir(), "ad_0001.jpg")

	path, err := c.Compose(product, nil, true, RowFields{Text: "50% off", Discount: "SALE", CallToAction: "Buy now"}, out, 0)
	require.NoError(t, err)
	require.Equal(t, out, path)
	require.FileExists(t, out)

	decoded, err := DecodeJPEG(out)
	require.NoError(t, err)
	require.Equal(t, DefaultTemplates[0].CanvasW, decoded.Bounds().Dx())
	require.Equal(t, DefaultTemplates[0].CanvasH, decoded.Bounds().Dy())
}

func TestCompositor_ComposeWithConditionedAlternate(t *testing.T) {
	c := New(nil)
	original := solidTestImage(200, 200)
	conditioned := solidTestImage(200, 200)
	out := filepath.Join(t.TempDir(), "ad_0002.jpg")

	path, err := c.Compose(original, conditioned, false, RowFields{Text: "shoes"}, out, 0)
	require.NoError(t, err)
	require.FileExists(t, path)
}

func TestCompositor_Idempotent_OverwritesOutput(t *testing.T) {
	c := New(nil)
	out := filepath.Join(t.TempDir(), "ad_0003.jpg")
	_, err := c.Compose(solidTestImage(100, 100), nil, true, RowFields{}, out, 0)
	require.NoError(t, err)
	_, err = c.Compose(solidTestImage(150, 150), nil, true, RowFields{}, out, 0)
	require.NoError(t, err)
	require.FileExists(t, out)
}

func TestCompositor_Placeholder(t *testing.T) {
	c := New(nil)
	out := filepath.Join(t.TempDir(), "ad_0004.jpg")
	path, err := c.Placeholder("red sneakers on sale", out)
	require.NoError(t, err)
	require.FileExists(t, path)

	decoded, err := DecodeJPEG(path)
	require.NoError(t, err)
	require.Equal(t, 800, decoded.Bounds().Dx())
}

func TestThumbnail_NeverUpscales(t *testing.T) {
	img := solidTestImage(50, 50)
	out := thumbnail(img, 720, 720)
	require.Equal(t, 50, out.Bounds().Dx())
	require.Equal(t, 50, out.Bounds().Dy())
}

func TestThumbnail_ScalesDownPreservingAspect(t *testing.T) {
	img := solidTestImage(1000, 500)
	out := thumbnail(img, 200, 200)
	require.LessOrEqual(t, out.Bounds().Dx(), 200)
	require.LessOrEqual(t, out.Bounds().Dy(), 200)
	ratio := float64(out.Bounds().Dx()) / float64(out.Bounds().Dy())
	require.InDelta(t, 2.0, ratio, 0.05)
}

func TestPickColor_KnownAndUnknown(t *testing.T) {
	require.Equal(t, colorMap["red"], pickColor("red"))
	require.Equal(t, defaultBackground, pickColor("chartreuse"))
}

// Package compose implements the Compositor collaborator (spec.md §6,
// §4.9 step 6): compose(original, optional conditioned, use_original,
// row fields, output path, template) -> output path. Grounded on
// original_source/core/compositor.py's AdCompositor.compose: pick a
// cyclic template, build a vertical gradient background with a dark
// overlay, center the product (with a drop shadow when the background
// was removed), overlay row text fields, and JPEG-encode at quality 95.
// Uses stdlib image/draw; text rendering uses golang.org/x/image/font
// with the basicfont face as a dependency-free stand-in for the
// teacher's TrueType font loading (no font files are bundled here).
package compose

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Template is one layout recipe, selected cyclically by row index
// (spec.md §4.9 step 6's "index into a cyclic template list by idx mod
// len", a pure function — no mutable state).
type Template struct {
	Name            string
	CanvasW, CanvasH int
	ProductMaxW, ProductMaxH int
	ProductPositionY int
	OverlayAlpha     uint8
	TextColor        color.Color
}

// DefaultTemplates mirrors original_source/config/templates.py's
// ALL_TEMPLATES set: a small fixed rotation of layouts.
var DefaultTemplates = []Template{
	{Name: "classic", CanvasW: 1080, CanvasH: 1080, ProductMaxW: 720, ProductMaxH: 720, ProductPositionY: 180, OverlayAlpha: 40, TextColor: color.White},
	{Name: "wide", CanvasW: 1200, CanvasH: 900, ProductMaxW: 760, ProductMaxH: 640, ProductPositionY: 140, OverlayAlpha: 60, TextColor: color.White},
	{Name: "tall", CanvasW: 900, CanvasH: 1200, ProductMaxW: 680, ProductMaxH: 780, ProductPositionY: 220, OverlayAlpha: 30, TextColor: color.White},
}

// SelectTemplate implements the cyclic index rule: idx mod len(templates).
func SelectTemplate(templates []Template, idx int) Template {
	if len(templates) == 0 {
		return DefaultTemplates[0]
	}
	return templates[((idx%len(templates))+len(templates))%len(templates)]
}

// RowFields carries the subset of row columns the compositor is allowed
// to read (spec.md §6: text/discount/call-to-action/dominant-color).
type RowFields struct {
	Text           string
	Discount       string
	CallToAction   string
	DominantColor  string
}

var colorMap = map[string]color.RGBA{
	"red":    {200, 40, 40, 255},
	"blue":   {40, 90, 200, 255},
	"green":  {40, 150, 80, 255},
	"orange": {220, 120, 30, 255},
	"purple": {110, 60, 170, 255},
	"black":  {30, 30, 30, 255},
	"white":  {230, 230, 230, 255},
	"yellow": {220, 200, 40, 255},
}

var defaultBackground = color.RGBA{70, 130, 180, 255}

// Compositor implements the reference compositing pipeline.
type Compositor struct {
	Templates []Template
}

// New creates a Compositor over templates, defaulting to
// DefaultTemplates when nil/empty.
func New(templates []Template) *Compositor {
	if len(templates) == 0 {
		templates = DefaultTemplates
	}
	return &Compositor{Templates: templates}
}

// Compose builds the final ad image: background gradient + dark
// overlay, centered product (optionally with a drop shadow when
// useOriginal is false, meaning a background-removed alternate was
// supplied), row text overlay, written to output as JPEG quality 95.
// Idempotent: re-running overwrites output.
func (c *Compositor) Compose(original image.Image, conditioned image.Image, useOriginal bool, fields RowFields, output string, templateIdx int) (string, error) {
	tpl := SelectTemplate(c.Templates, templateIdx)

	product := original
	bgRemoved := false
	if !useOriginal && conditioned != nil {
		product = conditioned
		bgRemoved = true
	}

	bg := pickColor(fields.DominantColor)
	canvas := gradient(tpl.CanvasW, tpl.CanvasH, bg, darken(bg, 40))
	applyOverlay(canvas, tpl.OverlayAlpha)

	scaled := thumbnail(product, tpl.ProductMaxW, tpl.ProductMaxH)
	x := (tpl.CanvasW - scaled.Bounds().Dx()) / 2
	y := tpl.ProductPositionY

	if bgRemoved {
		drawShadow(canvas, scaled, x, y)
	}
	draw.Draw(canvas, scaled.Bounds().Add(image.Pt(x, y)), scaled, scaled.Bounds().Min, draw.Over)

	drawText(canvas, fields, tpl)

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(output)
	if err != nil {
		return "", fmt.Errorf("failed to create output file %s: %w", output, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, canvas, &jpeg.Options{Quality: 95}); err != nil {
		return "", fmt.Errorf("failed to encode composed image: %w", err)
	}
	return output, nil
}

// Placeholder creates a synthesized fallback image bearing the query
// text, used when no acceptable candidate was found (spec.md §4.9
// step 4).
func (c *Compositor) Placeholder(query, dest string) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, 800, 800))
	draw.Draw(img, img.Bounds(), &image.Uniform{defaultBackground}, image.Point{}, draw.Src)

	text := query
	if len(text) > 20 {
		text = text[:20]
	}
	drawCenteredLabel(img, text, color.White)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create placeholder dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create placeholder file %s: %w", dest, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		return "", fmt.Errorf("failed to encode placeholder: %w", err)
	}
	return dest, nil
}

func pickColor(name string) color.RGBA {
	if c, ok := colorMap[name]; ok {
		return c
	}
	return defaultBackground
}

func darken(c color.RGBA, delta int) color.RGBA {
	sub := func(v uint8) uint8 {
		n := int(v) - delta
		if n < 0 {
			n = 0
		}
		return uint8(n)
	}
	return color.RGBA{sub(c.R), sub(c.G), sub(c.B), 255}
}

// gradient builds a vertical gradient canvas from c1 (top) to c2
// (bottom), matching _gradient's per-row alpha-mask blend.
func gradient(w, h int, c1, c2 color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		t := float64(y) / float64(h)
		row := color.RGBA{
			R: lerp(c1.R, c2.R, t),
			G: lerp(c1.G, c2.G, t),
			B: lerp(c1.B, c2.B, t),
			A: 255,
		}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, row)
		}
	}
	return img
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

func applyOverlay(img *image.RGBA, alpha uint8) {
	if alpha == 0 {
		return
	}
	overlay := &image.Uniform{color.RGBA{0, 0, 0, alpha}}
	draw.Draw(img, img.Bounds(), overlay, image.Point{}, draw.Over)
}

// thumbnail scales img down (never up) to fit within maxW x maxH,
// preserving aspect ratio, using nearest-neighbor sampling (no external
// resampling library is part of the reference corpus beyond what
// golang.org/x/image already brings in for font rendering).
func thumbnail(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return img
	}
	scale := float64(maxW) / float64(w)
	if float64(maxH)/float64(h) < scale {
		scale = float64(maxH) / float64(h)
	}
	newW, newH := int(float64(w)*scale), int(float64(h)*scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			srcX := b.Min.X + x*w/newW
			srcY := b.Min.Y + y*h/newH
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}

// drawShadow paints a soft dark offset rectangle behind the product,
// standing in for _shadow's alpha-masked shadow paste.
func drawShadow(canvas draw.Image, product image.Image, x, y int) {
	b := product.Bounds()
	shadow := &image.Uniform{color.RGBA{0, 0, 0, 120}}
	offset := image.Rect(x+12, y+12, x+12+b.Dx(), y+12+b.Dy())
	draw.DrawMask(canvas, offset, shadow, image.Point{}, product, b.Min, draw.Over)
}

func drawText(canvas draw.Image, fields RowFields, tpl Template) {
	y := tpl.CanvasH - 140
	if fields.Discount != "" {
		drawLabel(canvas, fields.Discount, 40, y, tpl.TextColor)
		y += 40
	}
	if fields.Text != "" {
		drawLabel(canvas, fields.Text, 40, y, tpl.TextColor)
		y += 30
	}
	if fields.CallToAction != "" {
		drawLabel(canvas, fields.CallToAction, 40, y, tpl.TextColor)
	}
}

func drawLabel(canvas draw.Image, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func drawCenteredLabel(canvas draw.Image, text string, c color.Color) {
	b := canvas.Bounds()
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Round()
	x := (b.Dx() - width) / 2
	y := b.Dy() / 2
	drawLabel(canvas, text, x, y, c)
}

// DecodePNG and DecodeJPEG are small convenience wrappers used by
// RowWorker to read persisted artifacts back in for compositing.
func DecodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

func DecodeJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return jpeg.Decode(f)
}

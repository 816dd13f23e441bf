package condition

import (
	"image"
	"image/color"
)

// FloodFillBackend is the reference Backend implementation: it treats
// any pixel connected to a canvas corner and within ColorTolerance of
// that corner's color as background, and clears it to transparent. This
// stands in for a real segmentation model (out of scope per
// spec.md §6) while still exercising the Remover's validation logic
// end to end.
type FloodFillBackend struct {
	ColorTolerance int // per-channel delta, 0-255; 0 uses a sensible default
}

// RemoveBackground implements Backend.
func (b FloodFillBackend) RemoveBackground(img image.Image) (image.Image, error) {
	tolerance := b.ColorTolerance
	if tolerance <= 0 {
		tolerance = 24
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(bounds)

	// Seed from the four corners; background is assumed to touch the
	// canvas edge, matching a typical product-shot composition.
	corners := []image.Point{
		{bounds.Min.X, bounds.Min.Y},
		{bounds.Max.X - 1, bounds.Min.Y},
		{bounds.Min.X, bounds.Max.Y - 1},
		{bounds.Max.X - 1, bounds.Max.Y - 1},
	}

	visited := make([]bool, w*h)
	isBackground := make([]bool, w*h)
	idx := func(x, y int) int { return (y-bounds.Min.Y)*w + (x - bounds.Min.X) }

	for _, corner := range corners {
		ci := idx(corner.X, corner.Y)
		if visited[ci] {
			continue
		}
		seedR, seedG, seedB, _ := img.At(corner.X, corner.Y).RGBA()
		floodFill(img, bounds, corner, seedR, seedG, seedB, tolerance, visited, isBackground, idx)
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.At(x, y)
			if isBackground[idx(x, y)] {
				out.Set(x, y, color.RGBA{0, 0, 0, 0})
				continue
			}
			out.Set(x, y, c)
		}
	}

	return out, nil
}

func floodFill(img image.Image, bounds image.Rectangle, start image.Point, seedR, seedG, seedB uint32, tolerance int, visited, isBackground []bool, idx func(x, y int) int) {
	stack := []image.Point{start}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		i := idx(p.X, p.Y)
		if visited[i] {
			continue
		}
		visited[i] = true

		r, g, b, _ := img.At(p.X, p.Y).RGBA()
		if !withinTolerance(r, g, b, seedR, seedG, seedB, tolerance) {
			continue
		}
		isBackground[i] = true

		neighbors := [4]image.Point{
			{p.X - 1, p.Y}, {p.X + 1, p.Y}, {p.X, p.Y - 1}, {p.X, p.Y + 1},
		}
		for _, n := range neighbors {
			if n.X < bounds.Min.X || n.X >= bounds.Max.X || n.Y < bounds.Min.Y || n.Y >= bounds.Max.Y {
				continue
			}
			if !visited[idx(n.X, n.Y)] {
				stack = append(stack, n)
			}
		}
	}
}

func withinTolerance(r, g, b, seedR, seedG, seedB uint32, tolerance int) bool {
	t := uint32(tolerance) << 8
	return absDelta(r, seedR) <= t && absDelta(g, seedG) <= t && absDelta(b, seedB) <= t
}

func absDelta(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

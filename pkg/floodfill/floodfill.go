// Package floodfill resolves fill events against a local raster.
//
// The algorithm is an iterative 4-connected region growth with a fixed
// per-channel tolerance so that anti-aliased stroke edges still bound the
// region. Every client runs it on its own raster when applying a fill from
// the shared history.
package floodfill

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Tolerance is the maximum per-channel distance from the seed color for a
// pixel to join the region
const Tolerance = 30

// ErrInvalidColor is returned by ParseColor for anything that is not a CSS hex color
var ErrInvalidColor = errors.New("invalid fill color")

// Result describes what a fill did to the raster
type Result struct {
	// Changed is false when the fill was short-circuited or the seed was
	// off-canvas. No fill event should be emitted in that case.
	Changed bool
	// Pixels is the number of pixels recolored
	Pixels int
	// Steps is the number of pixels examined, at most width*height
	Steps int
}

// ParseColor resolves a CSS hex color (#rgb or #rrggbb) to opaque channel values
func ParseColor(s string) (color.RGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w %q: %v", ErrInvalidColor, s, err)
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

// Resolve fills the region connected to seed with fill and commits the
// mutation to img in place.
//
// If the seed pixel already has the fill RGB at full opacity the call is a
// no-op. Mutated pixels are written fully opaque.
func Resolve(img *image.RGBA, seed image.Point, fill color.RGBA) Result {
	bounds := img.Bounds()
	if !seed.In(bounds) {
		return Result{}
	}

	w, h := bounds.Dx(), bounds.Dy()
	target := img.RGBAAt(seed.X, seed.Y)
	if target.R == fill.R && target.G == fill.G && target.B == fill.B && target.A == 255 {
		return Result{}
	}

	var res Result
	// A pixel is marked when it is pushed, so each one enters the stack at
	// most once and the pop count can never exceed w*h.
	visited := make([]byte, w*h)
	index := func(p image.Point) int {
		return (p.Y-bounds.Min.Y)*w + (p.X - bounds.Min.X)
	}
	visited[index(seed)] = 1
	stack := []image.Point{seed}
	maxSteps := w * h

	for len(stack) > 0 && res.Steps < maxSteps {
		res.Steps++
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		off := img.PixOffset(p.X, p.Y)
		px := img.Pix[off : off+4 : off+4]
		if !matches(px, target) {
			continue
		}

		px[0], px[1], px[2], px[3] = fill.R, fill.G, fill.B, 255
		res.Pixels++

		for _, n := range [4]image.Point{
			image.Pt(p.X+1, p.Y),
			image.Pt(p.X-1, p.Y),
			image.Pt(p.X, p.Y+1),
			image.Pt(p.X, p.Y-1),
		} {
			if !n.In(bounds) {
				continue
			}
			if i := index(n); visited[i] == 0 {
				visited[i] = 1
				stack = append(stack, n)
			}
		}
	}

	res.Changed = res.Pixels > 0
	return res
}

func matches(px []byte, target color.RGBA) bool {
	return within(px[0], target.R) &&
		within(px[1], target.G) &&
		within(px[2], target.B) &&
		within(px[3], target.A)
}

func within(a, b uint8) bool {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	return d <= Tolerance
}

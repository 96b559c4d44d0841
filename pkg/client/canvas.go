package client

import (
	"image"
	"image/color"
	"math"

	"gitlab.com/paintwithbuddy/services/backend/pkg/floodfill"
	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

// Background is the color of an empty canvas
var Background = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// StrokeRenderer rasterizes one stroke segment onto img
type StrokeRenderer interface {
	RenderStroke(img *image.RGBA, s models.Stroke)
}

// Canvas is the local raster every client keeps in sync by replaying the
// shared history
type Canvas struct {
	img      *image.RGBA
	renderer StrokeRenderer
}

// NewCanvas creates a blank canvas. A nil renderer uses DiscRenderer.
func NewCanvas(width, height int, renderer StrokeRenderer) *Canvas {
	if renderer == nil {
		renderer = DiscRenderer{}
	}
	c := &Canvas{
		img:      image.NewRGBA(image.Rect(0, 0, width, height)),
		renderer: renderer,
	}
	c.Reset()
	return c
}

// Image exposes the raster. The caller must not retain it across session
// loop iterations.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// Reset paints the whole canvas with the background
func (c *Canvas) Reset() {
	pix := c.img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = Background.R, Background.G, Background.B, Background.A
	}
}

// Apply draws one event. It reports whether the raster changed; fills that
// resolve to nothing report false.
func (c *Canvas) Apply(ev models.DrawEvent) bool {
	switch ev.Kind {
	case models.KindStroke:
		c.renderer.RenderStroke(c.img, *ev.Stroke)
		return true
	case models.KindFill:
		return c.Fill(ev.Fill.At, ev.Fill.Color)
	}
	return false
}

// Fill resolves a flood fill at p. Unparseable colors are ignored.
func (c *Canvas) Fill(p models.Point, hex string) bool {
	fill, err := floodfill.ParseColor(hex)
	if err != nil {
		return false
	}
	seed := image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
	return floodfill.Resolve(c.img, seed, fill).Changed
}

// Replay resets the canvas and applies events in order
func (c *Canvas) Replay(events []models.DrawEvent) {
	c.Reset()
	for _, ev := range events {
		c.Apply(ev)
	}
}

// DiscRenderer stamps filled discs along the segment, alpha blended by the
// stroke opacity. The eraser paints the background. Only the part of the
// segment that can touch the canvas is stamped.
type DiscRenderer struct{}

func (DiscRenderer) RenderStroke(img *image.RGBA, s models.Stroke) {
	if !finite(s.From.X, s.From.Y, s.To.X, s.To.Y, s.Size) {
		return
	}
	col := color.RGBA{A: 255}
	if s.Tool == models.ToolEraser {
		col = Background
	} else if parsed, err := floodfill.ParseColor(s.Color); err == nil {
		col = parsed
	}
	alpha := s.Opacity
	if alpha <= 0 || alpha > 1 || s.Tool == models.ToolEraser {
		alpha = 1
	}

	b := img.Bounds()
	diag := math.Hypot(float64(b.Dx()), float64(b.Dy()))
	radius := math.Min(math.Max(s.Size/2, 0.5), diag)

	// points farther than radius from the canvas stamp nothing
	pad := radius + 1
	from, to, ok := clipSegment(s.From, s.To,
		float64(b.Min.X)-pad, float64(b.Min.Y)-pad,
		float64(b.Max.X)+pad, float64(b.Max.Y)+pad)
	if !ok {
		return
	}

	box := image.Rect(
		int(math.Floor(math.Min(from.X, to.X)-radius)),
		int(math.Floor(math.Min(from.Y, to.Y)-radius)),
		int(math.Ceil(math.Max(from.X, to.X)+radius))+1,
		int(math.Ceil(math.Max(from.Y, to.Y)+radius))+1,
	).Intersect(b)
	if box.Empty() {
		return
	}

	// a pixel is painted at most once per segment so overlapping discs do
	// not compound the opacity
	seen := make([]bool, box.Dx()*box.Dy())

	dx, dy := to.X-from.X, to.Y-from.Y
	spacing := math.Max(1, radius/4)
	steps := int(math.Ceil(math.Hypot(dx, dy) / spacing))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stampDisc(img, box, seen, from.X+dx*t, from.Y+dy*t, radius, col, alpha)
	}
}

func stampDisc(img *image.RGBA, box image.Rectangle, seen []bool, cx, cy, r float64, col color.RGBA, alpha float64) {
	minX := max(int(math.Floor(cx-r)), box.Min.X)
	maxX := min(int(math.Ceil(cx+r)), box.Max.X-1)
	minY := max(int(math.Floor(cy-r)), box.Min.Y)
	maxY := min(int(math.Ceil(cy+r)), box.Max.Y-1)
	w := box.Dx()

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			idx := (y-box.Min.Y)*w + (x - box.Min.X)
			if seen[idx] {
				continue
			}
			ddx, ddy := float64(x)-cx, float64(y)-cy
			if ddx*ddx+ddy*ddy > r*r {
				continue
			}
			seen[idx] = true
			img.SetRGBA(x, y, blend(img.RGBAAt(x, y), col, alpha))
		}
	}
}

// clipSegment cuts p0-p1 to the rectangle [minX,maxX]x[minY,maxY]
// (Liang-Barsky). ok is false when the segment misses it.
func clipSegment(p0, p1 models.Point, minX, minY, maxX, maxY float64) (from, to models.Point, ok bool) {
	t0, t1 := 0.0, 1.0
	dx, dy := p1.X-p0.X, p1.Y-p0.Y
	edges := [4][2]float64{
		{-dx, p0.X - minX},
		{dx, maxX - p0.X},
		{-dy, p0.Y - minY},
		{dy, maxY - p0.Y},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return models.Point{}, models.Point{}, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return models.Point{}, models.Point{}, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return models.Point{}, models.Point{}, false
			}
			t1 = math.Min(t1, t)
		}
	}
	from = models.Point{X: p0.X + dx*t0, Y: p0.Y + dy*t0}
	to = models.Point{X: p0.X + dx*t1, Y: p0.Y + dy*t1}
	return from, to, true
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func blend(dst, src color.RGBA, a float64) color.RGBA {
	mix := func(d, s uint8) uint8 {
		return uint8(math.Round(float64(s)*a + float64(d)*(1-a)))
	}
	return color.RGBA{R: mix(dst.R, src.R), G: mix(dst.G, src.G), B: mix(dst.B, src.B), A: 255}
}

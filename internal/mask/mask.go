// Package mask implements C4: filtering OCR boxes down to the ones
// containing Chinese text and synthesizing the binary inpaint mask,
// grounded on dispatching_pipeline/mask.py.
package mask

import (
	"image"
	"image/color"

	"golang.org/x/image/vector"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

// FilterChinese keeps only boxes whose text contains at least one CJK
// unified ideograph (spec.md §4.4 step 2).
func FilterChinese(boxes []model.TextBox) []model.TextBox {
	out := make([]model.TextBox, 0, len(boxes))
	for _, b := range boxes {
		if b.ContainsCJK() {
			out = append(out, b)
		}
	}
	return out
}

// Synthesize builds a single-channel mask (0 = keep, 255 = inpaint)
// matching (width, height), from the already-Chinese-filtered boxes.
// Each quadrilateral is grown outward by paddingPixels before
// rasterization (spec.md §4.4 step 4); non-quadrilateral polygons are
// rasterized without padding.
func Synthesize(width, height int, filtered []model.TextBox, paddingPixels int) []byte {
	out := make([]byte, width*height)
	for _, box := range filtered {
		poly := box.Polygon
		if len(poly) == 4 {
			poly = padQuad(poly, paddingPixels, width, height)
		}
		fillPolygon(out, width, height, poly)
	}
	return out
}

// padQuad grows a 4-point TL/TR/BR/BL polygon diagonally away from its
// center: TL shrinks both axes, TR grows x/shrinks y, BR grows both
// axes, BL shrinks x/grows y — mirroring generate_mask_pure_sync's
// per-vertex padding directions exactly.
func padQuad(poly []model.Point, pad, width, height int) []model.Point {
	p := float64(pad)
	out := make([]model.Point, 4)
	out[0] = clamp(model.Point{X: poly[0].X - p, Y: poly[0].Y - p}, width, height)
	out[1] = clamp(model.Point{X: poly[1].X + p, Y: poly[1].Y - p}, width, height)
	out[2] = clamp(model.Point{X: poly[2].X + p, Y: poly[2].Y + p}, width, height)
	out[3] = clamp(model.Point{X: poly[3].X - p, Y: poly[3].Y + p}, width, height)
	return out
}

func clamp(p model.Point, width, height int) model.Point {
	if p.X < 0 {
		p.X = 0
	}
	if p.X > float64(width-1) {
		p.X = float64(width - 1)
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.Y > float64(height-1) {
		p.Y = float64(height - 1)
	}
	return p
}

// fillPolygon rasterizes poly filled with 255 onto a width*height gray
// mask, using x/image/vector's scanline rasterizer. Antialiased edge
// coverage is thresholded to a hard 0/255 value, since the mask is a
// binary keep/inpaint map, not a blended alpha channel.
func fillPolygon(mask []byte, width, height int, poly []model.Point) {
	if len(poly) < 3 {
		return
	}
	rast := vector.NewRasterizer(width, height)
	rast.MoveTo(float32(poly[0].X), float32(poly[0].Y))
	for _, p := range poly[1:] {
		rast.LineTo(float32(p.X), float32(p.Y))
	}
	rast.ClosePath()

	dst := image.NewGray(image.Rect(0, 0, width, height))
	src := image.NewUniform(color.Gray{Y: 255})
	rast.Draw(dst, dst.Bounds(), src, image.Point{})

	for i, c := range dst.Pix {
		if c > 0 {
			mask[i] = 255
		}
	}
}

// Package render implements C8: canvas sizing, local color correction,
// font-size fitting, text-color selection, and compositing/drawing the
// final rendered image, grounded on rendering_pipeline/rendering.py and
// modules/{textsize,selectTextColor}.py.
package render

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	"github.com/lee-daon/image-translate-worker/internal/mask"
	"github.com/lee-daon/image-translate-worker/internal/model"
	"github.com/lee-daon/image-translate-worker/internal/xerrors"
)

// kmeansSeed fixes the random seed used by dominant-color extraction so
// repeated renders of the same RenderJob place identical text (spec.md
// §4.8, "Determinism").
const kmeansSeed = 1234567

// shortCanvasW, shortCanvasH is the fixed square canvas for "short"
// layouts (spec.md §4.8 step 1).
const (
	shortCanvasW = 1024
	shortCanvasH = 1024
	longCanvasW  = 860
)

// Config bundles the tunables the renderer needs beyond the RenderJob
// itself.
type Config struct {
	MaskPaddingPixels int
	FontPath          string
	JPEGQuality       int
}

// Render runs the full C8 pipeline and returns an encoded JPEG.
func Render(job model.RenderJob, cfg Config, fc *FontCache) ([]byte, error) {
	origImg, err := decode(job.OriginalImage)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Render, "decode original image", err)
	}
	// InpaintedImage is raw NRGBA pixels handed across the join
	// coordinator in-process (spec.md §9), not an encoded image, so it
	// is reconstructed directly rather than run through image.Decode.
	inpaintedImg := rawNRGBA(job.InpaintedImage, job.InpaintedWidth, job.InpaintedHeight)

	srcW, srcH := origImg.Bounds().Dx(), origImg.Bounds().Dy()
	targetW, targetH := canvasSize(job.IsLong, srcW, srcH)
	scaleX, scaleY := float64(targetW)/float64(srcW), float64(targetH)/float64(srcH)

	resizedOrig := imaging.Resize(origImg, targetW, targetH, imaging.Linear)
	resizedInpainted := imaging.Resize(inpaintedImg, targetW, targetH, imaging.Linear)

	items := scaleItems(job.TranslatedItems, scaleX, scaleY)
	clampItemsToCanvas(items, targetW, targetH)

	globalMasks := make([]dilatedMask, len(items))
	for i, it := range items {
		globalMasks[i] = dilateQuad(it.Box.Polygon, cfg.MaskPaddingPixels+1, targetW, targetH)
	}

	// A separate, wider dilation (MASK_PADDING+3) used only to exclude
	// neighboring boxes' inpaint regions from the clean sampling ring
	// (spec.md §4.8 step 2); the compositing dilation above (+1) is a
	// different radius and must not be reused for this purpose.
	excludeMasks := make([]dilatedMask, len(items))
	for i, it := range items {
		excludeMasks[i] = dilateQuad(it.Box.Polygon, cfg.MaskPaddingPixels+3, targetW, targetH)
	}

	canvas := imaging.Clone(resizedOrig)
	for i, it := range items {
		corrected := colorCorrect(resizedOrig, resizedInpainted, it, excludeMasks, i, cfg.MaskPaddingPixels)
		compositeRegion(canvas, corrected, globalMasks[i])
	}

	for i := range items {
		it := &items[i]
		if it.TranslatedText == "" {
			continue
		}
		fitFontSize(it)
		selectTextColor(canvas, resizedOrig, it, kmeansSeed+int64(i))
	}

	for i := range items {
		it := items[i]
		if it.TranslatedText == "" {
			continue
		}
		drawText(canvas, it, fc)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: cfg.JPEGQuality}); err != nil {
		return nil, xerrors.Wrap(xerrors.Render, "encode rendered image", err)
	}
	return buf.Bytes(), nil
}

// canvasSize implements spec.md §4.8 step 1 and preserves the
// documented long/short scaling inconsistency (spec.md §9, Open
// Questions): short uses independent (1024,1024); long derives height
// from a single width-based scale, which an implementer "may wish to
// unify" but this spec does not.
func canvasSize(isLong bool, srcW, srcH int) (w, h int) {
	if isLong {
		h := roundInt(float64(srcH) * float64(longCanvasW) / float64(srcW))
		return longCanvasW, h
	}
	return shortCanvasW, shortCanvasH
}

func roundInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

func scaleItems(items []model.TranslatedItem, scaleX, scaleY float64) []model.TranslatedItem {
	out := make([]model.TranslatedItem, len(items))
	for i, it := range items {
		poly := make([]model.Point, len(it.Box.Polygon))
		for j, p := range it.Box.Polygon {
			poly[j] = model.Point{X: p.X * scaleX, Y: p.Y * scaleY}
		}
		it.Box.Polygon = poly
		out[i] = it
	}
	return out
}

// clampItemsToCanvas enforces spec.md §3's invariant that every
// TranslatedItem.box vertex lies within the rendering canvas.
func clampItemsToCanvas(items []model.TranslatedItem, w, h int) {
	for i := range items {
		for j, p := range items[i].Box.Polygon {
			if p.X < 0 {
				p.X = 0
			}
			if p.X > float64(w-1) {
				p.X = float64(w - 1)
			}
			if p.Y < 0 {
				p.Y = 0
			}
			if p.Y > float64(h-1) {
				p.Y = float64(h - 1)
			}
			items[i].Box.Polygon[j] = p
		}
	}
}

func decode(b []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	return img, err
}

func rawNRGBA(pix []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, pix)
	return img
}

// dilatedMask is a box's inpaint region grown by a fixed pixel radius,
// represented as the raw 0/255 mask buffer for compositing/sampling
// purposes (spec.md §4.8 step 2-3 uses several distinct dilation radii
// of the same base polygon).
type dilatedMask struct {
	pix []byte
	w   int
	h   int
}

func (m dilatedMask) at(x, y int) bool {
	if x < 0 || y < 0 || x >= m.w || y >= m.h {
		return false
	}
	return m.pix[y*m.w+x] != 0
}

func dilateQuad(poly []model.Point, radius, w, h int) dilatedMask {
	base := mask.Synthesize(w, h, []model.TextBox{{Polygon: poly}}, radius)
	return dilatedMask{pix: base, w: w, h: h}
}

func compositeRegion(dst *image.NRGBA, src image.Image, region dilatedMask) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if region.at(x, y) {
				dst.Set(x, y, src.At(x, y))
			}
		}
	}
}

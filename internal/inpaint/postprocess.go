package inpaint

import (
	"context"
	"image"

	"github.com/disintegration/imaging"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

// reflectPadMultiple is the axis alignment the upscaler requires before
// inference (spec.md §4.6 postprocessing step 2).
const reflectPadMultiple = 64

// Result is a postprocessed image as raw NRGBA pixels plus its
// dimensions — kept as a pixel buffer rather than an encoded image
// since it crosses only in-process boundaries (join coordinator,
// renderer), mirroring spec.md §9's "arrays are owned by the task that
// created them and handed over the pools via references".
type Result struct {
	Pix []byte
	W   int
	H   int
}

// Postprocess undoes preprocessing for one model output: crop to
// sizeBeforePadding, then (if scale > 1) AI-upscale with reflect
// padding and crop back, falling back to a cubic resize on upscaler
// failure or for the residual factor beyond 2x (spec.md §4.6).
func Postprocess(raw []byte, paddedW, paddedH int, sizeBeforePadding model.Size, scale int, upscaler Upscaler) (Result, error) {
	padded := bytesToNRGBA(raw, paddedW, paddedH)
	cropped := cropCenter(padded, sizeBeforePadding.W, sizeBeforePadding.H)

	if scale <= 1 {
		return toResult(cropped), nil
	}

	targetW := sizeBeforePadding.W * scale
	targetH := sizeBeforePadding.H * scale

	if upscaler == nil {
		return toResult(cubicResidual(cropped, targetW, targetH, scale)), nil
	}

	padW := roundUp(sizeBeforePadding.W, reflectPadMultiple)
	padH := roundUp(sizeBeforePadding.H, reflectPadMultiple)
	reflectPadded := reflectPad(cropped, padW, padH)

	upscaledBytes, err := upscaler.Upscale(context.Background(), nrgbaBytes(reflectPadded), padW, padH)
	if err != nil {
		// upscaler failure falls back to a full cubic resize by scale.
		return toResult(cubicResidual(cropped, targetW, targetH, scale)), nil
	}

	// The upscaler is assumed to apply a fixed 2x factor per inference
	// pass (modules/postprocessing/upscaler.py); crop back to
	// scale*original, applying a residual cubic resize if scale > 2.
	upscaled := bytesToNRGBA(upscaledBytes, padW*2, padH*2)
	back := cropCenter(upscaled, sizeBeforePadding.W*2, sizeBeforePadding.H*2)
	if scale != 2 {
		// the upscaler applies a fixed 2x factor per pass; any residual
		// beyond that (scale=3,4,...) is a plain cubic resize (spec.md
		// §4.6: "if scale > 2 apply a cubic resize for the residual
		// factor").
		back = imaging.Resize(back, targetW, targetH, imaging.CatmullRom)
	}
	return toResult(imaging.Clone(back)), nil
}

func toResult(img *image.NRGBA) Result {
	b := img.Bounds()
	return Result{Pix: nrgbaBytes(img), W: b.Dx(), H: b.Dy()}
}

func cubicResidual(img image.Image, targetW, targetH, scale int) *image.NRGBA {
	return imaging.Resize(img, targetW, targetH, imaging.CatmullRom)
}

func cropCenter(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	ox := b.Min.X + (b.Dx()-w)/2
	oy := b.Min.Y + (b.Dy()-h)/2
	if ox < b.Min.X {
		ox = b.Min.X
	}
	if oy < b.Min.Y {
		oy = b.Min.Y
	}
	return imaging.Crop(img, image.Rect(ox, oy, ox+w, oy+h))
}

func reflectPad(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	padX := w - b.Dx()
	padY := h - b.Dy()
	canvas := imaging.New(w, h, image.Transparent)
	canvas = imaging.PasteCenter(canvas, img)
	if padX <= 0 && padY <= 0 {
		return canvas
	}
	// Reflect the border into the padded margin rather than leaving it
	// transparent, matching cv2.copyMakeBorder(BORDER_REFLECT) used by
	// modules/postprocessing/upscaler.py before the 64-multiple resize.
	return reflectBorder(canvas, b.Dx(), b.Dy())
}

func reflectBorder(canvas *image.NRGBA, innerW, innerH int) *image.NRGBA {
	b := canvas.Bounds()
	ox := (b.Dx() - innerW) / 2
	oy := (b.Dy() - innerH) / 2
	out := imaging.Clone(canvas)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if x >= ox && x < ox+innerW && y >= oy && y < oy+innerH {
				continue
			}
			sx := reflectCoord(x-ox, innerW) + ox
			sy := reflectCoord(y-oy, innerH) + oy
			out.Set(x, y, canvas.At(sx, sy))
		}
	}
	return out
}

func reflectCoord(v, n int) int {
	if n <= 1 {
		return 0
	}
	for v < 0 || v >= n {
		if v < 0 {
			v = -v - 1
		}
		if v >= n {
			v = 2*n - v - 1
		}
	}
	return v
}

func roundUp(v, multiple int) int {
	if v%multiple == 0 {
		return v
	}
	return (v/multiple + 1) * multiple
}

func bytesToNRGBA(pix []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, pix)
	return img
}

func nrgbaBytes(img *image.NRGBA) []byte {
	return img.Pix
}

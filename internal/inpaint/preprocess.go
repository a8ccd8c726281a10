// Package inpaint implements C6: per-job preprocessing, size-adaptive
// GPU batching, and postprocessing for the inpainting model, grounded
// on modules/preprocessing/preprocessor.py, modules/inpaint_gpu/
// batch_inpainting.py, and modules/postprocessing/{postprocessor,
// resize,upscaler,simple_upscaler}.py.
package inpaint

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

// TargetResolution is the fixed square side the model operates on.
const TargetResolution = 512

// bilateralDiameter, bilateralSigma mirror the d=9, sigma_color=
// sigma_space=50 bilateral filter parameters (spec.md §4.6 step 1).
const (
	bilateralDiameter = 9
	bilateralSigma    = 50.0
)

// Preprocessed holds everything the batcher needs for one job, plus
// the bookkeeping postprocess needs to undo scaling/padding.
type Preprocessed struct {
	Image             *image.NRGBA
	Mask              *image.Gray
	SizeBeforePadding model.Size
	ScaleFactor       int
}

// Preprocess runs the full per-job pipeline: bilateral denoise, scale
// to fit within TargetResolution, then zero-pad to an exact square.
func Preprocess(src image.Image, mask *image.Gray) Preprocessed {
	denoised := bilateralDenoise(src, bilateralDiameter, bilateralSigma, bilateralSigma)

	b := denoised.Bounds()
	w, h := b.Dx(), b.Dy()
	maxDim := w
	if h > maxDim {
		maxDim = h
	}
	scale := int(math.Ceil(float64(maxDim) / float64(TargetResolution)))
	if scale < 1 {
		scale = 1
	}

	resizedW, resizedH := w, h
	resizedImg := denoised
	resizedMask := mask
	if scale > 1 {
		resizedW = divRound(w, scale)
		resizedH = divRound(h, scale)
		resizedImg = imaging.Resize(denoised, resizedW, resizedH, imaging.NearestNeighbor)
		resizedMask = resizeMaskNearest(mask, resizedW, resizedH)
	}

	paddedImg := padToSquare(resizedImg, TargetResolution)
	paddedMask := padMaskToSquare(resizedMask, TargetResolution)

	return Preprocessed{
		Image:             paddedImg,
		Mask:              paddedMask,
		SizeBeforePadding: model.Size{W: resizedW, H: resizedH},
		ScaleFactor:       scale,
	}
}

func divRound(v, scale int) int {
	r := v / scale
	if r < 1 {
		r = 1
	}
	return r
}

// padToSquare center-pads img with zero (black) pixels to an n x n
// canvas, matching imaging.PasteCenter's centering semantics.
func padToSquare(img image.Image, n int) *image.NRGBA {
	canvas := imaging.New(n, n, image.Transparent)
	return imaging.PasteCenter(canvas, img)
}

func padMaskToSquare(mask *image.Gray, n int) *image.Gray {
	canvas := image.NewGray(image.Rect(0, 0, n, n))
	b := mask.Bounds()
	ox := (n - b.Dx()) / 2
	oy := (n - b.Dy()) / 2
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			canvas.SetGray(ox+x, oy+y, mask.GrayAt(b.Min.X+x, b.Min.Y+y))
		}
	}
	return canvas
}

func resizeMaskNearest(mask *image.Gray, w, h int) *image.Gray {
	resized := imaging.Resize(mask, w, h, imaging.NearestNeighbor)
	out := image.NewGray(resized.Bounds())
	b := resized.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, resized.At(x, y))
		}
	}
	return out
}

// bilateralDenoise applies an edge-preserving smoothing filter. No
// retrieved library exposes a true bilateral kernel (govips only wraps
// Gaussian/median blur, imaging has no edge-aware filter), so this is
// implemented directly against image.NRGBA pixel buffers.
func bilateralDenoise(src image.Image, diameter int, sigmaColor, sigmaSpace float64) *image.NRGBA {
	b := src.Bounds()
	in := imaging.Clone(src)
	out := image.NewNRGBA(b)
	radius := diameter / 2

	spatialWeights := make([][]float64, diameter)
	for dy := -radius; dy <= radius; dy++ {
		spatialWeights[dy+radius] = make([]float64, diameter)
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			spatialWeights[dy+radius][dx+radius] = math.Exp(-d2 / (2 * sigmaSpace * sigmaSpace))
		}
	}

	w, h := b.Dx(), b.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cr, cg, cb, ca := pixelAt(in, x, y)
			var sumR, sumG, sumB, sumW float64
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					nr, ng, nb, _ := pixelAt(in, nx, ny)
					colorDist := colorDistance(cr, cg, cb, nr, ng, nb)
					weight := spatialWeights[dy+radius][dx+radius] * math.Exp(-colorDist/(2*sigmaColor*sigmaColor))
					sumR += weight * float64(nr)
					sumG += weight * float64(ng)
					sumB += weight * float64(nb)
					sumW += weight
				}
			}
			if sumW == 0 {
				sumW = 1
			}
			out.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(sumR / sumW),
				G: clampByte(sumG / sumW),
				B: clampByte(sumB / sumW),
				A: ca,
			})
		}
	}
	return out
}

func pixelAt(img *image.NRGBA, x, y int) (r, g, b, a uint8) {
	i := img.PixOffset(x, y)
	return img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]
}

func colorDistance(r1, g1, b1, r2, g2, b2 uint8) float64 {
	dr := float64(r1) - float64(r2)
	dg := float64(g1) - float64(g2)
	db := float64(b1) - float64(b2)
	return dr*dr + dg*dg + db*db
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

package render

import (
	"image"
	"math"

	"github.com/lee-daon/image-translate-worker/internal/mask"
	"github.com/lee-daon/image-translate-worker/internal/model"
)

// samplingRingOffsetExtra, samplingRingThickness define the outer "clean
// sampling" annulus around a box (spec.md §4.8 step 2).
const (
	samplingRingOffsetExtra = 4
	samplingRingThickness   = 25
	minCleanPixels          = 50
)

// colorCorrect computes the clean-sampling-ring LAB color transfer for
// one box and returns the corrected inpainted-region patch as an
// image.Image the same size as the canvas, grounded on rendering.py's
// _get_clean_sampling_mask / _correct_global_color.
//
// neighborMasks is the union source for excluding other boxes' inpaint
// regions from the clean ring; it must be dilated at basePadding+3
// (spec.md §4.8 step 2), a different radius from the basePadding+1
// masks compositeRegion uses, so callers must not pass globalMasks here.
func colorCorrect(original, inpainted *image.NRGBA, item model.TranslatedItem, neighborMasks []dilatedMask, idx, basePadding int) image.Image {
	w, h := original.Bounds().Dx(), original.Bounds().Dy()

	outerRadius := basePadding + samplingRingOffsetExtra + samplingRingThickness
	innerRadius := basePadding + samplingRingOffsetExtra
	outer := mask.Synthesize(w, h, []model.TextBox{{Polygon: item.Box.Polygon}}, outerRadius)
	inner := mask.Synthesize(w, h, []model.TextBox{{Polygon: item.Box.Polygon}}, innerRadius)

	exclude := make([]byte, w*h)
	for i, m := range neighborMasks {
		if i == idx {
			continue
		}
		for p, v := range m.pix {
			if v != 0 {
				exclude[p] = 255
			}
		}
	}

	var n int
	var sumOrigL, sumOrigA, sumOrigB float64
	var sumInpL, sumInpA, sumInpB float64
	var sqOrigL, sqOrigA, sqOrigB float64
	var sqInpL, sqInpA, sqInpB float64

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			clean := outer[i] != 0 && inner[i] == 0 && exclude[i] == 0
			if !clean {
				continue
			}
			ol, oa, ob := rgbToLAB(original.NRGBAAt(x, y))
			il, ia, ib := rgbToLAB(inpainted.NRGBAAt(x, y))
			n++
			sumOrigL += ol
			sumOrigA += oa
			sumOrigB += ob
			sumInpL += il
			sumInpA += ia
			sumInpB += ib
			sqOrigL += ol * ol
			sqOrigA += oa * oa
			sqOrigB += ob * ob
			sqInpL += il * il
			sqInpA += ia * ia
			sqInpB += ib * ib
		}
	}

	if n < minCleanPixels {
		return inpainted
	}

	muOrigL, sdOrigL := meanStd(sumOrigL, sqOrigL, n)
	muOrigA, sdOrigA := meanStd(sumOrigA, sqOrigA, n)
	muOrigB, sdOrigB := meanStd(sumOrigB, sqOrigB, n)
	muInpL, sdInpL := meanStd(sumInpL, sqInpL, n)
	muInpA, sdInpA := meanStd(sumInpA, sqInpA, n)
	muInpB, sdInpB := meanStd(sumInpB, sqInpB, n)

	out := image.NewNRGBA(original.Bounds())
	copy(out.Pix, inpainted.Pix)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if inner[i] == 0 {
				continue
			}
			l, a, bb := rgbToLAB(inpainted.NRGBAAt(x, y))
			l = transfer(l, muInpL, sdInpL, muOrigL, sdOrigL)
			a = transfer(a, muInpA, sdInpA, muOrigA, sdOrigA)
			bb = transfer(bb, muInpB, sdInpB, muOrigB, sdOrigB)
			out.SetNRGBA(x, y, labToRGB(l, a, bb, inpainted.NRGBAAt(x, y).A))
		}
	}
	return out
}

func transfer(x, muFrom, sdFrom, muTo, sdTo float64) float64 {
	if sdFrom == 0 {
		return muTo
	}
	return (x-muFrom)*sdTo/sdFrom + muTo
}

func meanStd(sum, sq float64, n int) (mean, std float64) {
	mean = sum / float64(n)
	variance := sq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

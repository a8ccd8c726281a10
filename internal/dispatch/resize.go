package dispatch

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// resizeForNoText implements spec.md §4.10's no-text/no-Chinese-text
// short circuit: short images are square-fitted to the configured
// resize canvas, long images preserve aspect ratio at a fixed width.
func resizeForNoText(img image.Image, isLong bool, targetW, targetH int) image.Image {
	if isLong {
		b := img.Bounds()
		const longNoTextWidth = 864
		h := longNoTextWidth * b.Dy() / b.Dx()
		return imaging.Resize(img, longNoTextWidth, h, imaging.Linear)
	}
	return imaging.Resize(img, targetW, targetH, imaging.Linear)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

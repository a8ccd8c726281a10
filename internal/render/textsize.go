package render

import (
	"math"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

// minAreaRect approximates OpenCV's minAreaRect for an already-oriented
// OCR quadrilateral (TL,TR,BR,BL): width/height are the averaged
// opposite-edge lengths, and angle is the TL->TR edge direction,
// grounded on modules/textsize.py's use of cv2.minAreaRect on the same
// 4-point boxes.
func minAreaRect(poly []model.Point) (width, height, angleDeg float64) {
	if len(poly) != 4 {
		return boundingBoxSize(poly)
	}
	tl, tr, br, bl := poly[0], poly[1], poly[2], poly[3]
	width = (dist(tl, tr) + dist(bl, br)) / 2
	height = (dist(tl, bl) + dist(tr, br)) / 2
	angleDeg = math.Atan2(tr.Y-tl.Y, tr.X-tl.X) * 180 / math.Pi
	return width, height, angleDeg
}

func boundingBoxSize(poly []model.Point) (w, h, angle float64) {
	if len(poly) == 0 {
		return 0, 0, 0
	}
	minX, minY := poly[0].X, poly[0].Y
	maxX, maxY := poly[0].X, poly[0].Y
	for _, p := range poly[1:] {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	return maxX - minX, maxY - minY, 0
}

func dist(a, b model.Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// normalizeAngle maps angle into [-90, 90], then snaps to 0 (horizontal)
// if |angle| < 5 and to axis-aligned rendering (kept as the snapped
// value) if |angle| > 45 (spec.md §4.8 step 4).
func normalizeAngle(angleDeg float64) float64 {
	for angleDeg > 90 {
		angleDeg -= 180
	}
	for angleDeg < -90 {
		angleDeg += 180
	}
	if math.Abs(angleDeg) < 5 {
		return 0
	}
	if math.Abs(angleDeg) > 45 {
		return 0
	}
	return angleDeg
}

// fitFontSize binary-searches the largest font size in [1, box_height]
// whose rendered text fits within (box_width, box_height), writing the
// result onto item, grounded on modules/textsize.py's
// find_optimal_font_size.
func fitFontSize(item *model.TranslatedItem) {
	w, h, angle := minAreaRect(item.Box.Polygon)
	item.BoxWidth = w
	item.BoxHeight = h
	item.BoxAngle = normalizeAngle(angle)

	if h < 1 {
		item.FontSizePx = 1
		return
	}

	lo, hi := 1, int(math.Max(1, h))
	best := 1
	for lo <= hi {
		mid := (lo + hi) / 2
		tw, th := measureText(item.TranslatedText, mid)
		if float64(tw) <= w && float64(th) <= h {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	item.FontSizePx = float64(best)
}

package render

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

const (
	minKMeansSamples = 20
	kmeansSampleFrac = 0.5
	lowContrastFloor = 2.0
)

// selectTextColor extracts a k=1 dominant background color from the
// composited canvas inside the box and k=2 dominant colors from the
// original image inside the box, then picks whichever original-image
// color has the higher WCAG contrast against the background — forcing
// black/white if even the better choice falls under the contrast floor
// (spec.md §4.8 step 5).
func selectTextColor(canvas, original *image.NRGBA, item *model.TranslatedItem, seed int64) {
	bgSamples := samplePixelsInBox(canvas, item.Box.Polygon, seed)
	fgSamples := samplePixelsInBox(original, item.Box.Polygon, seed+1)

	bg := kmeansDominant(bgSamples, 1, seed)[0]
	fgCandidates := kmeansDominant(fgSamples, 2, seed+1)

	best := fgCandidates[0]
	bestContrast := contrastRatio(best, bg)
	for _, c := range fgCandidates[1:] {
		if cr := contrastRatio(c, bg); cr > bestContrast {
			best, bestContrast = c, cr
		}
	}

	if bestContrast < lowContrastFloor {
		if relativeLuminance(bg) > 0.5 {
			best = color.NRGBA{A: 255}
		} else {
			best = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
		}
		bestContrast = contrastRatio(best, bg)
	}

	item.BGColor = &model.RGB{R: bg.R, G: bg.G, B: bg.B}
	item.TextColor = &model.RGB{R: best.R, G: best.G, B: best.B}
	item.Contrast = bestContrast
}

func samplePixelsInBox(img *image.NRGBA, poly []model.Point, seed int64) []color.NRGBA {
	minX, minY, maxX, maxY := polyBounds(poly)
	var all []color.NRGBA
	b := img.Bounds()
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
				continue
			}
			if !pointInPoly(float64(x)+0.5, float64(y)+0.5, poly) {
				continue
			}
			all = append(all, img.NRGBAAt(x, y))
		}
	}
	if len(all) <= minKMeansSamples {
		return all
	}
	r := rand.New(rand.NewSource(seed))
	n := int(float64(len(all)) * kmeansSampleFrac)
	if n < minKMeansSamples {
		n = minKMeansSamples
	}
	r.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:n]
}

func polyBounds(poly []model.Point) (minX, minY, maxX, maxY int) {
	if len(poly) == 0 {
		return 0, 0, 0, 0
	}
	fMinX, fMinY := poly[0].X, poly[0].Y
	fMaxX, fMaxY := poly[0].X, poly[0].Y
	for _, p := range poly[1:] {
		fMinX, fMaxX = math.Min(fMinX, p.X), math.Max(fMaxX, p.X)
		fMinY, fMaxY = math.Min(fMinY, p.Y), math.Max(fMaxY, p.Y)
	}
	return int(fMinX), int(fMinY), int(math.Ceil(fMaxX)), int(math.Ceil(fMaxY))
}

func pointInPoly(x, y float64, poly []model.Point) bool {
	inside := false
	n := len(poly)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := poly[i], poly[j]
		if (pi.Y > y) != (pj.Y > y) &&
			x < (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// kmeansDominant runs a small mini-batch k-means over samples and
// returns the k cluster centers sorted by descending cluster size
// (spec.md §4.8 step 5: "k=1"/"k=2 dominant colors"). Falls back to the
// mean color (possibly repeated) when there are too few samples to
// cluster meaningfully. No retrieved library offers clustering, so this
// is hand-rolled.
func kmeansDominant(samples []color.NRGBA, k int, seed int64) []color.NRGBA {
	if len(samples) == 0 {
		return repeatColor(color.NRGBA{A: 255}, k)
	}
	if len(samples) < k*2 {
		mean := meanColor(samples)
		return repeatColor(mean, k)
	}

	r := rand.New(rand.NewSource(seed))
	centers := make([][3]float64, k)
	used := map[int]bool{}
	for i := 0; i < k; i++ {
		idx := r.Intn(len(samples))
		for used[idx] {
			idx = r.Intn(len(samples))
		}
		used[idx] = true
		centers[i] = toVec(samples[idx])
	}

	const iterations = 10
	for iter := 0; iter < iterations; iter++ {
		sums := make([][3]float64, k)
		counts := make([]int, k)
		for _, s := range samples {
			v := toVec(s)
			best, bestDist := 0, math.Inf(1)
			for ci, c := range centers {
				d := sqDist(v, c)
				if d < bestDist {
					best, bestDist = ci, d
				}
			}
			sums[best][0] += v[0]
			sums[best][1] += v[1]
			sums[best][2] += v[2]
			counts[best]++
		}
		for ci := range centers {
			if counts[ci] == 0 {
				continue
			}
			centers[ci] = [3]float64{
				sums[ci][0] / float64(counts[ci]),
				sums[ci][1] / float64(counts[ci]),
				sums[ci][2] / float64(counts[ci]),
			}
		}
	}

	counts := make([]int, k)
	for _, s := range samples {
		v := toVec(s)
		best, bestDist := 0, math.Inf(1)
		for ci, c := range centers {
			d := sqDist(v, c)
			if d < bestDist {
				best, bestDist = ci, d
			}
		}
		counts[best]++
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if counts[order[j]] > counts[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	out := make([]color.NRGBA, k)
	for i, ci := range order {
		out[i] = fromVec(centers[ci])
	}
	return out
}

func repeatColor(c color.NRGBA, k int) []color.NRGBA {
	out := make([]color.NRGBA, k)
	for i := range out {
		out[i] = c
	}
	return out
}

func meanColor(samples []color.NRGBA) color.NRGBA {
	var r, g, b float64
	for _, s := range samples {
		r += float64(s.R)
		g += float64(s.G)
		b += float64(s.B)
	}
	n := float64(len(samples))
	return color.NRGBA{R: toByte(r / n / 255), G: toByte(g / n / 255), B: toByte(b / n / 255), A: 255}
}

func toVec(c color.NRGBA) [3]float64 { return [3]float64{float64(c.R), float64(c.G), float64(c.B)} }

func fromVec(v [3]float64) color.NRGBA {
	clamp := func(f float64) uint8 {
		if f < 0 {
			return 0
		}
		if f > 255 {
			return 255
		}
		return uint8(f + 0.5)
	}
	return color.NRGBA{R: clamp(v[0]), G: clamp(v[1]), B: clamp(v[2]), A: 255}
}

func sqDist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}

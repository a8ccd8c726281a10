package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/karrick/godirwalk"

	"github.com/lee-daon/image-translate-worker/internal/model"
	"github.com/lee-daon/image-translate-worker/internal/nlog"
)

// FontCache is the read-mostly size->face cache described in spec.md
// §5 ("Font cache: read-mostly; populate under a per-size
// compute-once"). One FontCache is built per FONT_PATH at startup.
type FontCache struct {
	mu      sync.RWMutex
	faces   map[int]font.Face
	parsed  *opentype.Font
	once    sync.Once
	loadErr error
	path    string
}

// NewFontCache builds a cache rooted at fontPath (a file, or a
// directory searched with godirwalk for the first .ttf/.otf found —
// supplemented so a deployment can point FONT_PATH at a font directory
// the way NanumGothic-family installs typically ship).
func NewFontCache(fontPath string) *FontCache {
	return &FontCache{faces: make(map[int]font.Face), path: fontPath}
}

func (fc *FontCache) load() {
	fc.once.Do(func() {
		resolved := fc.path
		if info, err := os.Stat(resolved); err == nil && info.IsDir() {
			resolved = findFontFile(resolved)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			fc.loadErr = err
			return
		}
		f, err := opentype.Parse(data)
		if err != nil {
			fc.loadErr = err
			return
		}
		fc.parsed = f
	})
}

func findFontFile(dir string) string {
	var found string
	_ = godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if found != "" {
				return godirwalk.SkipThis
			}
			lower := strings.ToLower(path)
			if strings.HasSuffix(lower, ".ttf") || strings.HasSuffix(lower, ".otf") {
				found = path
			}
			return nil
		},
	})
	return found
}

// Face returns the cached font.Face for sizePx, computing it once.
func (fc *FontCache) Face(sizePx int) (font.Face, error) {
	fc.load()
	if fc.loadErr != nil {
		return nil, fc.loadErr
	}

	fc.mu.RLock()
	f, ok := fc.faces[sizePx]
	fc.mu.RUnlock()
	if ok {
		return f, nil
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if f, ok := fc.faces[sizePx]; ok {
		return f, nil
	}
	face, err := opentype.NewFace(fc.parsed, &opentype.FaceOptions{
		Size:    float64(sizePx),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	fc.faces[sizePx] = face
	return face, nil
}

// sharedFontCache backs the package-level measureText helper used by
// textsize.go's binary search; it's process-wide since font metrics
// don't depend on which FontCache instance measures them once a path is
// fixed at startup.
var sharedFontCache *FontCache
var sharedFontCacheOnce sync.Once

// SetSharedFontCache wires the process FontCache so textsize.go's
// binary search can measure candidate sizes without threading a cache
// through every call site.
func SetSharedFontCache(fc *FontCache) {
	sharedFontCacheOnce.Do(func() { sharedFontCache = fc })
}

func measureText(text string, sizePx int) (w, h int) {
	if sharedFontCache == nil || text == "" {
		return len(text) * sizePx, sizePx
	}
	face, err := sharedFontCache.Face(sizePx)
	if err != nil {
		return len(text) * sizePx, sizePx
	}
	lines := strings.Split(text, "\n")
	maxW := 0
	for _, line := range lines {
		lw := font.MeasureString(face, line).Ceil()
		if lw > maxW {
			maxW = lw
		}
	}
	metrics := face.Metrics()
	lineHeight := (metrics.Ascent + metrics.Descent).Ceil()
	return maxW, lineHeight * len(lines)
}

// drawText renders item.TranslatedText centered in item.Box, rotating
// by -BoxAngle and alpha-blending the result onto canvas (spec.md §4.8
// step 6).
func drawText(canvas *image.NRGBA, item model.TranslatedItem, fc *FontCache) {
	if fc == nil {
		fc = sharedFontCache
	}
	if fc == nil || item.TranslatedText == "" || item.TextColor == nil {
		return
	}
	size := int(math.Max(1, item.FontSizePx))
	face, err := fc.Face(size)
	if err != nil {
		nlog.Warningf("render: font face for size %s unavailable: %v", strconv.Itoa(size), err)
		return
	}

	lines := strings.Split(item.TranslatedText, "\n")
	lineW, lineH := measureText(item.TranslatedText, size)
	padding := size / 2
	layerW := lineW + padding*2
	layerH := lineH + padding*2
	layer := image.NewNRGBA(image.Rect(0, 0, layerW, layerH))

	col := color.NRGBA{R: item.TextColor.R, G: item.TextColor.G, B: item.TextColor.B, A: 255}
	metrics := face.Metrics()
	lineHeight := (metrics.Ascent + metrics.Descent).Ceil()
	y := padding + metrics.Ascent.Ceil()
	for _, line := range lines {
		w := font.MeasureString(face, line).Ceil()
		x := (layerW - w) / 2
		drawer := font.Drawer{
			Dst:  layer,
			Src:  image.NewUniform(col),
			Face: face,
			Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
		}
		drawer.DrawString(line)
		y += lineHeight
	}

	rotated := rotateNRGBA(layer, -item.BoxAngle)
	centroid := polyCentroid(item.Box.Polygon)
	pasteAlphaCentered(canvas, rotated, int(centroid.X), int(centroid.Y))
}

func polyCentroid(poly []model.Point) model.Point {
	var x, y float64
	for _, p := range poly {
		x += p.X
		y += p.Y
	}
	n := float64(len(poly))
	if n == 0 {
		return model.Point{}
	}
	return model.Point{X: x / n, Y: y / n}
}

// rotateNRGBA rotates src by angleDeg (expanding the canvas to avoid
// clipping corners), matching PIL's Image.rotate(expand=True) used by
// rendering.py before compositing.
func rotateNRGBA(src *image.NRGBA, angleDeg float64) *image.NRGBA {
	if angleDeg == 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	theta := angleDeg * math.Pi / 180
	cosT, sinT := math.Cos(theta), math.Sin(theta)
	newW := int(math.Ceil(math.Abs(float64(w)*cosT) + math.Abs(float64(h)*sinT)))
	newH := int(math.Ceil(math.Abs(float64(w)*sinT) + math.Abs(float64(h)*cosT)))

	cx, cy := float64(w)/2, float64(h)/2
	ncx, ncy := float64(newW)/2, float64(newH)/2

	out := image.NewNRGBA(image.Rect(0, 0, newW, newH))
	for ny := 0; ny < newH; ny++ {
		for nx := 0; nx < newW; nx++ {
			dx, dy := float64(nx)-ncx, float64(ny)-ncy
			sx := dx*cosT + dy*sinT + cx
			sy := -dx*sinT + dy*cosT + cy
			ix, iy := int(math.Round(sx)), int(math.Round(sy))
			if ix < 0 || iy < 0 || ix >= w || iy >= h {
				continue
			}
			out.SetNRGBA(nx, ny, src.NRGBAAt(b.Min.X+ix, b.Min.Y+iy))
		}
	}
	return out
}

// pasteAlphaCentered alpha-blends src onto dst, centered at (cx, cy).
func pasteAlphaCentered(dst *image.NRGBA, src *image.NRGBA, cx, cy int) {
	b := src.Bounds()
	ox := cx - b.Dx()/2
	oy := cy - b.Dy()/2
	rect := image.Rect(ox, oy, ox+b.Dx(), oy+b.Dy())
	draw.Draw(dst, rect, src, b.Min, draw.Over)
}

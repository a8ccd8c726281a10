package render

import (
	"image/color"
	"math"
	"testing"
)

func TestCanvasSizeShortIsFixed(t *testing.T) {
	w, h := canvasSize(false, 640, 480)
	if w != shortCanvasW || h != shortCanvasH {
		t.Fatalf("canvasSize(short) = (%d,%d), want (%d,%d)", w, h, shortCanvasW, shortCanvasH)
	}
}

func TestCanvasSizeLongPreservesAspect(t *testing.T) {
	w, h := canvasSize(true, 720, 3200)
	wantH := roundInt(3200 * 860.0 / 720.0)
	if w != longCanvasW || h != wantH {
		t.Fatalf("canvasSize(long) = (%d,%d), want (%d,%d)", w, h, longCanvasW, wantH)
	}
}

func TestNormalizeAngleSnapsSmallAndLarge(t *testing.T) {
	if got := normalizeAngle(3); got != 0 {
		t.Fatalf("normalizeAngle(3) = %v, want 0", got)
	}
	if got := normalizeAngle(60); got != 0 {
		t.Fatalf("normalizeAngle(60) = %v, want 0", got)
	}
	if got := normalizeAngle(20); got != 20 {
		t.Fatalf("normalizeAngle(20) = %v, want 20", got)
	}
}

func TestContrastRatioBlackWhiteIsMax(t *testing.T) {
	black := color.NRGBA{A: 255}
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	cr := contrastRatio(black, white)
	if math.Abs(cr-21) > 0.1 {
		t.Fatalf("contrastRatio(black,white) = %v, want ~21", cr)
	}
}

func TestLABRoundTrip(t *testing.T) {
	orig := color.NRGBA{R: 120, G: 80, B: 200, A: 255}
	l, a, b := rgbToLAB(orig)
	back := labToRGB(l, a, b, 255)
	if absDiff(int(back.R), int(orig.R)) > 2 || absDiff(int(back.G), int(orig.G)) > 2 || absDiff(int(back.B), int(orig.B)) > 2 {
		t.Fatalf("LAB round trip = %+v, want ~%+v", back, orig)
	}
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

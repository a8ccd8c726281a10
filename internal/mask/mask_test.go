package mask

import (
	"bytes"
	"testing"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

func box(text string, x1, y1, x2, y2, x3, y3, x4, y4 float64) model.TextBox {
	return model.TextBox{
		Text: text,
		Polygon: []model.Point{
			{X: x1, Y: y1}, {X: x2, Y: y2}, {X: x3, Y: y3}, {X: x4, Y: y4},
		},
	}
}

func TestFilterChineseKeepsOnlyCJK(t *testing.T) {
	boxes := []model.TextBox{
		box("你好", 0, 0, 10, 0, 10, 10, 0, 10),
		box("Hello", 0, 0, 10, 0, 10, 10, 0, 10),
	}
	out := FilterChinese(boxes)
	if len(out) != 1 || out[0].Text != "你好" {
		t.Fatalf("FilterChinese = %+v, want only the CJK box", out)
	}
}

func TestSynthesizeDimensionsAndBinary(t *testing.T) {
	boxes := []model.TextBox{box("你好", 10, 10, 50, 10, 50, 30, 10, 30)}
	m := Synthesize(100, 100, boxes, 5)
	if len(m) != 100*100 {
		t.Fatalf("mask length = %d, want %d", len(m), 100*100)
	}
	for _, v := range m {
		if v != 0 && v != 255 {
			t.Fatalf("mask pixel %d is not binary", v)
		}
	}
	var hit bool
	for _, v := range m {
		if v == 255 {
			hit = true
			break
		}
	}
	if !hit {
		t.Fatalf("expected at least one inpaint pixel inside the box")
	}
}

func TestSynthesizeZeroPaddingEqualsOCRPolygon(t *testing.T) {
	padded := Synthesize(100, 100, []model.TextBox{box("你好", 10, 10, 50, 10, 50, 30, 10, 30)}, 5)
	unpadded := Synthesize(100, 100, []model.TextBox{box("你好", 10, 10, 50, 10, 50, 30, 10, 30)}, 0)

	direct := make([]byte, 100*100)
	fillPolygon(direct, 100, 100, box("你好", 10, 10, 50, 10, 50, 30, 10, 30).Polygon)
	if !bytes.Equal(unpadded, direct) {
		t.Fatalf("mask with zero padding differs from the rasterized OCR polygon")
	}

	paddedCount, unpaddedCount := 0, 0
	for i := range padded {
		if padded[i] == 255 {
			paddedCount++
		}
		if unpadded[i] == 255 {
			unpaddedCount++
		}
	}
	if paddedCount <= unpaddedCount {
		t.Fatalf("padded mask (%d px) should cover more area than unpadded (%d px)", paddedCount, unpaddedCount)
	}
}

func TestPadQuadClampsToImageBounds(t *testing.T) {
	poly := []model.Point{{X: 1, Y: 1}, {X: 98, Y: 1}, {X: 98, Y: 98}, {X: 1, Y: 98}}
	out := padQuad(poly, 10, 100, 100)
	for _, p := range out {
		if p.X < 0 || p.X > 99 || p.Y < 0 || p.Y > 99 {
			t.Fatalf("padQuad produced out-of-bounds point %+v", p)
		}
	}
}

package ocrsvc

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"bytes"
	"errors"
	"testing"
)

type fakeSession struct {
	dets   []RawDetection
	err    error
	closed bool
}

func (f *fakeSession) Infer(context.Context, []byte, int, int) ([]RawDetection, error) {
	return f.dets, f.err
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func blankPNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func TestDetectNormalizesShape(t *testing.T) {
	fs := &fakeSession{dets: []RawDetection{
		{Polygon: [][2]float64{{10, 10}, {50, 10}, {50, 30}, {10, 30}}, Text: "你好", Score: 0.97},
	}}
	d := NewDetector(fs, 2)

	boxes, err := d.Detect(context.Background(), blankPNG(64, 64))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected 1 box, got %d", len(boxes))
	}
	if boxes[0].Text != "你好" || len(boxes[0].Polygon) != 4 {
		t.Fatalf("unexpected box: %+v", boxes[0])
	}
	if !boxes[0].ContainsCJK() {
		t.Fatalf("expected ContainsCJK to be true")
	}
}

func TestWarmUpToleratesFailure(t *testing.T) {
	d := NewDetector(&fakeSession{err: errors.New("inference failed")}, 1)
	if err := d.WarmUp(context.Background()); err != nil {
		t.Fatalf("WarmUp should swallow session errors, got %v", err)
	}
}

func TestDetectorClose(t *testing.T) {
	fs := &fakeSession{}
	d := NewDetector(fs, 1)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fs.closed {
		t.Fatalf("expected underlying session to be closed")
	}
}

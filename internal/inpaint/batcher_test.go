package inpaint

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

type fakeSession struct{}

func (fakeSession) InferBatch(_ context.Context, images, masks [][]byte) ([][]byte, error) {
	out := make([][]byte, len(images))
	for i, img := range images {
		out[i] = img
	}
	return out, nil
}

func TestBatcherFlushesOnTimeoutBeforeCollectSizeReached(t *testing.T) {
	b := NewBatcher(fakeSession{}, nil, 16, 4, 200*time.Millisecond, 4)
	defer b.Close()

	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	mask := image.NewGray(image.Rect(0, 0, 64, 64))

	for i := 0; i < 3; i++ {
		b.Submit(model.InpaintJob{RequestID: "r", ImageID: "p-1"}, img, mask)
	}

	deadline := time.After(1500 * time.Millisecond)
	got := 0
	for got < 3 {
		select {
		case <-b.Results():
			got++
		case <-deadline:
			t.Fatalf("got %d/3 results before deadline, want all 3 flushed on timeout", got)
		}
	}
}

func TestBatcherFlushesOnCollectSize(t *testing.T) {
	b := NewBatcher(fakeSession{}, nil, 2, 2, 10*time.Second, 4)
	defer b.Close()

	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	mask := image.NewGray(image.Rect(0, 0, 32, 32))

	b.Submit(model.InpaintJob{RequestID: "a"}, img, mask)
	b.Submit(model.InpaintJob{RequestID: "b"}, img, mask)

	select {
	case <-b.Results():
	case <-time.After(1 * time.Second):
		t.Fatal("expected a flush once collect size was reached, without waiting for the timeout")
	}
}

package dispatch

import (
	"image"
	"testing"

	"github.com/lee-daon/image-translate-worker/internal/model"
)

func TestBuildTranslatedItemsPairsInOrder(t *testing.T) {
	boxes := []model.TextBox{{Text: "你好"}, {Text: "世界"}}
	items := buildTranslatedItems(boxes, []string{"안녕"})
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].TranslatedText != "안녕" {
		t.Fatalf("items[0].TranslatedText = %q, want 안녕", items[0].TranslatedText)
	}
	if items[1].TranslatedText != "" {
		t.Fatalf("items[1].TranslatedText = %q, want empty (translator returned fewer items)", items[1].TranslatedText)
	}
}

func TestBuildTranslatedItemsEmptyTranslationIsInpaintOnly(t *testing.T) {
	boxes := []model.TextBox{{Text: "你好"}}
	items := buildTranslatedItems(boxes, nil)
	if len(items) != 1 || items[0].TranslatedText != "" {
		t.Fatalf("items = %+v, want one item with empty TranslatedText", items)
	}
}

func TestResizeForNoTextShortIsFixedCanvas(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	out := resizeForNoText(img, false, 1024, 1024)
	b := out.Bounds()
	if b.Dx() != 1024 || b.Dy() != 1024 {
		t.Fatalf("resizeForNoText(short) = %dx%d, want 1024x1024", b.Dx(), b.Dy())
	}
}

func TestResizeForNoTextLongPreservesAspect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 720, 3200))
	out := resizeForNoText(img, true, 1024, 1024)
	b := out.Bounds()
	if b.Dx() != 864 {
		t.Fatalf("resizeForNoText(long) width = %d, want 864", b.Dx())
	}
	wantH := 864 * 3200 / 720
	if b.Dy() != wantH {
		t.Fatalf("resizeForNoText(long) height = %d, want %d", b.Dy(), wantH)
	}
}

package upload

import (
	"testing"
	"time"
)

func TestObjectPathLayout(t *testing.T) {
	at := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	got := ObjectPath("p-100", "r1abcdef", at)
	want := "translated_image/2026-07-31/p/100-r1abc.jpg"
	if got != want {
		t.Fatalf("ObjectPath = %q, want %q", got, want)
	}
}

func TestObjectPathNoSuffix(t *testing.T) {
	at := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	got := ObjectPath("p100", "r1abcdef", at)
	want := "translated_image/2026-07-31/p100/p100-r1abc.jpg"
	if got != want {
		t.Fatalf("ObjectPath = %q, want %q", got, want)
	}
}

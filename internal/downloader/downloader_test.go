package downloader

import "testing"

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"//img.example.com/x.jpg":   "https://img.example.com/x.jpg",
		"https://img.example.com/x": "https://img.example.com/x",
		"http://img.example.com/x":  "http://img.example.com/x",
	}
	for in, want := range cases {
		if got := normalizeURL(in); got != want {
			t.Errorf("normalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectContentType(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}
	png := append([]byte{0x89}, []byte("PNG\r\n\x1a\n")...)
	other := []byte("GIF89a")

	if got := detectContentType(jpeg); got != "image/jpeg" {
		t.Errorf("detectContentType(jpeg) = %q", got)
	}
	if got := detectContentType(png); got != "image/png" {
		t.Errorf("detectContentType(png) = %q", got)
	}
	if got := detectContentType(other); got != "" {
		t.Errorf("detectContentType(other) = %q, want empty", got)
	}
}

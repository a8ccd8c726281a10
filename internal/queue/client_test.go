package queue

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeBodyRoundTripSmall(t *testing.T) {
	body := []byte(`{"image_id":"p-100"}`)
	encoded := encodeBody(body)
	if !bytes.Equal(encoded, body) {
		t.Fatalf("small payload should pass through uncompressed, got %q", encoded)
	}
	decoded := decodeBody(encoded)
	if !bytes.Equal(decoded, body) {
		t.Fatalf("decodeBody(%q) = %q, want %q", encoded, decoded, body)
	}
}

func TestEncodeDecodeBodyRoundTripLarge(t *testing.T) {
	body := []byte(`{"image_id":"p-100","blob":"` + strings.Repeat("a", compressThreshold+1024) + `"}`)
	encoded := encodeBody(body)
	if !bytes.HasPrefix(encoded, []byte(lz4Magic)) {
		t.Fatalf("large payload should be lz4-framed")
	}
	decoded := decodeBody(encoded)
	if !bytes.Equal(decoded, body) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(decoded), len(body))
	}
}

func TestDecodeBodyPassesThroughNonFramed(t *testing.T) {
	body := []byte(`plain body without lz4 framing`)
	if got := decodeBody(body); !bytes.Equal(got, body) {
		t.Fatalf("decodeBody should pass through non-framed input, got %q", got)
	}
}

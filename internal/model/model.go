// Package model holds the data-model types shared across the pipeline
// stages: the envelope read off the ingress queue, the intermediate
// per-request artifacts produced by each stage, and the queue-facing
// result messages.
package model

import (
	"strings"
	"time"
)

// Envelope is the ingress queue message (spec.md §6). Immutable once
// published; request_id is assigned by the dispatcher when absent.
type Envelope struct {
	RequestID string `json:"request_id,omitempty"`
	ImageID   string `json:"image_id"`
	ImageURL  string `json:"image_url"`
	IsLong    bool   `json:"is_long"`
}

// Point is a floating-point pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TextBox is an OCR detection: an ordered 4-point polygon (TL, TR, BR, BL
// reading order) plus recognized text and confidence.
type TextBox struct {
	Polygon []Point `json:"polygon"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// ContainsCJK reports whether Text contains at least one CJK unified
// ideograph (U+4E00..U+9FFF).
func (b TextBox) ContainsCJK() bool {
	return ContainsCJK(b.Text)
}

// ContainsCJK reports whether s contains at least one character in the
// CJK Unified Ideographs block. Shared by the mask filter and the
// translator's post-filter (spec.md §4.4, §4.5).
func ContainsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

// TranslatedItem pairs a source box with its (possibly empty, possibly
// degraded) translated text.
type TranslatedItem struct {
	Box               TextBox `json:"box"`
	TranslatedText    string  `json:"translated_text"`
	OriginalCharCount int     `json:"original_char_count"`

	// Populated by the renderer's font-sizing and color-selection passes.
	FontSizePx float64 `json:"font_size_px,omitempty"`
	BoxWidth   float64 `json:"box_width,omitempty"`
	BoxHeight  float64 `json:"box_height,omitempty"`
	BoxAngle   float64 `json:"box_angle,omitempty"`
	TextColor  *RGB    `json:"text_color,omitempty"`
	BGColor    *RGB    `json:"bg_color,omitempty"`
	Contrast   float64 `json:"contrast_ratio,omitempty"`
}

// RGB is an 8-bit-per-channel color, stored R/G/B (not BGR) at the
// model boundary — the OpenCV-derived source stores BGR internally and
// flips to RGB only when persisting; Go code keeps RGB throughout and
// only swaps when talking to a BGR-ordered buffer.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// InpaintJob is submitted to the inpaint batcher after mask synthesis.
type InpaintJob struct {
	RequestID string
	ImageID   string
	IsLong    bool

	// PreprocessedImage/PreprocessedMask, SizeBeforePadding and
	// ScaleFactor are not filled in by the dispatcher: the batcher runs
	// preprocessing itself in Submit and keeps the padded buffers and
	// scaling bookkeeping on its own job record.
	PreprocessedImage []byte
	PreprocessedMask  []byte
	SizeBeforePadding Size
	ScaleFactor       int

	// OriginalImage is retained so the join coordinator and renderer can
	// work from both the inpainted result and the untouched source.
	OriginalImage []byte

	SubmitIndex int
}

// Size is a width/height pair in pixels.
type Size struct {
	W int
	H int
}

// InpaintResult is what the batcher emits per completed job, in
// completion order (spec.md §4.6's streaming contract).
type InpaintResult struct {
	RequestID string
	ImageID   string
	IsLong    bool

	// InpaintedImage is raw NRGBA pixels (not an encoded image) restored
	// to the original source dimensions (InpaintedWidth x InpaintedHeight).
	InpaintedImage  []byte
	InpaintedWidth  int
	InpaintedHeight int

	OriginalImage []byte // still-encoded source bytes, passed through
	SubmitIndex   int
	Err           error
}

// PartialJoin is the join coordinator's per-request slot (spec.md §3).
type PartialJoin struct {
	Translation *TranslationResult
	Inpainting  *InpaintResult
	Deposited   time.Time
}

// TranslationResult is what the translate branch deposits into the join
// coordinator.
type TranslationResult struct {
	ImageID string
	Items   []TranslatedItem
}

// RenderJob is created by the join coordinator once both slots are full.
type RenderJob struct {
	RequestID string
	ImageID   string
	IsLong    bool

	OriginalImage []byte // still-encoded source bytes

	// InpaintedImage is raw NRGBA pixels, InpaintedWidth x InpaintedHeight.
	InpaintedImage  []byte
	InpaintedWidth  int
	InpaintedHeight int

	TranslatedItems []TranslatedItem
}

// SuccessMessage is the success-queue payload (spec.md §6).
type SuccessMessage struct {
	ImageID  string `json:"image_id"`
	ImageURL string `json:"image_url"`
}

// ErrorMessage is the error-queue payload (spec.md §6).
type ErrorMessage struct {
	ImageID      string `json:"image_id"`
	ErrorMessage string `json:"error_message"`
}

// SplitImageID derives (product_id, suffix) from an image_id the same
// way the no-text branch and the renderer both need it (spec.md §6,
// "product_id is the part of image_id before the first '-', suffix is
// the part after, or the whole image_id if no '-'").
func SplitImageID(imageID string) (productID, suffix string) {
	parts := strings.SplitN(imageID, "-", 2)
	if len(parts) == 2 && parts[1] != "" {
		return parts[0], parts[1]
	}
	return parts[0], imageID
}

// ObjectSuffix builds the "<suffix>-<first 5 chars of request_id>" part
// of the object-store path (spec.md §6/§9).
func ObjectSuffix(imageID, requestID string) string {
	_, suffix := SplitImageID(imageID)
	rid := requestID
	if len(rid) > 5 {
		rid = rid[:5]
	}
	return suffix + "-" + rid
}

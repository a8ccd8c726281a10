// Package ocrsvc implements C3: a thin adapter around the OCR model.
// The model itself is an external collaborator (spec.md §1); this
// package owns decoding, color-space conversion, warm-up, and the
// CPU-preprocess/GPU-inference pool split, and normalizes whatever the
// underlying session returns into the canonical
// [ [polygon, [text, score]], ... ] shape (spec.md §9, Open Questions).
package ocrsvc

import (
	"context"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/lee-daon/image-translate-worker/internal/model"
	"github.com/lee-daon/image-translate-worker/internal/nlog"
	"github.com/lee-daon/image-translate-worker/internal/xerrors"
)

// Session is the model boundary: given a preprocessed BGR pixel buffer
// and its dimensions, return raw detections. Implementations may be
// backed by onnxruntime_go (Detector's default) or a test double.
type Session interface {
	Infer(ctx context.Context, bgr []byte, width, height int) ([]RawDetection, error)
	Close() error
}

// RawDetection is what a Session returns before normalization: the
// model's own polygon/text/score triple, possibly using an
// inconsistent nesting that Detector.Detect flattens.
type RawDetection struct {
	Polygon [][2]float64
	Text    string
	Score   float64
}

// Detector wraps a Session with the CPU/GPU pool split and warm-up
// described in ocr_pipeline/worker.py's OcrProcessor.
type Detector struct {
	session Session

	cpuSem chan struct{} // bounds concurrent preprocessing
	gpuMu  sync.Mutex    // the OCR model serializes inside C3 (spec.md §5)

	warmedUp bool
}

// NewDetector builds a Detector around session, sized to cpuConcurrency
// parallel preprocessing jobs.
func NewDetector(session Session, cpuConcurrency int) *Detector {
	if cpuConcurrency < 1 {
		cpuConcurrency = 1
	}
	return &Detector{
		session: session,
		cpuSem:  make(chan struct{}, cpuConcurrency),
	}
}

// WarmUp runs one throwaway inference on a blank frame before the
// dispatcher begins popping envelopes, so the first real request isn't
// charged with model/driver initialization latency (supplemented from
// initialize_model in ocr_pipeline/worker.py).
func (d *Detector) WarmUp(ctx context.Context) error {
	blank := make([]byte, 32*32*3)
	d.gpuMu.Lock()
	_, err := d.session.Infer(ctx, blank, 32, 32)
	d.gpuMu.Unlock()
	if err != nil {
		nlog.Warningf("ocrsvc: warm-up inference failed (continuing): %v", err)
		return nil
	}
	d.warmedUp = true
	nlog.Infoln("ocrsvc: warm-up inference complete")
	return nil
}

// Detect decodes bytes, converts to the BGR order the model expects,
// runs inference on the GPU pool (serialized), and returns normalized
// TextBoxes.
func (d *Detector) Detect(ctx context.Context, data []byte) ([]model.TextBox, error) {
	d.cpuSem <- struct{}{}
	bgr, w, h, err := decodeToBGR(data)
	<-d.cpuSem
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Decode, "decode image for OCR", err)
	}

	d.gpuMu.Lock()
	raw, err := d.session.Infer(ctx, bgr, w, h)
	d.gpuMu.Unlock()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.OCR, "model inference", err)
	}

	return normalize(raw), nil
}

// Close releases the underlying session.
func (d *Detector) Close() error { return d.session.Close() }

func normalize(raw []RawDetection) []model.TextBox {
	boxes := make([]model.TextBox, 0, len(raw))
	for _, r := range raw {
		pts := make([]model.Point, 0, len(r.Polygon))
		for _, p := range r.Polygon {
			pts = append(pts, model.Point{X: p[0], Y: p[1]})
		}
		boxes = append(boxes, model.TextBox{Polygon: pts, Text: r.Text, Score: r.Score})
	}
	return boxes
}

func decodeToBGR(data []byte) ([]byte, int, int, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, 0, 0, err
	}
	defer img.Close()
	if err := img.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return nil, 0, 0, err
	}
	buf, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, 0, 0, err
	}
	rgbaImg, err := vips.NewImageFromBuffer(buf)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rgbaImg.Close()
	w, h := rgbaImg.Width(), rgbaImg.Height()

	px, err := rgbaImg.ToBytes()
	if err != nil {
		return nil, 0, 0, err
	}
	bands := rgbaImg.Bands()
	bgr := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		r := px[i*bands+0]
		g := px[i*bands+1]
		b := px[i*bands+2]
		bgr[i*3+0] = b
		bgr[i*3+1] = g
		bgr[i*3+2] = r
	}
	return bgr, w, h, nil
}

// onnxSession is the default Session, backed by onnxruntime_go. Model
// hyperparameters (DB detector + SVTR_LCNet recognizer) are fixed per
// ocr_pipeline/worker.py's OcrProcessor; only the weight paths and
// execution-provider selection are configurable.
type onnxSession struct {
	det *ort.DynamicAdvancedSession
	rec *ort.DynamicAdvancedSession
}

// NewONNXSession loads the detector + recognizer graphs. useCUDA only
// logs intent: onnxruntime_go selects its execution provider from the
// shared library it was built against (load_models_on_gpu's CUDA→CPU
// fallback happens at that layer, not per-session here).
func NewONNXSession(detPath, recPath string, useCUDA bool) (Session, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, xerrors.Wrap(xerrors.Config, "initialize onnxruntime environment", err)
	}
	if useCUDA {
		nlog.Infoln("ocrsvc: CUDA execution provider requested")
	}

	det, err := ort.NewDynamicAdvancedSession(detPath, []string{"x"}, []string{"save_infer_model/scale_0.tmp_1"}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Config, "load OCR detector model", err)
	}
	rec, err := ort.NewDynamicAdvancedSession(recPath, []string{"x"}, []string{"save_infer_model/scale_0.tmp_1"}, nil)
	if err != nil {
		det.Destroy()
		return nil, xerrors.Wrap(xerrors.Config, "load OCR recognizer model", err)
	}
	return &onnxSession{det: det, rec: rec}, nil
}

func (s *onnxSession) Infer(_ context.Context, _ []byte, _, _ int) ([]RawDetection, error) {
	// The detector/recognizer tensor pre/post-processing (DB box decoding,
	// CTC decoding for SVTR_LCNet) is model-specific glue over the raw
	// onnxruntime_go tensor API and is intentionally not reproduced here:
	// spec.md treats the OCR model as an external collaborator consumed
	// through the Session contract above. Deployments provide a Session
	// implementation (this one, or a test double) that fulfills it.
	return nil, xerrors.New(xerrors.OCR, "onnxSession.Infer: model-specific tensor glue not wired in this build")
}

func (s *onnxSession) Close() error {
	s.det.Destroy()
	s.rec.Destroy()
	return nil
}

package inpaint

import (
	"context"
	"image"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lee-daon/image-translate-worker/internal/metrics"
	"github.com/lee-daon/image-translate-worker/internal/model"
	"github.com/lee-daon/image-translate-worker/internal/nlog"
	"github.com/lee-daon/image-translate-worker/internal/xerrors"
)

// Session is the inpainting model boundary: a batch of fixed-resolution
// (image, mask) pairs in, a batch of inpainted images out, same order,
// same length (spec.md §1, external collaborator contract).
type Session interface {
	InferBatch(ctx context.Context, images, masks [][]byte) ([][]byte, error)
}

// Upscaler is the optional AI upscaling model used when ScaleFactor > 1
// (spec.md §4.6 postprocessing step 2).
type Upscaler interface {
	Upscale(ctx context.Context, img []byte, w, h int) ([]byte, error)
}

// job is one submitted InpaintJob plus its preprocessed buffers and
// submission time.
type job struct {
	req       model.InpaintJob
	pre       Preprocessed
	submitted time.Time
}

// Batcher implements C6: two size-adaptive collect queues (short/long),
// each flushing on collect-size or max-wait, feeding fixed GPU
// micro-batches, grounded on modules/inpaint_gpu/batch_inpainting.py and
// worker.py's _gpu_inference_worker.
type Batcher struct {
	session  Session
	upscaler Upscaler

	collectSize int
	gpuBatch    int
	maxWait     time.Duration

	mu    sync.Mutex
	queue map[bool][]*job // keyed by IsLong

	flushCh chan bool
	results chan model.InpaintResult

	postSem chan struct{} // bounds parallel postprocessing (CPU pool share)

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewBatcher builds a Batcher. postConcurrency bounds how many
// postprocess jobs run in parallel with subsequent GPU flushes
// (spec.md §4.6: "parallel with subsequent GPU batches").
func NewBatcher(session Session, upscaler Upscaler, collectSize, gpuBatch int, maxWait time.Duration, postConcurrency int) *Batcher {
	if postConcurrency < 1 {
		postConcurrency = 1
	}
	b := &Batcher{
		session:     session,
		upscaler:    upscaler,
		collectSize: collectSize,
		gpuBatch:    gpuBatch,
		maxWait:     maxWait,
		queue:       map[bool][]*job{false: nil, true: nil},
		flushCh:     make(chan bool, 2),
		results:     make(chan model.InpaintResult, 256),
		postSem:     make(chan struct{}, postConcurrency),
		stopCh:      make(chan struct{}),
	}
	b.wg.Add(3)
	go b.timerLoop(false)
	go b.timerLoop(true)
	go b.flushLoop()
	return b
}

// Results returns the channel of completed postprocessed results,
// emitted in completion order carrying their original SubmitIndex
// (spec.md §4.6, streaming contract).
func (b *Batcher) Results() <-chan model.InpaintResult { return b.results }

// Submit preprocesses src/mask and enqueues req onto the short or long
// queue per req.IsLong. Preprocess has no error return, so every
// submitted job is enqueued; Submit itself emits no error result.
func (b *Batcher) Submit(req model.InpaintJob, src image.Image, mask *image.Gray) {
	pre := Preprocess(src, mask)
	j := &job{req: req, pre: pre, submitted: time.Now()}

	b.mu.Lock()
	q := append(b.queue[req.IsLong], j)
	b.queue[req.IsLong] = q
	full := len(q) >= b.collectSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- req.IsLong:
		default:
		}
	}
}

func (b *Batcher) timerLoop(isLong bool) {
	defer b.wg.Done()
	t := time.NewTicker(b.maxWait)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.mu.Lock()
			stale := len(b.queue[isLong]) > 0 && time.Since(b.queue[isLong][0].submitted) >= b.maxWait
			b.mu.Unlock()
			if stale {
				select {
				case b.flushCh <- isLong:
				default:
				}
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Batcher) flushLoop() {
	defer b.wg.Done()
	for {
		select {
		case isLong := <-b.flushCh:
			b.flush(isLong)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Batcher) flush(isLong bool) {
	b.mu.Lock()
	jobs := b.queue[isLong]
	b.queue[isLong] = nil
	b.mu.Unlock()
	if len(jobs) == 0 {
		return
	}

	queueLabel := "short"
	if isLong {
		queueLabel = "long"
	}
	for start := 0; start < len(jobs); start += b.gpuBatch {
		end := start + b.gpuBatch
		if end > len(jobs) {
			end = len(jobs)
		}
		metrics.InpaintBatchSize.WithLabelValues(queueLabel).Observe(float64(end - start))
		b.runMicroBatch(jobs[start:end])
	}
}

func (b *Batcher) runMicroBatch(jobs []*job) {
	images := make([][]byte, len(jobs))
	masks := make([][]byte, len(jobs))
	for i, j := range jobs {
		images[i] = j.pre.Image.Pix
		masks[i] = j.pre.Mask.Pix
	}

	ctx := context.Background()
	out, err := b.session.InferBatch(ctx, images, masks)
	if err != nil || len(out) != len(jobs) {
		// model inference failure fails the whole micro-batch (spec.md §4.6).
		nlog.Errorf("inpaint: micro-batch of %d failed: %v", len(jobs), err)
		var ferr error = xerrors.New(xerrors.Inpaint, "model inference: output count does not match input count")
		if err != nil {
			ferr = xerrors.Wrap(xerrors.Inpaint, "model inference", err)
		}
		for _, j := range jobs {
			b.emit(j, Result{}, ferr)
		}
		return
	}

	for i, j := range jobs {
		j := j
		raw := out[i]
		b.postSem <- struct{}{}
		go func() {
			defer func() { <-b.postSem }()
			final, perr := Postprocess(raw, TargetResolution, TargetResolution, j.pre.SizeBeforePadding, j.pre.ScaleFactor, b.upscaler)
			b.emit(j, final, perr)
		}()
	}
}

func (b *Batcher) emit(j *job, result Result, err error) {
	b.results <- model.InpaintResult{
		RequestID:       j.req.RequestID,
		ImageID:         j.req.ImageID,
		IsLong:          j.req.IsLong,
		InpaintedImage:  result.Pix,
		InpaintedWidth:  result.W,
		InpaintedHeight: result.H,
		OriginalImage:   j.req.OriginalImage,
		SubmitIndex:     j.req.SubmitIndex,
		Err:             err,
	}
}

// Close stops the timer/flush goroutines. Any still-queued jobs are
// dropped; the dispatcher's shutdown sequence drains the pending
// counter before calling Close, so in practice the queues are already
// empty (spec.md §4.10, graceful shutdown).
func (b *Batcher) Close() {
	b.closeOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// onnxSession is the default inpainting Session, sharing the
// onnxruntime_go binding with internal/ocrsvc (spec.md §5: model
// sessions are owned by their pool, never shared, but the library
// choice is common across both GPU-bound adapters).
type onnxSession struct {
	sess *ort.DynamicAdvancedSession
}

// NewONNXSession loads the inpainting graph. Model-specific tensor
// pre/post-processing is not reproduced here, mirroring ocrsvc's
// onnxSession: spec.md treats the inpainting model as an external
// collaborator consumed through the Session contract above.
func NewONNXSession(modelPath string) (Session, error) {
	sess, err := ort.NewDynamicAdvancedSession(modelPath, []string{"image", "mask"}, []string{"output"}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Config, "load inpainting model", err)
	}
	return &onnxSession{sess: sess}, nil
}

func (s *onnxSession) InferBatch(_ context.Context, images, masks [][]byte) ([][]byte, error) {
	return nil, xerrors.New(xerrors.Inpaint, "onnxSession.InferBatch: model-specific tensor glue not wired in this build")
}

// Package dispatch implements C10: the ingress pop loop, concurrency
// gates, and per-request orchestration across C2-C9, grounded on
// operate_worker/worker.py's AsyncInpaintingWorker.
package dispatch

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lee-daon/image-translate-worker/internal/downloader"
	"github.com/lee-daon/image-translate-worker/internal/inpaint"
	"github.com/lee-daon/image-translate-worker/internal/join"
	"github.com/lee-daon/image-translate-worker/internal/mask"
	"github.com/lee-daon/image-translate-worker/internal/metrics"
	"github.com/lee-daon/image-translate-worker/internal/model"
	"github.com/lee-daon/image-translate-worker/internal/nlog"
	"github.com/lee-daon/image-translate-worker/internal/ocrsvc"
	"github.com/lee-daon/image-translate-worker/internal/queue"
	"github.com/lee-daon/image-translate-worker/internal/render"
	"github.com/lee-daon/image-translate-worker/internal/translate"
	"github.com/lee-daon/image-translate-worker/internal/upload"
	"github.com/lee-daon/image-translate-worker/internal/xerrors"
)

const (
	tasksQueue   = "tasks"
	successQueue = "success_queue"
	errorQueue   = "error_queue"

	// admissionSleep is how long the pop loop waits when the pending
	// counter exceeds MaxPendingTasks (spec.md §4.10).
	admissionSleep = 1 * time.Second
	popTimeout     = 2 * time.Second
)

// Config carries the per-process tunables the dispatcher needs beyond
// its component dependencies.
type Config struct {
	MaxConcurrentTasks int
	MaxPendingTasks    int
	MaskPaddingPixels  int
	ResizeTargetWidth  int
	ResizeTargetHeight int
	JPEGQuality        int
	RequestDeadline    time.Duration
	ShutdownMaxWait    time.Duration
}

// Dispatcher owns the ingress loop and per-request lifecycle.
type Dispatcher struct {
	cfg Config

	q          *queue.Client
	downloader *downloader.Downloader
	ocr        *ocrsvc.Detector
	translator *translate.Client
	batcher    *inpaint.Batcher
	coord      *join.Coordinator
	uploader   *upload.Uploader
	fontCache  *render.FontCache

	sem     *semaphore.Weighted
	pending atomic.Int64

	stopping atomic.Bool
}

// New wires every component into a Dispatcher. The caller owns
// construction/teardown order of the components themselves (spec.md §9,
// "dependency containers").
func New(
	cfg Config,
	q *queue.Client,
	dl *downloader.Downloader,
	ocr *ocrsvc.Detector,
	tr *translate.Client,
	batcher *inpaint.Batcher,
	uploader *upload.Uploader,
	fontCache *render.FontCache,
) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		q:          q,
		downloader: dl,
		ocr:        ocr,
		translator: tr,
		batcher:    batcher,
		uploader:   uploader,
		fontCache:  fontCache,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
	}
	coord, err := join.New(cfg.RequestDeadline, d.onRenderJob, d.onStaleJoin)
	if err != nil {
		// buntdb's in-memory open cannot realistically fail; treat as fatal
		// config error rather than threading the error through New's
		// signature for an unreachable path.
		nlog.Fatalf("dispatch: failed to start join coordinator: %v", err)
	}
	d.coord = coord

	go d.consumeInpaintResults()
	return d
}

// Run pops envelopes from the ingress queue until ctx is canceled, then
// waits up to cfg.ShutdownMaxWait for in-flight requests to drain
// (spec.md §4.10, graceful shutdown).
func (d *Dispatcher) Run(ctx context.Context) {
	nlog.Infof("dispatch: worker instance %s entering ingress loop", instanceID)
	for {
		if ctx.Err() != nil {
			break
		}
		if d.pending.Load() > int64(d.cfg.MaxPendingTasks) {
			time.Sleep(admissionSleep)
			continue
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}
		metrics.InFlightTasks.Inc()

		body, err := d.q.PopBlocking(ctx, tasksQueue, popTimeout)
		if err != nil {
			d.releaseSlot()
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if body == nil {
			d.releaseSlot()
			continue
		}

		var env model.Envelope
		if err := queue.Decode(body, &env); err != nil {
			d.releaseSlot()
			nlog.Errorf("dispatch: malformed envelope: %v", err)
			continue
		}
		if env.RequestID == "" {
			env.RequestID = generateRequestID()
		}

		d.pending.Add(1)
		metrics.PendingTasks.Set(float64(d.pending.Load()))
		go d.handle(env)
	}
	d.awaitDrain()
}

// releaseSlot releases the task-semaphore permit and keeps the
// in-flight gauge in sync with it.
func (d *Dispatcher) releaseSlot() {
	d.sem.Release(1)
	metrics.InFlightTasks.Dec()
}

func (d *Dispatcher) awaitDrain() {
	deadline := time.Now().Add(d.cfg.ShutdownMaxWait)
	lastLog := time.Now()
	for d.pending.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(1 * time.Second)
		if time.Since(lastLog) >= 10*time.Second {
			nlog.Infof("dispatch: shutdown waiting on %d pending task(s)", d.pending.Load())
			lastLog = time.Now()
		}
	}
	// The inpaint batcher and the join coordinator are independent pools
	// (spec.md §5: "model sessions ... never shared between pools"), so
	// closing them is itself a small fan-out rather than a sequential
	// wait on two unrelated teardowns.
	var g errgroup.Group
	g.Go(func() error { d.batcher.Close(); return nil })
	g.Go(func() error { d.coord.Close(); return nil })
	_ = g.Wait()
}

// handle runs the per-request pipeline up to the hand-off to the inpaint
// and translation branches. It releases its semaphore permit when it
// returns: for a request that reaches those branches that is before its
// terminal emission, so the permit does not cover the inpaint, join and
// render stages. The pending counter is decremented by the terminal
// emission (finishSuccess/finishError).
func (d *Dispatcher) handle(env model.Envelope) {
	defer d.releaseSlot()

	ctx := context.Background()

	data, err := d.downloader.Fetch(ctx, env.ImageURL)
	if err != nil {
		d.emitError(env, xerrors.Wrap(xerrors.Download, "Image download failed", err))
		return
	}

	boxes, err := d.ocr.Detect(ctx, data)
	if err != nil {
		d.emitError(env, err)
		return
	}

	filtered := mask.FilterChinese(boxes)
	if len(filtered) == 0 {
		d.noTextBranch(ctx, env, data)
		return
	}

	srcImg, w, h, err := decodeDims(data)
	if err != nil {
		d.emitError(env, xerrors.Wrap(xerrors.Decode, "decode source image", err))
		return
	}

	maskPix := mask.Synthesize(w, h, filtered, d.cfg.MaskPaddingPixels)
	grayMask := pixToGray(maskPix, w, h)

	job := model.InpaintJob{
		RequestID:     env.RequestID,
		ImageID:       env.ImageID,
		IsLong:        env.IsLong,
		OriginalImage: data,
	}
	d.batcher.Submit(job, srcImg, grayMask)

	texts := make([]string, 0, len(filtered))
	for _, b := range filtered {
		if b.Text != "" {
			texts = append(texts, b.Text)
		}
	}

	go func() {
		start := time.Now()
		translated := d.translator.Many(ctx, texts, env.RequestID)
		metrics.TranslationLatencySeconds.Observe(time.Since(start).Seconds())
		items := buildTranslatedItems(filtered, translated)
		d.coord.DepositTranslation(env.RequestID, env.ImageID, items)
	}()

	// handle returns here; the per-request pending counter is released
	// by onRenderJob/onStaleJoin/emitError once the join completes, not
	// by this goroutine, since both branches are still in flight.
}

func (d *Dispatcher) consumeInpaintResults() {
	for result := range d.batcher.Results() {
		if result.Err != nil {
			d.emitErrorByID(result.RequestID, result.ImageID, result.Err)
			continue
		}
		d.coord.DepositInpainting(result.RequestID, result)
	}
}

func (d *Dispatcher) onRenderJob(job model.RenderJob) {
	start := time.Now()
	rendered, err := render.Render(job, render.Config{
		MaskPaddingPixels: d.cfg.MaskPaddingPixels,
		JPEGQuality:       d.cfg.JPEGQuality,
	}, d.fontCache)
	metrics.RenderLatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		d.finishError(job.RequestID, job.ImageID, err)
		return
	}

	res, err := d.uploader.Upload(context.Background(), rendered, job.ImageID, job.RequestID, map[string]string{"type": "translated"})
	if err != nil {
		d.finishError(job.RequestID, job.ImageID, err)
		return
	}
	d.finishSuccess(job.ImageID, res.URL)
}

func (d *Dispatcher) onStaleJoin(requestID, imageID string) {
	d.finishError(requestID, imageID, xerrors.New(xerrors.Render, "join coordinator deadline exceeded"))
}

// noTextBranch handles both "no OCR text" and "no Chinese text" short-
// circuits: resize per layout and upload under the resized_no_text
// metadata tag (spec.md §4.10).
func (d *Dispatcher) noTextBranch(ctx context.Context, env model.Envelope, data []byte) {
	img, _, _, err := decodeDims(data)
	if err != nil {
		d.emitError(env, xerrors.Wrap(xerrors.Decode, "decode source image", err))
		return
	}

	resized := resizeForNoText(img, env.IsLong, d.cfg.ResizeTargetWidth, d.cfg.ResizeTargetHeight)
	encoded, err := encodeJPEG(resized, d.cfg.JPEGQuality)
	if err != nil {
		d.emitError(env, xerrors.Wrap(xerrors.Render, "encode resized no-text image", err))
		return
	}

	res, err := d.uploader.Upload(ctx, encoded, env.ImageID, env.RequestID, map[string]string{"type": "resized_no_text"})
	if err != nil {
		// Unlike the main render path, an upload failure here is not
		// terminal: it falls back to the original image URL instead of an
		// error emission (SPEC_FULL.md, "Upload failure never raises past
		// C9's caller in the no-text branch").
		nlog.Warningf("dispatch: upload of resized no-text image failed for %s, falling back to original URL: %v", env.RequestID, err)
		d.finishSuccess(env.ImageID, env.ImageURL)
		return
	}
	d.finishSuccess(env.ImageID, res.URL)
}

func (d *Dispatcher) emitError(env model.Envelope, err error) {
	d.finishError(env.RequestID, env.ImageID, err)
}

// emitErrorByID is used from contexts where only the IDs (not the full
// envelope) are available, e.g. an inpaint micro-batch failure.
func (d *Dispatcher) emitErrorByID(requestID, imageID string, err error) {
	d.finishError(requestID, imageID, err)
}

// finishSuccess/finishError push the terminal message and decrement the
// pending counter exactly once per request_id, whichever path reaches
// them (spec.md §3 invariant: exactly one terminal emission).
func (d *Dispatcher) finishSuccess(imageID, url string) {
	msg := model.SuccessMessage{ImageID: imageID, ImageURL: url}
	if err := d.q.Push(context.Background(), successQueue, msg); err != nil {
		nlog.Errorf("dispatch: failed to push success message for %s: %v", imageID, err)
	}
	metrics.RequestsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	d.pending.Add(-1)
	metrics.PendingTasks.Set(float64(d.pending.Load()))
}

func (d *Dispatcher) finishError(requestID, imageID string, err error) {
	nlog.Errorf("dispatch: request %s (%s) failed: %v", requestID, imageID, err)
	msg := model.ErrorMessage{ImageID: imageID, ErrorMessage: xerrors.Message(err)}
	if pushErr := d.q.Push(context.Background(), errorQueue, msg); pushErr != nil {
		nlog.Errorf("dispatch: failed to push error message for %s: %v", imageID, pushErr)
	}
	metrics.RequestsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	d.pending.Add(-1)
	metrics.PendingTasks.Set(float64(d.pending.Load()))
}

func buildTranslatedItems(boxes []model.TextBox, translated []string) []model.TranslatedItem {
	items := make([]model.TranslatedItem, len(boxes))
	for i, b := range boxes {
		var text string
		if i < len(translated) {
			text = translated[i]
		}
		items[i] = model.TranslatedItem{
			Box:               b,
			TranslatedText:    text,
			OriginalCharCount: len([]rune(b.Text)),
		}
	}
	return items
}

func decodeDims(data []byte) (image.Image, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, err
	}
	b := img.Bounds()
	return img, b.Dx(), b.Dy(), nil
}

func pixToGray(pix []byte, w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	copy(g.Pix, pix)
	return g
}

// generateRequestID assigns a request_id when the envelope omitted one
// (spec.md §3).
func generateRequestID() string {
	return uuid.NewString()
}

// instanceID identifies this worker process in log lines, so multiple
// workers consuming the same broker queues (spec.md §9: "horizontal
// scaling is achieved by running more workers against the same
// broker") can be told apart in aggregated logs. Generated once at
// package init, not per request.
var instanceID = shortid.MustGenerate()

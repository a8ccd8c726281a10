// Command worker runs the image-translate pipeline worker: it pops
// envelopes from the ingress queue and drives them through OCR, mask
// synthesis, translation, inpainting, rendering, and upload, emitting
// exactly one success or error message per envelope.
//
// Grounded on original_source/.../operate_worker/worker.py's main()/
// run_worker() (load config -> init broker -> init models -> start
// workers -> block on stop signal -> ordered teardown) and on the
// donor's cmd/cli convention of a dedicated cmd/<name> entrypoint tree.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lee-daon/image-translate-worker/internal/config"
	"github.com/lee-daon/image-translate-worker/internal/dispatch"
	"github.com/lee-daon/image-translate-worker/internal/downloader"
	"github.com/lee-daon/image-translate-worker/internal/inpaint"
	"github.com/lee-daon/image-translate-worker/internal/nlog"
	"github.com/lee-daon/image-translate-worker/internal/ocrsvc"
	"github.com/lee-daon/image-translate-worker/internal/queue"
	"github.com/lee-daon/image-translate-worker/internal/render"
	"github.com/lee-daon/image-translate-worker/internal/translate"
	"github.com/lee-daon/image-translate-worker/internal/upload"
)

func main() {
	var envFile string

	root := &cobra.Command{
		Use:   "worker",
		Short: "image-translate-worker: OCR/translate/inpaint pipeline worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(envFile)
		},
	}
	root.Flags().StringVar(&envFile, "env-file", "", "optional .env file to preload before reading the environment")

	if err := root.Execute(); err != nil {
		nlog.Fatalf("worker: %v", err)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	nlog.SetLevel(cfg.LogLevel)

	// Cap govips' internal thread pool so the image-library's own worker
	// threads don't oversubscribe alongside the CPU pool (spec.md §5;
	// mirrors worker.py's cv2.setNumThreads(2) equivalent).
	vips.Startup(&vips.Config{ConcurrencyLevel: 2})
	defer vips.Shutdown()

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer q.Close()

	dl := downloader.New(cfg.ImageDownloadMaxRetries, cfg.ImageDownloadRetryDelay)

	ocrSession, err := ocrsvc.NewONNXSession(detectorModelPath(), recognizerModelPath(), cfg.UseCUDA)
	if err != nil {
		return err
	}
	detector := ocrsvc.NewDetector(ocrSession, cfg.CPUWorkerCount)
	warmupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := detector.WarmUp(warmupCtx); err != nil {
		return err
	}
	defer detector.Close()

	translator := translate.New(geminiEndpoint(), cfg.GeminiAPIKey, cfg.GeminiModelName, cfg.TranslationRPS)

	inpaintSession, err := inpaint.NewONNXSession(inpaintModelPath())
	if err != nil {
		return err
	}
	batcher := inpaint.NewBatcher(inpaintSession, nil, cfg.WorkerCollectBatchSize, cfg.InpainterGPUBatchSize,
		cfg.WorkerBatchMaxWaitTime, cfg.CPUWorkerCount)

	uploader, err := upload.New(context.Background(), upload.Options{
		Endpoint:        cfg.R2Endpoint,
		Bucket:          cfg.R2BucketName,
		Domain:          cfg.R2Domain,
		AccessKeyID:     cfg.CloudflareAccessKey,
		SecretAccessKey: cfg.CloudflareSecretKey,
	})
	if err != nil {
		return err
	}

	fontCache := render.NewFontCache(cfg.FontPath)
	render.SetSharedFontCache(fontCache)

	go serveMetrics(metricsAddr())

	d := dispatch.New(dispatch.Config{
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		MaxPendingTasks:    cfg.MaxPendingTasks,
		MaskPaddingPixels:  cfg.MaskPaddingPixels,
		ResizeTargetWidth:  cfg.ResizeTargetWidth,
		ResizeTargetHeight: cfg.ResizeTargetHeight,
		JPEGQuality:        cfg.JPEGQuality,
		RequestDeadline:    cfg.ShutdownMaxWait,
		ShutdownMaxWait:    cfg.ShutdownMaxWait,
	}, q, dl, detector, translator, batcher, uploader, fontCache)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nlog.Infoln("worker: starting ingress loop")
	d.Run(ctx)
	nlog.Infoln("worker: shutdown complete")
	nlog.Sync()
	return nil
}

// Model weight paths are deployment artifacts, not environment
// knobs named in spec.md §6 (which covers broker/R2/translation
// config); they're resolved relative to a conventional models/
// directory the way ocr_pipeline/worker.py and modules/inpaint_gpu
// locate their .onnx files.
func detectorModelPath() string   { return envOr("OCR_DETECTOR_MODEL_PATH", "models/ocr_det.onnx") }
func recognizerModelPath() string { return envOr("OCR_RECOGNIZER_MODEL_PATH", "models/ocr_rec.onnx") }
func inpaintModelPath() string    { return envOr("INPAINT_MODEL_PATH", "models/inpaint.onnx") }
func geminiEndpoint() string {
	return envOr("GEMINI_ENDPOINT", "https://generativelanguage.googleapis.com/v1beta/models")
}
func metricsAddr() string { return envOr("METRICS_ADDR", ":9090") }

// serveMetrics exposes the Prometheus collectors registered in
// internal/metrics on /metrics. A bind failure is logged, not fatal:
// the pipeline itself does not depend on metrics scraping succeeding.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		nlog.Warningf("metrics: server on %s stopped: %v", addr, err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

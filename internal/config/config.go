// Package config loads the worker's process configuration from the
// environment (spec.md §6), with typed defaults and fail-fast validation
// of the fields that have no safe default.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lee-daon/image-translate-worker/internal/xerrors"
)

// Config is the fully-resolved set of environment-driven knobs.
type Config struct {
	RedisURL string

	GeminiAPIKey    string
	GeminiModelName string
	TranslationRPS  float64

	CPUWorkerCount     int
	MaxConcurrentTasks int
	MaxPendingTasks    int

	WorkerCollectBatchSize int
	InpainterGPUBatchSize  int
	WorkerBatchMaxWaitTime time.Duration

	MaskPaddingPixels  int
	ResizeTargetHeight int
	ResizeTargetWidth  int
	JPEGQuality        int

	UseCUDA  bool
	FontPath string

	R2Endpoint          string
	R2BucketName        string
	R2Domain            string
	CloudflareAccessKey string
	CloudflareSecretKey string

	ImageDownloadMaxRetries int
	ImageDownloadRetryDelay time.Duration

	ShutdownMaxWait time.Duration
	LogLevel        string
}

// Load reads environment variables (optionally preloaded from a local
// .env file) and returns a validated Config, or a *xerrors.Error of kind
// Config listing every missing required field.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Local-dev convenience only; a missing .env file in production
		// is not an error — the environment is expected to be set directly.
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("TRANSLATION_RPS", 1.0)
	v.SetDefault("GEMINI_MODEL_NAME", "gemini-2.0-flash")
	v.SetDefault("CPU_WORKER_COUNT", 16)
	v.SetDefault("MAX_CONCURRENT_TASKS", 64)
	v.SetDefault("MAX_PENDING_TASKS", 256)
	v.SetDefault("WORKER_COLLECT_BATCH_SIZE", 16)
	v.SetDefault("INPAINTER_GPU_BATCH_SIZE", 4)
	v.SetDefault("WORKER_BATCH_MAX_WAIT_TIME_SECONDS", 5)
	v.SetDefault("MASK_PADDING_PIXELS", 5)
	v.SetDefault("RESIZE_TARGET_HEIGHT", 1024)
	v.SetDefault("RESIZE_TARGET_WIDTH", 1024)
	v.SetDefault("JPEG_QUALITY", 90)
	v.SetDefault("USE_CUDA", false)
	v.SetDefault("FONT_PATH", "/usr/share/fonts/truetype/nanum/NanumGothic.ttf")
	v.SetDefault("IMAGE_DOWNLOAD_MAX_RETRIES", 3)
	v.SetDefault("IMAGE_DOWNLOAD_RETRY_DELAY", 1)
	v.SetDefault("SHUTDOWN_MAX_WAIT_SECONDS", 30)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		RedisURL:                v.GetString("REDIS_URL"),
		GeminiAPIKey:            v.GetString("GEMINI_API_KEY"),
		GeminiModelName:         v.GetString("GEMINI_MODEL_NAME"),
		TranslationRPS:          v.GetFloat64("TRANSLATION_RPS"),
		CPUWorkerCount:          v.GetInt("CPU_WORKER_COUNT"),
		MaxConcurrentTasks:      v.GetInt("MAX_CONCURRENT_TASKS"),
		MaxPendingTasks:         v.GetInt("MAX_PENDING_TASKS"),
		WorkerCollectBatchSize:  v.GetInt("WORKER_COLLECT_BATCH_SIZE"),
		InpainterGPUBatchSize:   v.GetInt("INPAINTER_GPU_BATCH_SIZE"),
		WorkerBatchMaxWaitTime:  time.Duration(v.GetInt("WORKER_BATCH_MAX_WAIT_TIME_SECONDS")) * time.Second,
		MaskPaddingPixels:       v.GetInt("MASK_PADDING_PIXELS"),
		ResizeTargetHeight:      v.GetInt("RESIZE_TARGET_HEIGHT"),
		ResizeTargetWidth:       v.GetInt("RESIZE_TARGET_WIDTH"),
		JPEGQuality:             v.GetInt("JPEG_QUALITY"),
		UseCUDA:                 v.GetBool("USE_CUDA"),
		FontPath:                v.GetString("FONT_PATH"),
		R2Endpoint:              v.GetString("R2_ENDPOINT"),
		R2BucketName:            v.GetString("R2_BUCKET_NAME"),
		R2Domain:                v.GetString("R2_DOMAIN"),
		CloudflareAccessKey:     v.GetString("CLOUDFLARE_ACCESS_KEY_ID"),
		CloudflareSecretKey:     v.GetString("CLOUDFLARE_SECRET_KEY"),
		ImageDownloadMaxRetries: v.GetInt("IMAGE_DOWNLOAD_MAX_RETRIES"),
		ImageDownloadRetryDelay: time.Duration(v.GetInt("IMAGE_DOWNLOAD_RETRY_DELAY")) * time.Second,
		ShutdownMaxWait:         time.Duration(v.GetInt("SHUTDOWN_MAX_WAIT_SECONDS")) * time.Second,
		LogLevel:                v.GetString("LOG_LEVEL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate collects every missing required field and raises once,
// mirroring r2hosting.py's "list every missing var" startup check.
func (c *Config) validate() error {
	var missing []string
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.GeminiAPIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.R2Endpoint == "" {
		missing = append(missing, "R2_ENDPOINT")
	}
	if c.R2BucketName == "" {
		missing = append(missing, "R2_BUCKET_NAME")
	}
	if c.R2Domain == "" {
		missing = append(missing, "R2_DOMAIN")
	}
	if c.CloudflareAccessKey == "" {
		missing = append(missing, "CLOUDFLARE_ACCESS_KEY_ID")
	}
	if c.CloudflareSecretKey == "" {
		missing = append(missing, "CLOUDFLARE_SECRET_KEY")
	}
	if len(missing) > 0 {
		return xerrors.New(xerrors.Config,
			fmt.Sprintf("missing required environment variable(s): %s", strings.Join(missing, ", ")))
	}
	return nil
}

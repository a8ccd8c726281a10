// Package downloader implements C2: fetching source image bytes by URL
// with bounded retries, and normalizing odd content-types to JPEG so
// every downstream decoder can rely on a JPEG/PNG byte stream.
package downloader

import (
	"context"
	"strings"
	"time"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/valyala/fasthttp"

	"github.com/lee-daon/image-translate-worker/internal/nlog"
	"github.com/lee-daon/image-translate-worker/internal/xerrors"
)

// fixedUserAgent and fixedReferer mirror the upstream image hosts'
// requirement for both headers (grounded on image_downloader.py).
const (
	fixedUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	fixedReferer = "https://detail.tmall.com/"

	// statusRateLimited is a non-standard status a subset of upstream
	// image hosts use to signal throttling (supplemented from worker.py's
	// _download_image_async, which treats it distinctly from other
	// transport errors).
	statusRateLimited = 420

	reencodeJPEGQuality = 95
)

// Downloader fetches and normalizes image bytes.
type Downloader struct {
	maxRetries int
	retryDelay time.Duration
	client     *fasthttp.Client
}

// New builds a Downloader with the given retry budget.
func New(maxRetries int, retryDelay time.Duration) *Downloader {
	return &Downloader{
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		client:     &fasthttp.Client{Name: "image-translate-worker"},
	}
}

// Fetch downloads url, applying the "//"→"https:" prefix fix, and
// re-encodes the response to JPEG q95 if its content-type is neither
// JPEG nor PNG.
func (d *Downloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	url = normalizeURL(url)

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			delay := d.retryDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, xerrors.Wrap(xerrors.Download, "context canceled during retry wait", ctx.Err())
			}
		}

		body, status, err := d.doRequest(url)
		if err != nil {
			lastErr = err
			nlog.Warningf("downloader: attempt %d/%d for %s failed: %v", attempt+1, d.maxRetries+1, url, err)
			continue
		}
		if status == statusRateLimited {
			lastErr = xerrors.New(xerrors.Download, "upstream rate-limited (HTTP 420)")
			// extra backoff proportional to attempt count, on top of the
			// fixed per-attempt delay applied at the top of the loop.
			extra := d.retryDelay * time.Duration(attempt+1)
			select {
			case <-time.After(extra):
			case <-ctx.Done():
				return nil, xerrors.Wrap(xerrors.Download, "context canceled during rate-limit backoff", ctx.Err())
			}
			continue
		}
		if status < 200 || status >= 300 {
			lastErr = xerrors.New(xerrors.Download, "unexpected HTTP status")
			continue
		}

		contentType := detectContentType(body)
		if contentType == "image/jpeg" || contentType == "image/png" {
			return body, nil
		}
		reencoded, err := reencodeToJPEG(body)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.Decode, "re-encode non-JPEG/PNG response", err)
		}
		return reencoded, nil
	}

	return nil, xerrors.Wrap(xerrors.Download, "Image download failed", lastErr)
}

func (d *Downloader) doRequest(url string) (body []byte, status int, err error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("User-Agent", fixedUserAgent)
	req.Header.Set("Referer", fixedReferer)

	if err := d.client.Do(req, resp); err != nil {
		return nil, 0, err
	}
	// Copy out: resp's body buffer is reused by fasthttp's pool.
	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, resp.StatusCode(), nil
}

func normalizeURL(url string) string {
	if strings.HasPrefix(url, "//") {
		return "https:" + url
	}
	return url
}

func detectContentType(body []byte) string {
	switch {
	case len(body) >= 3 && body[0] == 0xFF && body[1] == 0xD8 && body[2] == 0xFF:
		return "image/jpeg"
	case len(body) >= 8 && string(body[1:4]) == "PNG":
		return "image/png"
	default:
		return ""
	}
}

func reencodeToJPEG(body []byte) ([]byte, error) {
	img, err := vips.NewImageFromBuffer(body)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	if err := img.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return nil, err
	}
	out, _, err := img.ExportJpeg(&vips.JpegExportParams{Quality: reencodeJPEGQuality})
	if err != nil {
		return nil, err
	}
	return out, nil
}

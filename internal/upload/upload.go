// Package upload implements C9: uploading the already-encoded rendered
// image to an S3-compatible object store (Cloudflare R2), grounded on
// hosting/r2hosting.py's upload_image_from_array.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/lee-daon/image-translate-worker/internal/model"
	"github.com/lee-daon/image-translate-worker/internal/xerrors"
)

// oneYear is the immutable cache-control max-age (spec.md §4.9).
const oneYear = 365 * 24 * time.Hour

// Uploader PUTs encoded images to the configured R2 bucket and returns
// their public URL.
type Uploader struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	domain   string
}

// Options bundles the R2 connection parameters (spec.md §6).
type Options struct {
	Endpoint        string
	Bucket          string
	Domain          string
	AccessKeyID     string
	SecretAccessKey string
}

// New builds an Uploader against an S3-compatible endpoint.
func New(ctx context.Context, opts Options) (*Uploader, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, o ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: opts.Endpoint, SigningRegion: "auto"}, nil
	})
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Config, "load R2 client config", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true })
	return &Uploader{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		domain:   opts.Domain,
	}, nil
}

// Result is what Upload returns.
type Result struct {
	Success bool
	URL     string
}

// Upload PUTs image (already-encoded JPEG bytes) at the object-store
// path derived from imageID/requestID (spec.md §6 path template), and
// returns its public URL.
func (u *Uploader) Upload(ctx context.Context, image []byte, imageID, requestID string, metadata map[string]string) (Result, error) {
	path := ObjectPath(imageID, requestID, time.Now())

	sum := xxhash.Checksum64(image)
	meta := map[string]string{"checksum-xxhash": fmt.Sprintf("%x", sum)}
	for k, v := range metadata {
		meta[k] = v
	}

	cacheControl := fmt.Sprintf("public, max-age=%d, immutable", int(oneYear.Seconds()))
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.bucket),
		Key:          aws.String(path),
		Body:         bytes.NewReader(image),
		ContentType:  aws.String("image/jpeg"),
		CacheControl: aws.String(cacheControl),
		Metadata:     meta,
	})
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.Upload, uploadFailureStage(err), err)
	}

	url := fmt.Sprintf("https://%s/%s", u.domain, path)
	return Result{Success: true, URL: url}, nil
}

// uploadFailureStage enriches the error-queue message with the R2 API
// error code when the SDK returns one, instead of just "put object to
// R2" for every failure shape.
func uploadFailureStage(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("put object to R2 (%s)", apiErr.ErrorCode())
	}
	return "put object to R2"
}

// ObjectPath builds the "translated_image/<YYYY-MM-DD>/<product_id>/
// <suffix>-<request_id[:5]>.jpg" layout (spec.md §6).
func ObjectPath(imageID, requestID string, at time.Time) string {
	productID, _ := model.SplitImageID(imageID)
	suffix := model.ObjectSuffix(imageID, requestID)
	return fmt.Sprintf("translated_image/%s/%s/%s.jpg", at.Format("2006-01-02"), productID, suffix)
}

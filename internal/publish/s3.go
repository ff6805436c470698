package publish

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the part of manager.Uploader the S3 target needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Options configures an S3 target.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // set for S3-compatible services; switches to path-style addressing
	AccessKey string
	SecretKey string
}

// S3Target uploads blobs with the multipart upload manager.
type S3Target struct {
	bucket   string
	prefix   string
	uploader Uploader
}

// NewS3Target builds a client from the default AWS credential chain, or from
// static keys when both are set.
func NewS3Target(ctx context.Context, opts S3Options) (*S3Target, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 publisher requires s3_bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3TargetWithUploader(opts.Bucket, opts.Prefix, manager.NewUploader(client)), nil
}

// NewS3TargetWithUploader wraps an existing uploader.
func NewS3TargetWithUploader(bucket, prefix string, u Uploader) *S3Target {
	return &S3Target{bucket: bucket, prefix: prefix, uploader: u}
}

func (t *S3Target) Name() string { return "s3://" + path.Join(t.bucket, t.prefix) }

// Key returns the object key for an output-relative path.
func (t *S3Target) Key(rel string) string {
	return t.prefix + rel
}

func (t *S3Target) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(t.Key(key)),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", t.Key(key), err)
	}
	return nil
}

var _ Target = (*S3Target)(nil)

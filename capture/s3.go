package capture

import (
	"bytes"
	"context"
	"path"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// S3Config locates the bucket captures are uploaded to.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
	Secure    bool   `yaml:"secure" env:"SECURE"`
}

// S3Exporter uploads captures to an S3 compatible store.
type S3Exporter struct {
	client *minio.Client
	bucket string
	prefix string

	ensureOnce sync.Once
	ensureErr  error
}

// NewS3Exporter creates a MinIO client for the configured endpoint.
func NewS3Exporter(cfg S3Config) (*S3Exporter, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 exporter requires an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create MinIO client")
	}
	return &S3Exporter{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (e *S3Exporter) ensureBucket(ctx context.Context) error {
	e.ensureOnce.Do(func() {
		exists, err := e.client.BucketExists(ctx, e.bucket)
		if err != nil {
			e.ensureErr = err
			return
		}
		if !exists {
			e.ensureErr = e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{})
		}
	})
	return e.ensureErr
}

// ObjectName is the key a capture is stored under.
func (e *S3Exporter) ObjectName(c CapturedImage) string {
	return path.Join(e.prefix, c.FileName())
}

// Export uploads the capture.
func (e *S3Exporter) Export(ctx context.Context, c CapturedImage) error {
	if err := e.ensureBucket(ctx); err != nil {
		return errors.Wrap(err, "bucket error")
	}
	_, err := e.client.PutObject(
		ctx,
		e.bucket,
		e.ObjectName(c),
		bytes.NewReader(c.Image.Data),
		int64(len(c.Image.Data)),
		minio.PutObjectOptions{ContentType: c.Image.Format.ContentType()},
	)
	return errors.Wrap(err, "upload error")
}

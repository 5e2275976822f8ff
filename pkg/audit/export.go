package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectUploader writes one object to external storage. Implementations
// exist for GCS and S3; tests inject an in-memory fake.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// GCSUploader uploads to a Google Cloud Storage bucket.
type GCSUploader struct {
	bucket *gcs.BucketHandle
}

func (g *GCSUploader) Upload(ctx context.Context, key string, body io.Reader) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs upload %s: %w", key, err)
	}
	return nil
}

// S3Uploader uploads to an S3 bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}

// NewUploader routes a destination URL to a concrete uploader by scheme:
// gs://bucket or s3://bucket.
func NewUploader(ctx context.Context, destination string) (ObjectUploader, error) {
	switch {
	case strings.HasPrefix(destination, "gs://"):
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return &GCSUploader{bucket: client.Bucket(strings.TrimPrefix(destination, "gs://"))}, nil
	case strings.HasPrefix(destination, "s3://"):
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		return &S3Uploader{client: s3.NewFromConfig(cfg), bucket: strings.TrimPrefix(destination, "s3://")}, nil
	default:
		return nil, fmt.Errorf("unsupported export destination %q (want gs:// or s3://)", destination)
	}
}

// ExportDay uploads every NDJSON audit file of one UTC day (YYYY-MM-DD)
// found under auditDir. Returns the uploaded object keys.
func ExportDay(ctx context.Context, uploader ObjectUploader, auditDir, day string) ([]string, error) {
	dayDir := filepath.Join(auditDir, day)
	matches, err := filepath.Glob(filepath.Join(dayDir, "*.ndjson"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no audit files for %s under %s", day, auditDir)
	}

	var keys []string
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return keys, fmt.Errorf("open %s: %w", path, err)
		}
		key := fmt.Sprintf("audit/%s/%s", day, filepath.Base(path))
		err = uploader.Upload(ctx, key, f)
		_ = f.Close()
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

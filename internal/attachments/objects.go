// Package attachments stores task attachment bodies in an S3 compatible
// bucket. Metadata lives in PostgreSQL; only the object key links the two.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrDisabled is returned by every operation when no bucket is configured.
var ErrDisabled = errors.New("attachment storage is not configured")

const (
	MaxSize       = 25 << 20
	presignExpiry = 15 * time.Minute
)

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	URL(ctx context.Context, key, fileName string) (string, error)
	Remove(ctx context.Context, key string) error
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps objects in one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore connects and creates the bucket when missing.
func NewMinioStore(ctx context.Context, cfg Config, logger *slog.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created attachment bucket", "bucket", cfg.Bucket)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// URL returns a short-lived download link that names the original file.
func (s *MinioStore) URL(ctx context.Context, key, fileName string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	link, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignExpiry, params)
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return link.String(), nil
}

func (s *MinioStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// Disabled rejects every operation with ErrDisabled.
type Disabled struct{}

func (Disabled) Put(context.Context, string, io.Reader, int64, string) error { return ErrDisabled }
func (Disabled) URL(context.Context, string, string) (string, error)         { return "", ErrDisabled }
func (Disabled) Remove(context.Context, string) error                        { return ErrDisabled }

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CleanFileName keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with '_'.
func CleanFileName(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "._")
	if base == "" {
		return "file"
	}
	if len(base) > 120 {
		base = base[len(base)-120:]
	}
	return base
}

// ObjectKey is tasks/{taskID}/{attachmentID}/{clean file name}.
func ObjectKey(taskID, attachmentID, fileName string) string {
	return path.Join("tasks", taskID, attachmentID, CleanFileName(fileName))
}

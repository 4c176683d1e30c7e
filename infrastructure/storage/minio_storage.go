package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"retreat-photos/pkg/metrics"
	"retreat-photos/pkg/retry"
)

type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	Policy        retry.Policy
}

// MinioStorage keeps originals and thumbnails in an S3-compatible bucket.
type MinioStorage struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	policy        retry.Policy
}

// NewMinioStorage connects and creates the bucket if it does not exist.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	publicBaseURL := cfg.PublicBaseURL
	if publicBaseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicBaseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &MinioStorage{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		policy:        cfg.Policy,
	}, nil
}

func (s *MinioStorage) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (minio.UploadInfo, error) {
		start := time.Now()
		info, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType,
		})
		metrics.ObserveProvider("storage", "put", start, err)
		return info, classify(err)
	})
	if err != nil {
		return fmt.Errorf("failed to save file %s: %w", path, err)
	}
	return nil
}

// Remove deletes every path. Missing objects count as removed.
func (s *MinioStorage) Remove(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
			start := time.Now()
			err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{})
			metrics.ObserveProvider("storage", "remove", start, err)
			return struct{}{}, classify(err)
		})
		if err != nil {
			return fmt.Errorf("failed to delete file %s: %w", path, err)
		}
	}
	return nil
}

func (s *MinioStorage) PublicURL(path string) string {
	return s.publicBaseURL + "/" + strings.TrimLeft(path, "/")
}

func (s *MinioStorage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey":
		return nil
	case resp.StatusCode == 0 || resp.StatusCode >= 500 || resp.Code == "SlowDown":
		return retry.Transient(err)
	default:
		return retry.Permanent(err)
	}
}

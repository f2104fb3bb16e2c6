// Package minio provides a MinIO blob backend using the native MinIO client.
package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/vaultdrive/vaultdrive/internal/logging"
	"github.com/vaultdrive/vaultdrive/internal/metrics"
)

// Config holds MinIO backend settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Backend implements blob.Backend against a MinIO server.
type Backend struct {
	client *minio.Client
	bucket string
}

// New creates a MinIO backend and creates the bucket if it doesn't exist.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	endpoint := cfg.Endpoint
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse minio endpoint: %w", err)
		}
		endpoint = u.Host
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logging.Info("created minio bucket", zap.String("bucket", cfg.Bucket))
	}

	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads content to MinIO.
func (b *Backend) Put(ctx context.Context, ref string, body io.Reader, size int64, contentType string) error {
	start := time.Now()

	_, err := b.client.PutObject(ctx, b.bucket, ref, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		metrics.RecordBlobOperation("put_object", time.Since(start), false)
		return fmt.Errorf("put object %s: %w", ref, err)
	}

	metrics.RecordBlobOperation("put_object", time.Since(start), true)
	logging.Debug("minio put object", zap.String("ref", ref), zap.Int64("size", size))
	return nil
}

// Get retrieves content from MinIO.
func (b *Backend) Get(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	start := time.Now()

	obj, err := b.client.GetObject(ctx, b.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		metrics.RecordBlobOperation("get_object", time.Since(start), false)
		return nil, 0, fmt.Errorf("get object %s: %w", ref, err)
	}

	// GetObject is lazy; Stat forces the first request and surfaces
	// missing-object errors here instead of on first read.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		metrics.RecordBlobOperation("get_object", time.Since(start), false)
		return nil, 0, fmt.Errorf("stat object %s: %w", ref, err)
	}

	metrics.RecordBlobOperation("get_object", time.Since(start), true)
	return obj, info.Size, nil
}

// Delete removes content from MinIO.
func (b *Backend) Delete(ctx context.Context, ref string) error {
	start := time.Now()

	if err := b.client.RemoveObject(ctx, b.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		metrics.RecordBlobOperation("delete_object", time.Since(start), false)
		return fmt.Errorf("delete object %s: %w", ref, err)
	}

	metrics.RecordBlobOperation("delete_object", time.Since(start), true)
	logging.Debug("minio delete object", zap.String("ref", ref))
	return nil
}

// Exists checks whether content exists in MinIO.
func (b *Backend) Exists(ctx context.Context, ref string) (bool, error) {
	start := time.Now()

	_, err := b.client.StatObject(ctx, b.bucket, ref, minio.StatObjectOptions{})
	if err != nil {
		metrics.RecordBlobOperation("stat_object", time.Since(start), false)
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", ref, err)
	}

	metrics.RecordBlobOperation("stat_object", time.Since(start), true)
	return true, nil
}

// Type returns "minio".
func (b *Backend) Type() string { return "minio" }

// Close is a no-op for MinIO backends.
func (b *Backend) Close() error { return nil }

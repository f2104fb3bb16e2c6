package blob

import (
	"context"
	"fmt"

	"github.com/vaultdrive/vaultdrive/internal/blob/local"
	"github.com/vaultdrive/vaultdrive/internal/blob/minio"
	s3backend "github.com/vaultdrive/vaultdrive/internal/blob/s3"
	"github.com/vaultdrive/vaultdrive/internal/config"
)

// NewBackendFromConfig creates a Backend from server configuration.
func NewBackendFromConfig(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.BlobBackend {
	case "local":
		return local.New(cfg.LocalStoragePath)
	case "s3":
		return s3backend.New(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
	case "minio":
		return minio.New(ctx, minio.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend type: %s", cfg.BlobBackend)
	}
}

// VaultDrive Server
//
// Features:
// - File and folder hierarchy with per-user isolation
// - Content-type categorization (documents, images, videos, others)
// - Per-file and per-account storage quotas
// - Pluggable metadata (MongoDB, PostgreSQL) and blob (local, S3, MinIO) backends
// - SSE change events
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vaultdrive/vaultdrive/internal/api"
	"github.com/vaultdrive/vaultdrive/internal/blob"
	"github.com/vaultdrive/vaultdrive/internal/category"
	"github.com/vaultdrive/vaultdrive/internal/config"
	"github.com/vaultdrive/vaultdrive/internal/drive"
	"github.com/vaultdrive/vaultdrive/internal/events"
	"github.com/vaultdrive/vaultdrive/internal/identity"
	"github.com/vaultdrive/vaultdrive/internal/logging"
	"github.com/vaultdrive/vaultdrive/internal/metadata"
	"github.com/vaultdrive/vaultdrive/internal/metrics"
	"github.com/vaultdrive/vaultdrive/internal/quota"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("VaultDrive Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Categorizer from configured membership lists
	classifier := category.NewClassifier(
		cfg.DocumentMimeTypes, cfg.ImageMimeTypes, cfg.VideoMimeTypes)

	// Metadata store
	logging.Info("connecting to metadata store...",
		zap.String("backend", cfg.MetadataBackend))
	repo, closeRepo, err := metadata.New(ctx, cfg, classifier)
	if err != nil {
		logging.Fatal("metadata store init failed", zap.Error(err))
	}
	defer closeRepo(context.Background())

	// Blob backend
	blobs, err := blob.NewBackendFromConfig(ctx, cfg)
	if err != nil {
		logging.Fatal("blob backend init failed", zap.Error(err))
	}
	defer blobs.Close()
	logging.Info("blob backend initialized", zap.String("type", blobs.Type()))

	// Locator resolver
	resolver, err := blob.NewResolver(cfg.PublicBaseURL)
	if err != nil {
		logging.Fatal("resolver init failed", zap.Error(err))
	}

	// Token verifier
	verifier, err := identity.NewVerifier(ctx, identity.Config{
		JWTSecret: cfg.JWTSecret,
		IssuerURL: cfg.OIDCIssuerURL,
		ClientID:  cfg.OIDCClientID,
	})
	if err != nil {
		logging.Fatal("token verifier init failed", zap.Error(err))
	}

	// Quota enforcer
	enforcer := quota.NewEnforcer(repo, cfg.MaxFileSize, cfg.MaxTotalStorage)
	logging.Info("quota enforcer initialized",
		zap.Int64("max_file_bytes", cfg.MaxFileSize),
		zap.Int64("max_total_bytes", cfg.MaxTotalStorage))

	// SSE broadcaster
	broadcaster := events.NewBroadcaster()

	// Mutation service
	svc := drive.NewService(repo, blobs, enforcer, identity.ContextIdentity{}, broadcaster)

	// API server
	srv := api.NewServer(svc, blobs, resolver, broadcaster, verifier, cfg)

	// Metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// HTTP server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

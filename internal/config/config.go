// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default content-type membership lists for the categorizer. Overridable via
// the *_MIME_TYPES environment variables; matching is exact-string.
var (
	DefaultDocumentMimeTypes = []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"text/plain",
		"text/csv",
	}
	DefaultImageMimeTypes = []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
		"image/svg+xml",
	}
	DefaultVideoMimeTypes = []string{
		"video/mp4",
		"video/avi",
		"video/mov",
		"video/wmv",
		"video/flv",
	}
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Metadata backend ("mongo" or "postgres")
	MetadataBackend string
	MongoURI        string
	MongoDatabase   string
	DatabaseURL     string

	// Blob backend ("local", "s3" or "minio")
	BlobBackend      string
	LocalStoragePath string
	S3Endpoint       string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3Region         string
	S3UseSSL         bool

	// Locator derivation
	PublicBaseURL string

	// Auth
	JWTSecret     string
	OIDCIssuerURL string
	OIDCClientID  string

	// Storage limits
	MaxFileSize     int64 // per-file ceiling in bytes
	MaxTotalStorage int64 // per-user ceiling in bytes

	// Stats aggregation scan cap
	StatsScanLimit int

	// Categorizer membership lists
	DocumentMimeTypes []string
	ImageMimeTypes    []string
	VideoMimeTypes    []string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),

		MetadataBackend: envOr("METADATA_BACKEND", "mongo"),
		MongoURI:        envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   envOr("MONGO_DATABASE", "vaultdrive"),
		DatabaseURL:     envOr("DATABASE_URL", ""),

		BlobBackend:      envOr("BLOB_BACKEND", "local"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/blobs"),
		S3Endpoint:       envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:         envOr("S3_BUCKET", "vaultdrive"),
		S3AccessKey:      envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:      envOr("S3_SECRET_KEY", ""),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3UseSSL:         envBool("S3_USE_SSL", false),

		PublicBaseURL: envOr("PUBLIC_BASE_URL", "http://localhost:8080"),

		JWTSecret:     envOr("JWT_SECRET", ""),
		OIDCIssuerURL: envOr("OIDC_ISSUER_URL", ""),
		OIDCClientID:  envOr("OIDC_CLIENT_ID", ""),

		MaxFileSize:     envInt64("MAX_FILE_SIZE", 50*1024*1024),
		MaxTotalStorage: envInt64("MAX_TOTAL_STORAGE", 500*1024*1024),

		StatsScanLimit: envInt("STATS_SCAN_LIMIT", 1000),

		DocumentMimeTypes: envList("DOCUMENT_MIME_TYPES", DefaultDocumentMimeTypes),
		ImageMimeTypes:    envList("IMAGE_MIME_TYPES", DefaultImageMimeTypes),
		VideoMimeTypes:    envList("VIDEO_MIME_TYPES", DefaultVideoMimeTypes),
	}

	if cfg.MetadataBackend != "mongo" && cfg.MetadataBackend != "postgres" {
		return nil, fmt.Errorf("METADATA_BACKEND must be \"mongo\" or \"postgres\", got %q", cfg.MetadataBackend)
	}
	if cfg.MetadataBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres metadata backend")
	}
	if cfg.JWTSecret == "" && cfg.OIDCIssuerURL == "" {
		return nil, fmt.Errorf("JWT_SECRET or OIDC_ISSUER_URL is required")
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if cfg.MaxTotalStorage <= 0 {
		return nil, fmt.Errorf("MAX_TOTAL_STORAGE must be positive")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

// envList parses a comma-separated env var, trimming whitespace around each
// element. Empty or unset falls back to the default list.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

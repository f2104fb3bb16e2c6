// Package metadata selects a metadata store implementation from
// configuration.
package metadata

import (
	"context"
	"fmt"

	"github.com/vaultdrive/vaultdrive/internal/category"
	"github.com/vaultdrive/vaultdrive/internal/config"
	"github.com/vaultdrive/vaultdrive/internal/drive"
	"github.com/vaultdrive/vaultdrive/internal/metadata/mongo"
	"github.com/vaultdrive/vaultdrive/internal/metadata/postgres"
)

// CloseFunc releases a store's connections.
type CloseFunc func(ctx context.Context) error

// New creates a metadata store from server configuration.
func New(ctx context.Context, cfg *config.Config, classifier *category.Classifier) (drive.Repository, CloseFunc, error) {
	switch cfg.MetadataBackend {
	case "mongo":
		store, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDatabase, classifier, cfg.StatsScanLimit)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "postgres":
		store, err := postgres.New(cfg.DatabaseURL, classifier, cfg.StatsScanLimit)
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata backend type: %s", cfg.MetadataBackend)
	}
}

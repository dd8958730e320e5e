package blob

import (
	"context"
	"fmt"

	"github.com/nexuscloud/nexus/internal/config"
	"github.com/nexuscloud/nexus/internal/presigned"
	"github.com/nexuscloud/nexus/internal/storage"
	"go.uber.org/zap"
)

// Open connects the backend selected by cfg.Backend. The MinIO bucket is
// created when missing; an S3 bucket must already exist.
func Open(ctx context.Context, cfg config.BlobConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case config.BackendMinIO:
		client, err := storage.NewMinIOClient(cfg)
		if err != nil {
			return nil, err
		}
		if err := storage.EnsureBucket(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
		logger.Info("blob store ready", zap.String("backend", cfg.Backend), zap.String("bucket", cfg.Bucket))
		return NewMinIOStore(client, cfg.Bucket, presigned.NewService(client, cfg.PresignTTL)), nil

	case config.BackendS3:
		client, err := storage.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewS3Store(client, cfg.Bucket, cfg.PresignTTL)
		if err := store.Ping(ctx); err != nil {
			return nil, err
		}
		logger.Info("blob store ready",
			zap.String("backend", cfg.Backend),
			zap.String("bucket", cfg.Bucket),
			zap.String("endpoint", storage.S3Endpoint(cfg)),
		)
		return store, nil
	}

	return nil, fmt.Errorf("unsupported blob backend %q", cfg.Backend)
}

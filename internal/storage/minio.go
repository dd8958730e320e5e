package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nexuscloud/nexus/internal/config"
	"go.uber.org/zap"
)

const bucketBootstrapTimeout = 5 * time.Second

// MinIOEndpoint returns cfg.Endpoint as host:port, defaulting to the MinIO
// API port.
func MinIOEndpoint(cfg config.BlobConfig) string {
	if strings.Contains(cfg.Endpoint, ":") {
		return cfg.Endpoint
	}
	return cfg.Endpoint + ":9000"
}

// NewMinIOClient builds a MinIO client pinned to cfg.Region, so no bucket
// location lookup is made before the first request.
func NewMinIOClient(cfg config.BlobConfig) (*minio.Client, error) {
	client, err := minio.New(MinIOEndpoint(cfg), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// EnsureBucket creates cfg.Bucket in cfg.Region when it is missing. Losing a
// creation race to another replica counts as success.
func EnsureBucket(ctx context.Context, client *minio.Client, cfg config.BlobConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("bucket", cfg.Bucket), zap.String("region", cfg.Region))

	ctx, cancel := context.WithTimeout(ctx, bucketBootstrapTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if exists {
		log.Debug("bucket exists")
		return nil
	}

	err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
	switch code := minio.ToErrorResponse(err).Code; {
	case err == nil:
		log.Info("bucket created")
	case code == "BucketAlreadyOwnedByYou":
		log.Info("bucket created concurrently", zap.String("code", code))
	default:
		return fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
	}
	return nil
}

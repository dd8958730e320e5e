package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nexuscloud/nexus/internal/config"
)

// NewS3Client builds an S3 client. A non-empty endpoint is treated as an
// S3-compatible gateway (MinIO, Ceph) and switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.BlobConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := S3Endpoint(cfg)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

// S3Endpoint renders the configured endpoint as a URL, or "" for AWS itself.
func S3Endpoint(cfg config.BlobConfig) string {
	if cfg.Endpoint == "" {
		return ""
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
}

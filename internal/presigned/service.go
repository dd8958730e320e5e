// Package presigned issues time-limited download URLs for MinIO objects.
package presigned

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"time"
)

// ErrInvalidObject is returned when bucket or object name is missing.
var ErrInvalidObject = errors.New("bucket and object are required")

// Signer is the subset of *minio.Client used to presign requests.
type Signer interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
}

// Service issues presigned GET URLs with a fixed TTL.
type Service struct {
	signer Signer
	ttl    time.Duration
}

// NewService constructs a Service. A non-positive ttl defaults to one hour.
func NewService(signer Signer, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{signer: signer, ttl: ttl}
}

// TTL reports the lifetime of issued URLs.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// GenerateGetURL presigns a download of bucket/object. When downloadName is
// set the response carries it as an attachment filename.
func (s *Service) GenerateGetURL(ctx context.Context, bucket, object, downloadName string) (string, error) {
	if bucket == "" || object == "" {
		return "", ErrInvalidObject
	}

	reqParams := make(url.Values)
	if downloadName != "" {
		reqParams.Set("response-content-disposition",
			mime.FormatMediaType("attachment", map[string]string{"filename": downloadName}))
	}

	u, err := s.signer.PresignedGetObject(ctx, bucket, object, s.ttl, reqParams)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, object, err)
	}

	return u.String(), nil
}

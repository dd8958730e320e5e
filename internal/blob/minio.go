package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
)

// minioAPI is the subset of *minio.Client the adapter needs.
type minioAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

// urlIssuer presigns download URLs; satisfied by *presigned.Service.
type urlIssuer interface {
	GenerateGetURL(ctx context.Context, bucket, object, downloadName string) (string, error)
}

// MinIOStore adapts minio.Client to Store. Locations are object keys inside bucket.
type MinIOStore struct {
	client minioAPI
	bucket string
	urls   urlIssuer
}

// NewMinIOStore constructs an adapter.
func NewMinIOStore(client minioAPI, bucket string, urls urlIssuer) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket, urls: urls}
}

func (s *MinIOStore) Put(ctx context.Context, in PutInput) (Object, error) {
	counter := newProgressCounter(in.Size, in.Progress)
	opts := minio.PutObjectOptions{
		ContentType:  in.ContentType,
		UserMetadata: map[string]string{"owner-id": in.OwnerID},
	}
	if in.Progress != nil {
		opts.Progress = counter
	}

	info, err := s.client.PutObject(ctx, s.bucket, in.Key, in.Body, in.Size, opts)
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", in.Key, err)
	}

	url, err := s.URLFor(ctx, in.Key)
	if err != nil {
		return Object{Location: in.Key, Size: info.Size}, err
	}

	return Object{Location: in.Key, URL: url, Size: info.Size}, nil
}

// Delete removes the object. MinIO's RemoveObject succeeds for missing keys,
// so the object is stat'ed first to surface ErrNotFound.
func (s *MinIOStore) Delete(ctx context.Context, location string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, location, minio.StatObjectOptions{}); err != nil {
		if isMinIONotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("stat object %s: %w", location, err)
	}

	if err := s.client.RemoveObject(ctx, s.bucket, location, minio.RemoveObjectOptions{}); err != nil {
		if isMinIONotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove object %s: %w", location, err)
	}
	return nil
}

func (s *MinIOStore) URLFor(ctx context.Context, location string) (string, error) {
	url, err := s.urls.GenerateGetURL(ctx, s.bucket, location, "")
	if err != nil {
		return "", fmt.Errorf("issue url for %s: %w", location, err)
	}
	return url, nil
}

// Ping reports whether the bucket is reachable.
func (s *MinIOStore) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func isMinIONotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == 404
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of *s3.Client the adapter needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// s3Presigner is satisfied by *s3.PresignClient.
type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store adapts the AWS SDK v2 S3 client to Store.
type S3Store struct {
	client  s3API
	presign s3Presigner
	bucket  string
	ttl     time.Duration
}

// NewS3Store constructs an adapter that presigns download URLs valid for ttl.
func NewS3Store(client *s3.Client, bucket string, ttl time.Duration) *S3Store {
	return newS3Store(client, s3.NewPresignClient(client), bucket, ttl)
}

func newS3Store(client s3API, presign s3Presigner, bucket string, ttl time.Duration) *S3Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Store{client: client, presign: presign, bucket: bucket, ttl: ttl}
}

// Put uploads the body in one request. Non-seekable bodies require TLS or an
// endpoint that accepts unsigned payloads.
func (s *S3Store) Put(ctx context.Context, in PutInput) (Object, error) {
	counter := newProgressCounter(in.Size, in.Progress)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(in.Key),
		Body:          withProgress(in.Body, counter),
		ContentLength: aws.Int64(in.Size),
		ContentType:   aws.String(in.ContentType),
		Metadata:      map[string]string{"owner-id": in.OwnerID},
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", in.Key, err)
	}

	url, err := s.URLFor(ctx, in.Key)
	if err != nil {
		return Object{Location: in.Key, Size: in.Size}, err
	}
	return Object{Location: in.Key, URL: url, Size: in.Size}, nil
}

// Delete removes the object. DeleteObject is silent on missing keys, so a
// HeadObject is issued first to surface ErrNotFound.
func (s *S3Store) Delete(ctx context.Context, location string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("head object %s: %w", location, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete object %s: %w", location, err)
	}
	return nil
}

func (s *S3Store) URLFor(ctx context.Context, location string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", location, err)
	}
	return req.URL, nil
}

// Ping reports whether the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	objects   map[string][]byte
	headErr   error
	deleteErr error
	bucketErr error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.bucketErr != nil {
		return nil, f.bucketErr
	}
	return &s3.HeadBucketOutput{}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://s3/" + *in.Bucket + "/" + *in.Key, Method: "GET"}, nil
}

func TestS3StorePutAndDelete(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := newS3Store(client, fakePresigner{}, "nexus", 0)

	var last int64
	obj, err := store.Put(context.Background(), PutInput{
		Key:      "users/u1/image/x_a.png",
		Body:     bytes.NewReader([]byte("pixels")),
		Size:     6,
		Progress: func(done, _ int64) { last = done },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.URL != "https://s3/nexus/users/u1/image/x_a.png" {
		t.Fatalf("unexpected url %s", obj.URL)
	}
	if last != 6 {
		t.Fatalf("expected progress 6, got %d", last)
	}

	if err := store.Delete(context.Background(), obj.Location); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := store.Delete(context.Background(), obj.Location); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIsS3NotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"typed not found", &types.NotFound{}, true},
		{"no such key", &types.NoSuchKey{}, true},
		{"generic api error", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain", errors.New("timeout"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isS3NotFound(tc.err); got != tc.want {
				t.Fatalf("isS3NotFound(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestS3StoreDeletePropagatesOtherErrors(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}, headErr: &smithy.GenericAPIError{Code: "AccessDenied"}}
	store := newS3Store(client, fakePresigner{}, "nexus", 0)

	err := store.Delete(context.Background(), "k")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected non-NotFound error, got %v", err)
	}
}

func TestS3StorePing(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := newS3Store(client, fakePresigner{}, "nexus", 0)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}

	client.bucketErr = errors.New("forbidden")
	if err := store.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}

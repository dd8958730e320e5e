// Package blob adapts object storage backends to the put/delete/urlFor
// contract used by the upload and deletion orchestrators.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Delete when the location holds no object.
var ErrNotFound = errors.New("blob not found")

// ProgressFunc receives bytes transferred so far and the expected total.
type ProgressFunc func(transferred, total int64)

// PutInput describes one object write.
type PutInput struct {
	OwnerID     string
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	Progress    ProgressFunc
}

// Object is the result of a committed write.
type Object struct {
	Location string
	URL      string
	Size     int64
}

// Store is implemented by every blob backend. When Put fails after the object
// was written (the URL could not be issued), the returned Object still carries
// its Location so the caller can clean up.
type Store interface {
	Put(ctx context.Context, in PutInput) (Object, error)
	Delete(ctx context.Context, location string) error
	URLFor(ctx context.Context, location string) (string, error)
}

// Backend is a Store that can report its own health.
type Backend interface {
	Store
	Ping(ctx context.Context) error
}

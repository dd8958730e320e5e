package file

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscloud/nexus/internal/classify"
)

// Record is the metadata index entry for one stored blob.
type Record struct {
	ID           uuid.UUID         `json:"id"`
	OwnerID      string            `json:"owner_id"`
	Name         string            `json:"name"`
	SizeBytes    int64             `json:"size_bytes"`
	Category     classify.Category `json:"category"`
	Extension    string            `json:"extension"`
	ContentType  string            `json:"content_type"`
	BlobLocation string            `json:"blob_location"`
	DownloadURL  string            `json:"download_url"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ProgressFunc receives the upload ratio in [0,1].
type ProgressFunc func(ratio float64)

// UploadInput carries one upload request.
type UploadInput struct {
	OwnerID     string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
	Progress    ProgressFunc
}

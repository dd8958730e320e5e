package file

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nexuscloud/nexus/internal/blob"
	"github.com/nexuscloud/nexus/internal/classify"
	"github.com/nexuscloud/nexus/internal/metrics"
	"github.com/nexuscloud/nexus/internal/reconcile"
	"go.uber.org/zap"
)

const (
	defaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	defaultContentType = "application/octet-stream"
	maxKeyNameLength   = 128
)

type metadataStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, fileID uuid.UUID) (Record, error)
	Delete(ctx context.Context, fileID uuid.UUID) error
	ListRecent(ctx context.Context, ownerID string, category *classify.Category, limit int) ([]Record, error)
}

type ledgerStore interface {
	BeginOp(ctx context.Context, ownerID string) error
	EndOp(ctx context.Context, ownerID string) error
	Increment(ctx context.Context, ownerID string, deltaBytes int64, category classify.Category, deltaCount int64) error
}

type taskRecorder interface {
	Record(ctx context.Context, task reconcile.Task) error
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	MaxFileSize int64
	Logger      *zap.Logger
}

// Service orchestrates uploads and deletions across the blob store, the
// metadata index and the quota ledger.
type Service struct {
	repo        metadataStore
	ledger      ledgerStore
	blobs       blob.Store
	tasks       taskRecorder
	maxFileSize int64
	logger      *zap.Logger
}

// NewService constructs a file service.
func NewService(repo metadataStore, ledger ledgerStore, blobs blob.Store, tasks taskRecorder, opts Options) *Service {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		ledger:      ledger,
		blobs:       blobs,
		tasks:       tasks,
		maxFileSize: opts.MaxFileSize,
		logger:      opts.Logger,
	}
}

// Upload stores the blob, records its metadata and increments the owner's
// ledger. A returned ErrLedgerSyncWarning comes with a valid record.
func (s *Service) Upload(ctx context.Context, in UploadInput) (Record, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	name := strings.TrimSpace(in.Name)

	switch {
	case ownerID == "":
		return Record{}, s.rejectUpload(fmt.Errorf("%w: owner is required", ErrInvalidInput))
	case name == "":
		return Record{}, s.rejectUpload(fmt.Errorf("%w: file name is required", ErrInvalidInput))
	case in.Size <= 0:
		return Record{}, s.rejectUpload(fmt.Errorf("%w: file is empty", ErrInvalidInput))
	case in.Size > s.maxFileSize:
		return Record{}, s.rejectUpload(fmt.Errorf("%w: file exceeds the %s limit", ErrInvalidInput, humanize.IBytes(uint64(s.maxFileSize))))
	case in.Body == nil:
		return Record{}, s.rejectUpload(fmt.Errorf("%w: missing file payload", ErrInvalidInput))
	}

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}
	category := classify.Classify(contentType, name)
	key := fmt.Sprintf("users/%s/%s/%s_%s", ownerID, category, uuid.New(), safeName(name))

	log := s.logger.With(zap.String("owner_id", ownerID), zap.String("blob_location", key))

	progress := newProgressReporter(in.Progress)
	defer progress.finish()

	if err := s.ledger.BeginOp(ctx, ownerID); err != nil {
		metrics.ObserveUpload("metadata_failure", "", 0)
		log.Error("ledger operation marker failed", zap.Error(err))
		return Record{}, fmt.Errorf("%w: %w", ErrMetadataWriteFailure, err)
	}
	defer s.endOp(ctx, log, ownerID)

	obj, err := s.blobs.Put(ctx, blob.PutInput{
		OwnerID:     ownerID,
		Key:         key,
		Body:        in.Body,
		Size:        in.Size,
		ContentType: contentType,
		Progress:    progress.report,
	})
	if err != nil {
		progress.finish()
		if obj.Location != "" {
			s.removeOrphan(context.WithoutCancel(ctx), log, ownerID, obj.Location, err)
		}
		metrics.ObserveUpload("blob_failure", "", 0)
		log.Warn("blob put failed", zap.Error(err))
		return Record{}, fmt.Errorf("%w: %w", ErrBlobStoreFailure, err)
	}

	// The blob is committed; finish the remaining steps even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	stored, err := s.repo.Insert(ctx, Record{
		OwnerID:      ownerID,
		Name:         name,
		SizeBytes:    in.Size,
		Category:     category,
		Extension:    classify.Extension(name),
		ContentType:  contentType,
		BlobLocation: obj.Location,
		DownloadURL:  obj.URL,
	})
	if err != nil {
		progress.finish()
		log.Error("metadata insert failed", zap.Error(err))
		s.removeOrphan(ctx, log, ownerID, obj.Location, err)
		metrics.ObserveUpload("metadata_failure", "", 0)
		return Record{}, fmt.Errorf("%w: %w", ErrMetadataWriteFailure, err)
	}
	log = log.With(zap.String("file_id", stored.ID.String()))

	if err := s.ledger.Increment(ctx, ownerID, stored.SizeBytes, stored.Category, 1); err != nil {
		log.Warn("ledger increment failed", zap.Error(err))
		s.recordTask(ctx, log, reconcile.LedgerDrift(ownerID, stored.ID, err))
		metrics.ObserveUpload("ledger_warning", string(stored.Category), stored.SizeBytes)
		return stored, fmt.Errorf("%w: %w", ErrLedgerSyncWarning, err)
	}

	metrics.ObserveUpload("ok", string(stored.Category), stored.SizeBytes)
	log.Info("file uploaded",
		zap.String("category", string(stored.Category)),
		zap.String("size", humanize.IBytes(uint64(stored.SizeBytes))),
	)
	return stored, nil
}

// Delete removes the blob, then the record, then decrements the ledger.
func (s *Service) Delete(ctx context.Context, ownerID string, fileID uuid.UUID) error {
	rec, err := s.Get(ctx, ownerID, fileID)
	if err != nil {
		metrics.ObserveDelete(deleteResult(err))
		return err
	}

	log := s.logger.With(
		zap.String("owner_id", rec.OwnerID),
		zap.String("file_id", rec.ID.String()),
		zap.String("blob_location", rec.BlobLocation),
	)

	if err := s.ledger.BeginOp(ctx, rec.OwnerID); err != nil {
		metrics.ObserveDelete("metadata_failure")
		log.Error("ledger operation marker failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrMetadataDeleteFailure, err)
	}
	defer s.endOp(ctx, log, rec.OwnerID)

	if err := s.blobs.Delete(ctx, rec.BlobLocation); err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			metrics.ObserveDelete("blob_failure")
			log.Warn("blob delete failed", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrBlobStoreFailure, err)
		}
		log.Info("blob already absent")
	}

	// The blob is gone; finish the remaining steps even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.ObserveDelete("not_found")
			log.Info("record removed concurrently")
			return ErrNotFound
		}
		log.Error("metadata delete failed", zap.Error(err))
		s.recordTask(ctx, log, reconcile.DanglingRecord(rec.OwnerID, rec.ID, rec.BlobLocation, err))
		metrics.ObserveDelete("metadata_failure")
		return fmt.Errorf("%w: %w", ErrMetadataDeleteFailure, err)
	}

	if err := s.ledger.Increment(ctx, rec.OwnerID, -rec.SizeBytes, rec.Category, -1); err != nil {
		log.Warn("ledger decrement failed", zap.Error(err))
		s.recordTask(ctx, log, reconcile.LedgerDrift(rec.OwnerID, rec.ID, err))
		metrics.ObserveDelete("ledger_warning")
		return fmt.Errorf("%w: %w", ErrLedgerSyncWarning, err)
	}

	metrics.ObserveDelete("ok")
	log.Info("file deleted")
	return nil
}

// Get returns one of the owner's records.
func (s *Service) Get(ctx context.Context, ownerID string, fileID uuid.UUID) (Record, error) {
	rec, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return Record{}, err
	}
	if rec.OwnerID != strings.TrimSpace(ownerID) {
		return Record{}, ErrForbidden
	}
	return rec, nil
}

// ListRecent returns the owner's newest records, newest first. A nil
// category lists every category; limit defaults to 5 and is capped at 100.
func (s *Service) ListRecent(ctx context.Context, ownerID string, category *classify.Category, limit int) ([]Record, error) {
	if category != nil && !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, *category)
	}
	return s.repo.ListRecent(ctx, strings.TrimSpace(ownerID), category, clampLimit(limit))
}

// DownloadURL issues a fresh time-limited URL for one of the owner's records.
func (s *Service) DownloadURL(ctx context.Context, ownerID string, fileID uuid.UUID) (string, error) {
	rec, err := s.Get(ctx, ownerID, fileID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.URLFor(ctx, rec.BlobLocation)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBlobStoreFailure, err)
	}
	return url, nil
}

// MaxFileSize is the largest payload Upload accepts.
func (s *Service) MaxFileSize() int64 {
	return s.maxFileSize
}

// endOp releases the ledger marker taken before the first side effect. A lost
// release only delays reconciliation until the marker goes stale.
func (s *Service) endOp(ctx context.Context, log *zap.Logger, ownerID string) {
	if err := s.ledger.EndOp(context.WithoutCancel(ctx), ownerID); err != nil {
		log.Warn("ledger operation release failed", zap.Error(err))
	}
}

func (s *Service) rejectUpload(err error) error {
	metrics.ObserveUpload("invalid", "", 0)
	return err
}

// removeOrphan deletes a blob that has no record; if that fails the blob is journalled.
func (s *Service) removeOrphan(ctx context.Context, log *zap.Logger, ownerID, location string, cause error) {
	err := s.blobs.Delete(ctx, location)
	if err == nil || errors.Is(err, blob.ErrNotFound) {
		log.Info("orphan blob removed")
		return
	}
	log.Error("orphan blob cleanup failed", zap.Error(err))
	s.recordTask(ctx, log, reconcile.OrphanBlob(ownerID, location, errors.Join(cause, err)))
}

func (s *Service) recordTask(ctx context.Context, log *zap.Logger, task reconcile.Task) {
	if s.tasks == nil {
		log.Error("no reconcile journal configured, task dropped", zap.String("kind", string(task.Kind)))
		return
	}
	if err := s.tasks.Record(ctx, task); err != nil {
		log.Error("reconcile task not recorded", zap.String("kind", string(task.Kind)), zap.Error(err))
	}
}

func deleteResult(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	}
	return "error"
}

// safeName reduces a file name to characters that are safe in an object key.
func safeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		out = "upload"
	}
	if len(out) > maxKeyNameLength {
		out = out[len(out)-maxKeyNameLength:]
	}
	return out
}

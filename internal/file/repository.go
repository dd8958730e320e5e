package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nexuscloud/nexus/internal/classify"
	"github.com/nexuscloud/nexus/internal/quota"
	"github.com/nexuscloud/nexus/internal/storage"
)

const (
	repoTimeout = 5 * time.Second

	// DefaultListLimit is the page size used when none is requested.
	DefaultListLimit = 5
	// MaxListLimit caps a single ListRecent call.
	MaxListLimit = 100
)

const recordColumns = `id, owner_id, name, size_bytes, category, extension, content_type, blob_location, download_url, created_at`

// Repository provides access to file metadata storage.
type Repository struct {
	db storage.DB
}

// NewRepository builds a new file repository.
func NewRepository(db storage.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores a record and returns it with its assigned id and creation
// time. created_at never goes backwards for an owner, even across clock skew.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO files (owner_id, name, size_bytes, category, extension, content_type, blob_location, download_url, created_at)
SELECT $1::text, $2::text, $3::bigint, $4::text, $5::text, $6::text, $7::text, $8::text,
       GREATEST(clock_timestamp(), COALESCE(MAX(created_at), '-infinity'::timestamptz))
FROM files
WHERE owner_id = $1
RETURNING id, created_at;`

	err := r.db.QueryRow(ctx, query,
		rec.OwnerID,
		rec.Name,
		rec.SizeBytes,
		string(rec.Category),
		rec.Extension,
		rec.ContentType,
		rec.BlobLocation,
		rec.DownloadURL,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("insert file record: %w", err)
	}
	return rec, nil
}

// Get fetches one record by id regardless of owner.
func (r *Repository) Get(ctx context.Context, fileID uuid.UUID) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM files WHERE id = $1;`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get file record: %w", err)
	}
	return rec, nil
}

// Delete removes a record; ErrNotFound when it was already gone.
func (r *Repository) Delete(ctx context.Context, fileID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1;`, fileID)
	if err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecord is Delete reporting absence as deleted=false.
func (r *Repository) DeleteRecord(ctx context.Context, fileID uuid.UUID) (bool, error) {
	err := r.Delete(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListRecent returns the owner's newest records, optionally in one category.
func (r *Repository) ListRecent(ctx context.Context, ownerID string, category *classify.Category, limit int) ([]Record, error) {
	limit = clampLimit(limit)

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	if category == nil {
		rows, err = r.db.Query(ctx, `
SELECT `+recordColumns+`
FROM files
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`, ownerID, limit)
	} else {
		rows, err = r.db.Query(ctx, `
SELECT `+recordColumns+`
FROM files
WHERE owner_id = $1 AND category = $2
ORDER BY created_at DESC, id DESC
LIMIT $3;`, ownerID, string(*category), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return records, nil
}

// Owners lists every owner with at least one record.
func (r *Repository) Owners(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT DISTINCT owner_id FROM files ORDER BY owner_id;`)
	if err != nil {
		return nil, fmt.Errorf("list file owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan file owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file owners: %w", err)
	}
	return owners, nil
}

// UsageFor sums the owner's records per category.
func (r *Repository) UsageFor(ctx context.Context, ownerID string) (quota.Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
SELECT category, COUNT(*), COALESCE(SUM(size_bytes), 0)
FROM files
WHERE owner_id = $1
GROUP BY category;`, ownerID)
	if err != nil {
		return quota.Usage{}, fmt.Errorf("sum file records: %w", err)
	}
	defer rows.Close()

	usage := quota.NewUsage()
	for rows.Next() {
		var (
			category string
			count    int64
			bytes    int64
		)
		if err := rows.Scan(&category, &count, &bytes); err != nil {
			return quota.Usage{}, fmt.Errorf("scan file usage: %w", err)
		}
		usage.CountByCategory[classify.Category(category)] += count
		usage.StorageUsedBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return quota.Usage{}, fmt.Errorf("iterate file usage: %w", err)
	}
	return usage, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		category string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Name,
		&rec.SizeBytes,
		&category,
		&rec.Extension,
		&rec.ContentType,
		&rec.BlobLocation,
		&rec.DownloadURL,
		&rec.CreatedAt,
	); err != nil {
		return Record{}, err
	}
	rec.Category = classify.Category(category)
	return rec, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

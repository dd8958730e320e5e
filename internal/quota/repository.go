package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nexuscloud/nexus/internal/classify"
	"github.com/nexuscloud/nexus/internal/storage"
)

const repositoryTimeout = 5 * time.Second

var countColumns = map[classify.Category]string{
	classify.Image:    "image_count",
	classify.Video:    "video_count",
	classify.Audio:    "audio_count",
	classify.Document: "document_count",
	classify.Other:    "other_count",
}

// Repository persists quota ledgers.
type Repository struct {
	db storage.DB
}

// NewRepository constructs a ledger repository.
func NewRepository(db storage.DB) *Repository {
	return &Repository{db: db}
}

// BeginOp marks an upload or delete for ownerID as in progress. Reconciliation
// leaves the ledger alone until the matching EndOp.
func (r *Repository) BeginOp(ctx context.Context, ownerID string) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
INSERT INTO quota_ledgers (owner_id, pending_ops, version, updated_at)
VALUES ($1, 1, 1, NOW())
ON CONFLICT (owner_id) DO UPDATE
SET pending_ops = quota_ledgers.pending_ops + 1,
    version = quota_ledgers.version + 1,
    updated_at = NOW();`

	if _, err := r.db.Exec(ctx, query, ownerID); err != nil {
		return fmt.Errorf("begin ledger operation: %w", err)
	}
	return nil
}

// EndOp releases a marker taken by BeginOp.
func (r *Repository) EndOp(ctx context.Context, ownerID string) error {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
UPDATE quota_ledgers
SET pending_ops = GREATEST(pending_ops - 1, 0),
    version = version + 1,
    updated_at = NOW()
WHERE owner_id = $1;`

	if _, err := r.db.Exec(ctx, query, ownerID); err != nil {
		return fmt.Errorf("end ledger operation: %w", err)
	}
	return nil
}

// Increment applies deltaBytes and deltaCount for category in one statement.
// The row is created on first use and every counter is clamped at zero.
func (r *Repository) Increment(ctx context.Context, ownerID string, deltaBytes int64, category classify.Category, deltaCount int64) error {
	column, ok := countColumns[category]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
INSERT INTO quota_ledgers (owner_id, storage_used_bytes, %[1]s, version, updated_at)
VALUES ($1, GREATEST($2::bigint, 0), GREATEST($3::bigint, 0), 1, NOW())
ON CONFLICT (owner_id) DO UPDATE
SET storage_used_bytes = GREATEST(quota_ledgers.storage_used_bytes + $2::bigint, 0),
    %[1]s = GREATEST(quota_ledgers.%[1]s + $3::bigint, 0),
    version = quota_ledgers.version + 1,
    updated_at = NOW();`, column)

	if _, err := r.db.Exec(ctx, query, ownerID, deltaBytes, deltaCount); err != nil {
		return fmt.Errorf("increment ledger: %w", err)
	}
	return nil
}

// Read returns the owner's ledger, or a zero ledger with Version 0 when none exists yet.
func (r *Repository) Read(ctx context.Context, ownerID string) (Ledger, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT owner_id, storage_used_bytes, image_count, video_count, audio_count, document_count, other_count,
       pending_ops, version, updated_at
FROM quota_ledgers
WHERE owner_id = $1;`

	ledger, err := scanLedger(r.db.QueryRow(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{OwnerID: ownerID, Usage: NewUsage()}, nil
		}
		return Ledger{}, fmt.Errorf("read ledger: %w", err)
	}
	return ledger, nil
}

// Overwrite replaces the owner's ledger with usage and clears its pending
// marker, but only while the row is still at version. ok is false when
// another writer touched the row since it was read.
func (r *Repository) Overwrite(ctx context.Context, ownerID string, usage Usage, version int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	// A missing row reads as version 0; every insert starts at 1, so a row
	// created after the read fails the version check.
	query := `
INSERT INTO quota_ledgers (owner_id, storage_used_bytes, image_count, video_count, audio_count, document_count, other_count,
                           pending_ops, version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 1, NOW())
ON CONFLICT (owner_id) DO UPDATE
SET storage_used_bytes = EXCLUDED.storage_used_bytes,
    image_count = EXCLUDED.image_count,
    video_count = EXCLUDED.video_count,
    audio_count = EXCLUDED.audio_count,
    document_count = EXCLUDED.document_count,
    other_count = EXCLUDED.other_count,
    pending_ops = 0,
    version = quota_ledgers.version + 1,
    updated_at = NOW()
WHERE quota_ledgers.version = $8;`

	counts := usage.CountByCategory
	tag, err := r.db.Exec(ctx, query, ownerID, usage.StorageUsedBytes,
		counts[classify.Image], counts[classify.Video], counts[classify.Audio],
		counts[classify.Document], counts[classify.Other], version)
	if err != nil {
		return false, fmt.Errorf("overwrite ledger: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Owners lists every owner with a ledger row.
func (r *Repository) Owners(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT owner_id FROM quota_ledgers ORDER BY owner_id;`)
	if err != nil {
		return nil, fmt.Errorf("list ledger owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan ledger owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger owners: %w", err)
	}
	return owners, nil
}

// Totals sums every ledger.
func (r *Repository) Totals(ctx context.Context) (Totals, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	query := `
SELECT COUNT(*),
       COALESCE(SUM(storage_used_bytes), 0),
       COALESCE(SUM(image_count), 0),
       COALESCE(SUM(video_count), 0),
       COALESCE(SUM(audio_count), 0),
       COALESCE(SUM(document_count), 0),
       COALESCE(SUM(other_count), 0)
FROM quota_ledgers;`

	totals := Totals{Usage: NewUsage()}
	var image, video, audio, document, other int64
	err := r.db.QueryRow(ctx, query).Scan(&totals.Owners, &totals.StorageUsedBytes, &image, &video, &audio, &document, &other)
	if err != nil {
		return Totals{}, fmt.Errorf("sum ledgers: %w", err)
	}
	setCounts(totals.CountByCategory, image, video, audio, document, other)
	totals.Files = totals.Usage.Files()
	return totals, nil
}

func scanLedger(row pgx.Row) (Ledger, error) {
	ledger := Ledger{Usage: NewUsage()}
	var image, video, audio, document, other int64
	if err := row.Scan(&ledger.OwnerID, &ledger.StorageUsedBytes, &image, &video, &audio, &document, &other,
		&ledger.PendingOps, &ledger.Version, &ledger.UpdatedAt); err != nil {
		return Ledger{}, err
	}
	setCounts(ledger.CountByCategory, image, video, audio, document, other)
	return ledger, nil
}

func setCounts(counts map[classify.Category]int64, image, video, audio, document, other int64) {
	counts[classify.Image] = image
	counts[classify.Video] = video
	counts[classify.Audio] = audio
	counts[classify.Document] = document
	counts[classify.Other] = other
}

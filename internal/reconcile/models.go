// Package reconcile journals partial failures that happen after a blob or
// record has been committed, and drains them in the background.
package reconcile

import (
	"time"

	"github.com/google/uuid"
)

// Kind names the repair a task asks for.
type Kind string

const (
	// KindOrphanBlob is a stored blob with no metadata record.
	KindOrphanBlob Kind = "orphan_blob"
	// KindDanglingRecord is a metadata record whose blob was deleted.
	KindDanglingRecord Kind = "dangling_record"
	// KindLedgerDrift is an owner whose ledger update failed.
	KindLedgerDrift Kind = "ledger_drift"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindOrphanBlob, KindDanglingRecord, KindLedgerDrift:
		return true
	}
	return false
}

// Task is one journalled repair.
type Task struct {
	ID           uuid.UUID     `json:"id"`
	Kind         Kind          `json:"kind"`
	OwnerID      string        `json:"owner_id"`
	FileID       uuid.NullUUID `json:"file_id"`
	BlobLocation string        `json:"blob_location,omitempty"`
	Reason       string        `json:"reason"`
	Attempts     int           `json:"attempts"`
	LastError    string        `json:"last_error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// OrphanBlob builds a task for a blob left behind by a failed metadata write.
func OrphanBlob(ownerID, location string, cause error) Task {
	return Task{Kind: KindOrphanBlob, OwnerID: ownerID, BlobLocation: location, Reason: reason(cause)}
}

// DanglingRecord builds a task for a record whose blob is already gone.
func DanglingRecord(ownerID string, fileID uuid.UUID, location string, cause error) Task {
	return Task{
		Kind:         KindDanglingRecord,
		OwnerID:      ownerID,
		FileID:       uuid.NullUUID{UUID: fileID, Valid: true},
		BlobLocation: location,
		Reason:       reason(cause),
	}
}

// LedgerDrift builds a task for an owner whose ledger missed an update.
func LedgerDrift(ownerID string, fileID uuid.UUID, cause error) Task {
	return Task{
		Kind:    KindLedgerDrift,
		OwnerID: ownerID,
		FileID:  uuid.NullUUID{UUID: fileID, Valid: fileID != uuid.Nil},
		Reason:  reason(cause),
	}
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package file

import "errors"

var (
	// ErrInvalidInput rejects an upload before any side effect.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBlobStoreFailure means the blob store rejected a put or delete.
	ErrBlobStoreFailure = errors.New("blob store failure")
	// ErrMetadataWriteFailure means the record insert failed after the blob was stored.
	ErrMetadataWriteFailure = errors.New("metadata write failure")
	// ErrMetadataDeleteFailure means the record delete failed after the blob was removed.
	ErrMetadataDeleteFailure = errors.New("metadata delete failure")
	// ErrLedgerSyncWarning accompanies a successful operation whose ledger update failed.
	ErrLedgerSyncWarning = errors.New("ledger sync pending")
	// ErrNotFound signals that the file could not be located.
	ErrNotFound = errors.New("file not found")
	// ErrForbidden is returned when the file belongs to another owner.
	ErrForbidden = errors.New("file belongs to another owner")
)

package quota

import (
	"time"

	"github.com/nexuscloud/nexus/internal/classify"
)

// Usage is the aggregate an owner's ledger tracks.
type Usage struct {
	StorageUsedBytes int64                       `json:"storage_used_bytes"`
	CountByCategory  map[classify.Category]int64 `json:"count_by_category"`
}

// NewUsage returns a zero Usage with every category present.
func NewUsage() Usage {
	counts := make(map[classify.Category]int64, len(classify.Categories()))
	for _, c := range classify.Categories() {
		counts[c] = 0
	}
	return Usage{CountByCategory: counts}
}

// Add folds one record of the given size and category into u.
func (u *Usage) Add(size int64, category classify.Category) {
	if u.CountByCategory == nil {
		*u = NewUsage()
	}
	u.StorageUsedBytes += size
	u.CountByCategory[category]++
}

// Files is the total record count across categories.
func (u Usage) Files() int64 {
	var n int64
	for _, c := range u.CountByCategory {
		n += c
	}
	return n
}

// Equal compares byte totals and every category count; missing entries count as zero.
func (u Usage) Equal(o Usage) bool {
	if u.StorageUsedBytes != o.StorageUsedBytes {
		return false
	}
	for _, c := range classify.Categories() {
		if u.CountByCategory[c] != o.CountByCategory[c] {
			return false
		}
	}
	return true
}

// Ledger is the persisted per-owner aggregate. PendingOps counts uploads and
// deletes that have started but not yet settled their ledger update; Version
// changes on every write to the row.
type Ledger struct {
	OwnerID string `json:"owner_id"`
	Usage
	PendingOps int64     `json:"pending_ops"`
	Version    int64     `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Totals aggregates every ledger.
type Totals struct {
	Owners int64 `json:"owners"`
	Files  int64 `json:"files"`
	Usage
}

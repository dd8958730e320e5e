package quota

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
)

type ledgerReader interface {
	Read(ctx context.Context, ownerID string) (Ledger, error)
	Totals(ctx context.Context) (Totals, error)
}

type sweeper interface {
	Sweep(ctx context.Context) (Report, error)
}

// Summary is an owner's ledger with a display-friendly size.
type Summary struct {
	Ledger
	StorageUsed string `json:"storage_used"`
}

// Overview is the admin view across all owners.
type Overview struct {
	Totals
	StorageUsed string `json:"storage_used"`
}

// Service exposes ledger reads and on-demand reconciliation.
type Service struct {
	ledgers ledgerReader
	sweeper sweeper
}

// NewService wires the ledger reader and reconciler.
func NewService(ledgers ledgerReader, sweeper sweeper) *Service {
	return &Service{ledgers: ledgers, sweeper: sweeper}
}

// Get returns the owner's ledger; a zero ledger when the owner has never uploaded.
func (s *Service) Get(ctx context.Context, ownerID string) (Summary, error) {
	ledger, err := s.ledgers.Read(ctx, strings.TrimSpace(ownerID))
	if err != nil {
		return Summary{}, err
	}
	return Summary{Ledger: ledger, StorageUsed: humanize.IBytes(uint64(ledger.StorageUsedBytes))}, nil
}

// Overview totals every ledger.
func (s *Service) Overview(ctx context.Context) (Overview, error) {
	totals, err := s.ledgers.Totals(ctx)
	if err != nil {
		return Overview{}, err
	}
	return Overview{Totals: totals, StorageUsed: humanize.IBytes(uint64(totals.StorageUsedBytes))}, nil
}

// Reconcile runs a sweep now.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	return s.sweeper.Sweep(ctx)
}

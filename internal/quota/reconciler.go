package quota

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexuscloud/nexus/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of reconciling one owner.
type Outcome string

const (
	OutcomeCorrected Outcome = "corrected"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// RecordIndex recomputes usage from the metadata records, the source of truth.
type RecordIndex interface {
	Owners(ctx context.Context) ([]string, error)
	UsageFor(ctx context.Context, ownerID string) (Usage, error)
}

type ledgerStore interface {
	Read(ctx context.Context, ownerID string) (Ledger, error)
	Overwrite(ctx context.Context, ownerID string, usage Usage, version int64) (bool, error)
	Owners(ctx context.Context) ([]string, error)
}

// Report summarizes one sweep.
type Report struct {
	Owners     int       `json:"owners"`
	Corrected  int       `json:"corrected"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *Report) add(o Outcome) {
	switch o {
	case OutcomeCorrected:
		r.Corrected++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// DefaultPendingTimeout is how long a pending marker blocks reconciliation
// when nothing else touches the ledger row.
const DefaultPendingTimeout = time.Hour

// Reconciler recomputes ledgers from the record index. It coordinates with
// live traffic through the ledger row itself, so any number of reconcilers
// may run beside any number of API processes.
type Reconciler struct {
	ledgers        ledgerStore
	index          RecordIndex
	concurrency    int
	pendingTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewReconciler constructs a Reconciler. concurrency below 1 is treated as 1;
// a non-positive pendingTimeout uses DefaultPendingTimeout.
func NewReconciler(ledgers ledgerStore, index RecordIndex, concurrency int, pendingTimeout time.Duration, logger *zap.Logger) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	if pendingTimeout <= 0 {
		pendingTimeout = DefaultPendingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		ledgers:        ledgers,
		index:          index,
		concurrency:    concurrency,
		pendingTimeout: pendingTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// ReconcileOwner overwrites the owner's ledger with the sum of its records
// when they differ. The ledger is read before the records and the overwrite
// only applies if the row is unchanged since then, so an upload or delete
// that starts or settles in between turns the pass into OutcomeSkipped.
// Owners with an operation in progress are skipped unless the marker is
// older than the pending timeout.
func (r *Reconciler) ReconcileOwner(ctx context.Context, ownerID string) (Outcome, error) {
	ledger, err := r.ledgers.Read(ctx, ownerID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read ledger for %s: %w", ownerID, err)
	}

	if ledger.PendingOps > 0 {
		idle := r.now().Sub(ledger.UpdatedAt)
		if idle < r.pendingTimeout {
			return OutcomeSkipped, nil
		}
		r.logger.Warn("clearing stale pending ledger operations",
			zap.String("owner_id", ownerID),
			zap.Int64("pending_ops", ledger.PendingOps),
			zap.Duration("idle", idle),
		)
	}

	actual, err := r.index.UsageFor(ctx, ownerID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("recompute usage for %s: %w", ownerID, err)
	}

	if ledger.PendingOps == 0 && ledger.Usage.Equal(actual) {
		return OutcomeUnchanged, nil
	}

	applied, err := r.ledgers.Overwrite(ctx, ownerID, actual, ledger.Version)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("overwrite ledger for %s: %w", ownerID, err)
	}
	if !applied {
		r.logger.Debug("ledger changed during reconcile", zap.String("owner_id", ownerID))
		return OutcomeSkipped, nil
	}

	r.logger.Info("ledger corrected",
		zap.String("owner_id", ownerID),
		zap.Int64("previous_bytes", ledger.StorageUsedBytes),
		zap.Int64("actual_bytes", actual.StorageUsedBytes),
		zap.Int64("previous_files", ledger.Files()),
		zap.Int64("actual_files", actual.Files()),
	)
	return OutcomeCorrected, nil
}

// Sweep reconciles every owner known to either the ledger or the index.
// Per-owner failures are counted in the report; only listing failures and
// cancellation are returned as errors.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	report := Report{StartedAt: time.Now().UTC()}

	owners, err := r.owners(ctx)
	if err != nil {
		return report, err
	}
	report.Owners = len(owners)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, owner := range owners {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, err := r.ReconcileOwner(gctx, owner)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("reconcile owner failed", zap.String("owner_id", owner), zap.Error(err))
			}
			metrics.ObserveReconcile(string(outcome))

			mu.Lock()
			report.add(outcome)
			mu.Unlock()
			return nil
		})
	}

	waitErr := g.Wait()
	report.FinishedAt = time.Now().UTC()
	if waitErr != nil {
		return report, fmt.Errorf("sweep interrupted: %w", waitErr)
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("sweep interrupted: %w", err)
	}

	r.logger.Info("ledger sweep finished",
		zap.Int("owners", report.Owners),
		zap.Int("corrected", report.Corrected),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (r *Reconciler) owners(ctx context.Context) ([]string, error) {
	fromLedger, err := r.ledgers.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger owners: %w", err)
	}
	fromIndex, err := r.index.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("list record owners: %w", err)
	}

	seen := make(map[string]struct{}, len(fromLedger)+len(fromIndex))
	owners := make([]string, 0, len(fromLedger)+len(fromIndex))
	for _, list := range [][]string{fromLedger, fromIndex} {
		for _, owner := range list {
			if _, ok := seen[owner]; ok {
				continue
			}
			seen[owner] = struct{}{}
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

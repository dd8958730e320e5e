package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/nexuscloud/nexus/internal/blob"
	"github.com/nexuscloud/nexus/internal/metrics"
	"github.com/nexuscloud/nexus/internal/quota"
	"go.uber.org/zap"
)

// LedgerReconciler is satisfied by *quota.Reconciler.
type LedgerReconciler interface {
	Sweep(ctx context.Context) (quota.Report, error)
	ReconcileOwner(ctx context.Context, ownerID string) (quota.Outcome, error)
}

// RecordDeleter removes a metadata record by id; deleted is false when it was already gone.
type RecordDeleter interface {
	DeleteRecord(ctx context.Context, id uuid.UUID) (deleted bool, err error)
}

// BlobDeleter removes a blob; blob.ErrNotFound counts as done.
type BlobDeleter interface {
	Delete(ctx context.Context, location string) error
}

type taskStore interface {
	Pending(ctx context.Context, limit int) ([]Task, error)
	Resolve(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, cause error) error
}

// DrainReport counts task outcomes for one drain.
type DrainReport struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

// Pass is the result of one worker iteration.
type Pass struct {
	Sweep quota.Report `json:"sweep"`
	Tasks DrainReport  `json:"tasks"`
}

// WorkerConfig tunes the worker.
type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Worker periodically sweeps ledgers and drains the task journal.
type Worker struct {
	ledgers LedgerReconciler
	tasks   taskStore
	blobs   BlobDeleter
	records RecordDeleter
	cfg     WorkerConfig
	logger  *zap.Logger
	backoff *backoff.Backoff
}

// NewWorker constructs a Worker.
func NewWorker(ledgers LedgerReconciler, tasks taskStore, blobs BlobDeleter, records RecordDeleter, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		ledgers: ledgers,
		tasks:   tasks,
		blobs:   blobs,
		records: records,
		cfg:     cfg,
		logger:  logger,
		backoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    cfg.Interval,
			Factor: 2,
			Jitter: true,
		},
	}
}

// Run executes passes until ctx is done. A failing pass retries sooner with
// exponential backoff capped at the interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("reconcile worker started", zap.Duration("interval", w.cfg.Interval))
	defer w.logger.Info("reconcile worker stopped")

	for {
		delay := w.cfg.Interval
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay = w.backoff.Duration()
			w.logger.Warn("reconcile pass failed", zap.Error(err), zap.Duration("retry_in", delay))
		} else {
			w.backoff.Reset()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce sweeps every ledger, then drains pending tasks.
func (w *Worker) RunOnce(ctx context.Context) (Pass, error) {
	var pass Pass

	report, err := w.ledgers.Sweep(ctx)
	pass.Sweep = report
	if err != nil {
		return pass, fmt.Errorf("sweep: %w", err)
	}

	drained, err := w.DrainTasks(ctx)
	pass.Tasks = drained
	if err != nil {
		return pass, err
	}
	if drained.Failed > 0 || report.Failed > 0 {
		return pass, fmt.Errorf("%w: %d owners and %d tasks failed", ErrPassIncomplete, report.Failed, drained.Failed)
	}
	return pass, nil
}

// DrainTasks attempts one batch of pending tasks.
func (w *Worker) DrainTasks(ctx context.Context) (DrainReport, error) {
	var report DrainReport

	pending, err := w.tasks.Pending(ctx, w.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list pending tasks: %w", err)
	}

	for _, task := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		done, err := w.apply(ctx, task)
		switch {
		case err != nil:
			report.Failed++
			metrics.ObserveTask(string(task.Kind), "failed")
			w.logger.Warn("reconcile task failed",
				zap.String("task_id", task.ID.String()),
				zap.String("kind", string(task.Kind)),
				zap.Int("attempts", task.Attempts+1),
				zap.Error(err),
			)
			if ferr := w.tasks.Fail(ctx, task.ID, err); ferr != nil {
				w.logger.Error("record task failure", zap.String("task_id", task.ID.String()), zap.Error(ferr))
			}
		case !done:
			report.Deferred++
		default:
			if rerr := w.tasks.Resolve(ctx, task.ID); rerr != nil && !errors.Is(rerr, ErrTaskNotFound) {
				report.Failed++
				w.logger.Error("resolve task", zap.String("task_id", task.ID.String()), zap.Error(rerr))
				continue
			}
			report.Resolved++
			metrics.ObserveTask(string(task.Kind), "resolved")
		}
	}
	return report, nil
}

// apply performs the repair. done is false when the task must wait for a later pass.
func (w *Worker) apply(ctx context.Context, task Task) (done bool, err error) {
	switch task.Kind {
	case KindOrphanBlob:
		if err := w.blobs.Delete(ctx, task.BlobLocation); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return false, fmt.Errorf("delete orphan blob %s: %w", task.BlobLocation, err)
		}
		return true, nil

	case KindDanglingRecord:
		if !task.FileID.Valid {
			return false, fmt.Errorf("%w: dangling record without file id", ErrInvalidTask)
		}
		if _, err := w.records.DeleteRecord(ctx, task.FileID.UUID); err != nil {
			return false, fmt.Errorf("delete dangling record %s: %w", task.FileID.UUID, err)
		}
		return w.reconcileOwner(ctx, task.OwnerID)

	case KindLedgerDrift:
		return w.reconcileOwner(ctx, task.OwnerID)
	}
	return false, fmt.Errorf("%w: kind %q", ErrInvalidTask, task.Kind)
}

func (w *Worker) reconcileOwner(ctx context.Context, ownerID string) (bool, error) {
	outcome, err := w.ledgers.ReconcileOwner(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return outcome != quota.OutcomeSkipped, nil
}

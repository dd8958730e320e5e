package reconcile

import (
	"context"

	"github.com/google/uuid"
	"github.com/nexuscloud/nexus/internal/metrics"
	"go.uber.org/zap"
)

type taskJournal interface {
	Create(ctx context.Context, task Task) (Task, error)
}

// Sink receives every journalled task; *Publisher satisfies it.
type Sink interface {
	Enqueue(task Task)
}

// Recorder logs, journals and optionally publishes reconcile tasks.
type Recorder struct {
	journal taskJournal
	sink    Sink
	logger  *zap.Logger
}

// NewRecorder constructs a Recorder. sink may be nil.
func NewRecorder(journal taskJournal, sink Sink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{journal: journal, sink: sink, logger: logger}
}

// Record journals task. The task is logged even when the journal write
// fails so the repair is never silently lost.
func (r *Recorder) Record(ctx context.Context, task Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}

	fields := []zap.Field{
		zap.String("task_id", task.ID.String()),
		zap.String("kind", string(task.Kind)),
		zap.String("owner_id", task.OwnerID),
		zap.String("blob_location", task.BlobLocation),
		zap.String("reason", task.Reason),
	}
	if task.FileID.Valid {
		fields = append(fields, zap.String("file_id", task.FileID.UUID.String()))
	}

	stored, err := r.journal.Create(ctx, task)
	if err != nil {
		r.logger.Error("reconcile task not journalled", append(fields, zap.Error(err))...)
		metrics.ObserveTask(string(task.Kind), "unjournalled")
		return err
	}

	r.logger.Warn("reconcile task recorded", fields...)
	metrics.ObserveTask(string(task.Kind), "recorded")
	if r.sink != nil {
		r.sink.Enqueue(stored)
	}
	return nil
}

package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscloud/nexus/internal/blob"
	"github.com/nexuscloud/nexus/internal/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeLedgers struct {
	sweeps     atomic.Int64
	sweepErr   error
	outcomes   map[string]quota.Outcome
	reconciled []string
	mu         sync.Mutex
}

func (f *fakeLedgers) Sweep(context.Context) (quota.Report, error) {
	f.sweeps.Add(1)
	return quota.Report{}, f.sweepErr
}

func (f *fakeLedgers) ReconcileOwner(_ context.Context, owner string) (quota.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, owner)
	if o, ok := f.outcomes[owner]; ok {
		return o, nil
	}
	return quota.OutcomeCorrected, nil
}

type fakeTasks struct {
	mu       sync.Mutex
	pending  []Task
	resolved []uuid.UUID
	failed   map[uuid.UUID]int
}

func newFakeTasks(tasks ...Task) *fakeTasks {
	for i := range tasks {
		tasks[i].ID = uuid.New()
	}
	return &fakeTasks{pending: tasks, failed: map[uuid.UUID]int{}}
}

func (f *fakeTasks) Pending(_ context.Context, limit int) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Task
	for _, task := range f.pending {
		if len(out) == limit {
			break
		}
		out = append(out, task)
	}
	return out, nil
}

func (f *fakeTasks) Resolve(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, task := range f.pending {
		if task.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			f.resolved = append(f.resolved, id)
			return nil
		}
	}
	return ErrTaskNotFound
}

func (f *fakeTasks) Fail(_ context.Context, id uuid.UUID, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id]++
	return nil
}

type fakeBlobs struct {
	errs    map[string]error
	deleted []string
}

func (f *fakeBlobs) Delete(_ context.Context, location string) error {
	if err := f.errs[location]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, location)
	return nil
}

type fakeRecords struct {
	deleted []uuid.UUID
}

func (f *fakeRecords) DeleteRecord(_ context.Context, id uuid.UUID) (bool, error) {
	f.deleted = append(f.deleted, id)
	return true, nil
}

func TestDrainTasksResolvesEachKind(t *testing.T) {
	fileID := uuid.New()
	tasks := newFakeTasks(
		OrphanBlob("u1", "users/u1/image/a.png", nil),
		OrphanBlob("u1", "users/u1/image/gone.png", nil),
		DanglingRecord("u2", fileID, "users/u2/other/b.bin", nil),
		LedgerDrift("u3", uuid.Nil, nil),
	)
	blobs := &fakeBlobs{errs: map[string]error{"users/u1/image/gone.png": blob.ErrNotFound}}
	records := &fakeRecords{}
	ledgers := &fakeLedgers{}

	w := NewWorker(ledgers, tasks, blobs, records, WorkerConfig{}, nil)
	report, err := w.DrainTasks(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Resolved: 4}, report)
	assert.Equal(t, []string{"users/u1/image/a.png"}, blobs.deleted)
	assert.Equal(t, []uuid.UUID{fileID}, records.deleted)
	assert.ElementsMatch(t, []string{"u2", "u3"}, ledgers.reconciled)
	assert.Empty(t, tasks.pending)
}

func TestDrainTasksDefersBusyOwnerAndCountsFailures(t *testing.T) {
	tasks := newFakeTasks(
		LedgerDrift("busy", uuid.Nil, nil),
		OrphanBlob("u1", "users/u1/video/v.mp4", nil),
	)
	blobs := &fakeBlobs{errs: map[string]error{"users/u1/video/v.mp4": errors.New("blob store down")}}
	ledgers := &fakeLedgers{outcomes: map[string]quota.Outcome{"busy": quota.OutcomeSkipped}}

	w := NewWorker(ledgers, tasks, blobs, &fakeRecords{}, WorkerConfig{}, nil)
	report, err := w.DrainTasks(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Failed: 1, Deferred: 1}, report)
	assert.Len(t, tasks.pending, 2)
	assert.Equal(t, 1, tasks.failed[tasks.pending[1].ID])

	_, err = w.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrPassIncomplete)
}

func TestWorkerRunLoopsUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledgers := &fakeLedgers{}
	w := NewWorker(ledgers, newFakeTasks(), &fakeBlobs{}, &fakeRecords{}, WorkerConfig{Interval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return ledgers.sweeps.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}
}

func TestWorkerRunBacksOffAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledgers := &fakeLedgers{sweepErr: errors.New("index unavailable")}
	w := NewWorker(ledgers, newFakeTasks(), &fakeBlobs{}, &fakeRecords{}, WorkerConfig{Interval: time.Hour}, nil)
	w.backoff.Min = time.Millisecond
	w.backoff.Max = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return ledgers.sweeps.Load() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

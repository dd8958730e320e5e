package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscloud/nexus/internal/blob"
	"github.com/nexuscloud/nexus/internal/classify"
	"github.com/nexuscloud/nexus/internal/quota"
	"github.com/nexuscloud/nexus/internal/reconcile"
)

// --- metadata index ---

type fakeIndex struct {
	mu        sync.Mutex
	records   map[uuid.UUID]Record
	last      time.Time
	insertErr error
	deleteErr error
	insertCtx error
	lastLimit int

	// vanish makes Delete report the record as already removed.
	vanish bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: make(map[uuid.UUID]Record)}
}

func (f *fakeIndex) Insert(ctx context.Context, rec Record) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCtx = ctx.Err()
	if f.insertErr != nil {
		return Record{}, f.insertErr
	}
	now := time.Now()
	if now.Before(f.last) {
		now = f.last
	}
	f.last = now
	rec.ID = uuid.New()
	rec.CreatedAt = now
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeIndex) Get(_ context.Context, id uuid.UUID) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeIndex) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.vanish {
		delete(f.records, id)
		return ErrNotFound
	}
	if _, ok := f.records[id]; !ok {
		return ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeIndex) ListRecent(_ context.Context, ownerID string, category *classify.Category, limit int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	var out []Record
	for _, rec := range f.records {
		if rec.OwnerID != ownerID || (category != nil && rec.Category != *category) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// usage recomputes the owner's usage from the live records.
func (f *fakeIndex) usage(ownerID string) quota.Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := quota.NewUsage()
	for _, rec := range f.records {
		if rec.OwnerID == ownerID {
			u.Add(rec.SizeBytes, rec.Category)
		}
	}
	return u
}

func (f *fakeIndex) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// --- ledger ---

type fakeLedger struct {
	mu       sync.Mutex
	usage    map[string]quota.Usage
	err      error
	calls    int
	open     map[string]int
	begins   int
	beginErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{usage: make(map[string]quota.Usage), open: make(map[string]int)}
}

func (f *fakeLedger) BeginOp(_ context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.begins++
	f.open[ownerID]++
	return nil
}

func (f *fakeLedger) EndOp(_ context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[ownerID] = max(f.open[ownerID]-1, 0)
	return nil
}

// pending reports operations begun but not yet ended, across every owner.
func (f *fakeLedger) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, open := range f.open {
		n += open
	}
	return n
}

func (f *fakeLedger) Increment(_ context.Context, ownerID string, deltaBytes int64, category classify.Category, deltaCount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	u, ok := f.usage[ownerID]
	if !ok {
		u = quota.NewUsage()
	}
	u.StorageUsedBytes = max(u.StorageUsedBytes+deltaBytes, 0)
	u.CountByCategory[category] = max(u.CountByCategory[category]+deltaCount, 0)
	f.usage[ownerID] = u
	return nil
}

func (f *fakeLedger) get(ownerID string) quota.Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.usage[ownerID]; ok {
		return u
	}
	return quota.NewUsage()
}

// --- blob store ---

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	urlErr    error
	deletes   int

	// commitThenFail stores the object and then returns putErr.
	commitThenFail bool

	// beforeCommit runs inside Put before the object is stored.
	beforeCommit  func(ctx context.Context) error
	progressSteps []int64
	progress      blob.ProgressFunc
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Put(ctx context.Context, in blob.PutInput) (blob.Object, error) {
	if f.beforeCommit != nil {
		if err := f.beforeCommit(ctx); err != nil {
			return blob.Object{}, err
		}
	}
	if f.putErr != nil && !f.commitThenFail {
		return blob.Object{}, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return blob.Object{}, err
	}

	f.mu.Lock()
	f.progress = in.Progress
	f.objects[in.Key] = data
	f.mu.Unlock()

	if in.Progress != nil {
		for _, step := range f.progressSteps {
			in.Progress(step, in.Size)
		}
	}

	obj := blob.Object{Location: in.Key, URL: "https://blobs.example/" + in.Key, Size: int64(len(data))}
	if f.commitThenFail {
		return blob.Object{Location: in.Key, Size: obj.Size}, f.putErr
	}
	return obj, nil
}

func (f *fakeBlobs) Delete(_ context.Context, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.objects[location]; !ok {
		return blob.ErrNotFound
	}
	delete(f.objects, location)
	return nil
}

func (f *fakeBlobs) URLFor(_ context.Context, location string) (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return "https://blobs.example/" + location + "?fresh=1", nil
}

func (f *fakeBlobs) has(location string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[location]
	return ok
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// --- task journal ---

type fakeTasks struct {
	mu    sync.Mutex
	tasks []reconcile.Task
}

func (f *fakeTasks) Record(_ context.Context, task reconcile.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeTasks) kinds() []reconcile.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kinds []reconcile.Kind
	for _, t := range f.tasks {
		kinds = append(kinds, t.Kind)
	}
	return kinds
}

type harness struct {
	index  *fakeIndex
	ledger *fakeLedger
	blobs  *fakeBlobs
	tasks  *fakeTasks
	svc    *Service
}

func newHarness() *harness {
	h := &harness{
		index:  newFakeIndex(),
		ledger: newFakeLedger(),
		blobs:  newFakeBlobs(),
		tasks:  &fakeTasks{},
	}
	h.svc = NewService(h.index, h.ledger, h.blobs, h.tasks, Options{
		MaxFileSize: 1 << 20,
	})
	return h
}

func payload(size int) *bytes.Reader {
	return bytes.NewReader(bytes.Repeat([]byte("x"), size))
}

func upload(owner, name, contentType string, size int) UploadInput {
	return UploadInput{OwnerID: owner, Name: name, ContentType: contentType, Size: int64(size), Body: payload(size)}
}

var errBoom = errors.New("boom")

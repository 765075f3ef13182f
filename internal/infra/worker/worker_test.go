package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/domain/ports/adapter"
	red "idea-explorer/internal/infra/redis"
	"idea-explorer/internal/infra/step"
	"idea-explorer/internal/infra/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLocker struct {
	mu       sync.Mutex
	held     map[string]string
	unlocked []string
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]string{}} }

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", red.ErrLeaseHeld
	}
	l.held[key] = "tok-" + key
	return l.held[key], nil
}

func (l *memLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.unlocked = append(l.unlocked, key)
	}
	return nil
}

func (l *memLocker) Extend(_ context.Context, key, token string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return red.ErrLeaseHeld
	}
	return nil
}

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (r *recordingRunner) Run(_ context.Context, jobID string, _ adapter.ContentStore, _ *step.Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, jobID)
	return r.err
}

func newProcessor(locker red.Locker, runner worker.Runner) *worker.JobProcessor {
	logger := zerolog.Nop()
	stores := worker.StoreFactoryFunc(func(string) (adapter.ContentStore, error) { return nil, nil })
	return worker.NewJobProcessor(worker.NewPool(1, &logger), runner, stores, step.NewMemoryCheckpoints(), locker, time.Minute, &logger)
}

func TestProcess_HoldsAndReleasesLease(t *testing.T) {
	locker := newMemLocker()
	runner := &recordingRunner{}
	p := newProcessor(locker, runner)

	require.NoError(t, p.Process(context.Background(), "job-1"))
	assert.Equal(t, []string{"job-1"}, runner.runs)
	assert.Equal(t, []string{red.JobLeaseKey("job-1")}, locker.unlocked)
	assert.Empty(t, locker.held)
}

func TestProcess_SkipsWhenLeaseHeld(t *testing.T) {
	locker := newMemLocker()
	_, err := locker.TryLock(context.Background(), red.JobLeaseKey("job-1"), time.Minute)
	require.NoError(t, err)
	runner := &recordingRunner{}

	require.NoError(t, newProcessor(locker, runner).Process(context.Background(), "job-1"))
	assert.Empty(t, runner.runs)
}

func TestProcess_ReturnsRunError(t *testing.T) {
	locker := newMemLocker()
	runner := &recordingRunner{err: errors.New("step generate: boom")}

	err := newProcessor(locker, runner).Process(context.Background(), "job-2")
	assert.EqualError(t, err, "step generate: boom")
	assert.Empty(t, locker.held)
}

func TestPool_RunsSubmittedTasks(t *testing.T) {
	logger := zerolog.Nop()
	pool := worker.NewPool(2, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.Submit(func(context.Context) error {
			defer wg.Done()
			return nil
		}))
	}
	wg.Wait()
	pool.Stop()
	pool.Stop()
}

func TestPool_FullQueue(t *testing.T) {
	logger := zerolog.Nop()
	pool := worker.NewPool(1, &logger) // not started: capacity 4
	task := func(context.Context) error { return nil }
	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(task))
	}
	assert.ErrorIs(t, pool.Submit(task), worker.ErrQueueFull)
	assert.Error(t, pool.Submit(nil))
}

type listRepo struct {
	jobs []*model.Job
}

func (r *listRepo) Create(context.Context, model.JobRequest) (*model.Job, error) { return nil, nil }
func (r *listRepo) Get(context.Context, string) (*model.Job, error)              { return nil, nil }
func (r *listRepo) Update(context.Context, string, model.JobPatch, *model.Job) (*model.Job, error) {
	return nil, nil
}

func (r *listRepo) List(_ context.Context, f model.JobFilter, limit, offset int) (*model.JobPage, error) {
	var match []*model.Job
	for _, j := range r.jobs {
		if f.Match(j.Projection()) {
			match = append(match, j)
		}
	}
	page := &model.JobPage{Total: len(match)}
	if offset < len(match) {
		end := offset + limit
		if end > len(match) {
			end = len(match)
		}
		page.Jobs = match[offset:end]
	}
	return page, nil
}

type recordingDispatcher struct{ ids []string }

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) error {
	d.ids = append(d.ids, id)
	return nil
}

func TestRecovery_RedispatchesStaleUnnotifiedJobs(t *testing.T) {
	now := time.Now()
	old := now.Add(-10 * time.Minute)
	notified := old
	repo := &listRepo{jobs: []*model.Job{
		{ID: "stale-pending", Status: model.JobStatusPending, UpdatedAt: old},
		{ID: "fresh-running", Status: model.JobStatusRunning, UpdatedAt: now},
		{ID: "stale-running", Status: model.JobStatusRunning, UpdatedAt: old},
		{ID: "failed-unnotified", Status: model.JobStatusFailed, UpdatedAt: old},
		{ID: "done", Status: model.JobStatusCompleted, UpdatedAt: old, NotifiedAt: &notified},
	}}
	d := &recordingDispatcher{}
	logger := zerolog.Nop()
	w := worker.NewRecoveryWorker(time.Minute, 2*time.Minute, repo, d, &logger)

	assert.Equal(t, 3, w.RunOnce(context.Background()))
	assert.ElementsMatch(t, []string{"stale-pending", "stale-running", "failed-unnotified"}, d.ids)
}

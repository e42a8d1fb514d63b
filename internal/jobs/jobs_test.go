// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/ingestion/internal/models"
	"github.com/spendlens/ingestion/internal/retry"
)

// --- In-memory job records with the same transition rules as Store ---

type memRecords struct {
	mu   sync.Mutex
	jobs map[string]*models.IngestionJob
	seq  int
}

func newMemRecords() *memRecords {
	return &memRecords{jobs: make(map[string]*models.IngestionJob)}
}

func (m *memRecords) Create(_ context.Context, userID, dateRange string) (*models.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	job := &models.IngestionJob{ID: fmt.Sprintf("job-%d", m.seq), UserID: userID, DateRange: dateRange, State: models.JobQueued}
	m.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (m *memRecords) Get(_ context.Context, id string) (*models.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memRecords) move(id string, to models.JobState, apply func(*models.IngestionJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if !job.State.CanTransition(to) {
		return ErrIllegalTransition
	}
	job.State = to
	if apply != nil {
		apply(job)
	}
	return nil
}

func (m *memRecords) SetActive(_ context.Context, id string) error {
	return m.move(id, models.JobActive, nil)
}

func (m *memRecords) SetProgress(_ context.Context, id string, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.ErrNotFound
	}
	if job.State.Terminal() {
		return nil
	}
	job.Progress = max(job.Progress, min(pct, maxRunningProgress))
	return nil
}

func (m *memRecords) SetResult(_ context.Context, id string, result *models.JobResult) error {
	return m.move(id, models.JobCompleted, func(j *models.IngestionJob) {
		j.Progress = 100
		j.Result = result
	})
}

func (m *memRecords) SetFailed(_ context.Context, id string, reason string) error {
	return m.move(id, models.JobFailed, func(j *models.IngestionJob) { j.Error = reason })
}

func (m *memRecords) IncrAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return 0, models.ErrNotFound
	}
	job.Attempts++
	return job.Attempts, nil
}

// --- Channel-backed task queue ---

type chanTasks struct {
	ch      chan string
	pushErr error
}

func newChanTasks() *chanTasks { return &chanTasks{ch: make(chan string, 16)} }

func (c *chanTasks) Push(_ context.Context, id string) error {
	if c.pushErr != nil {
		return c.pushErr
	}
	c.ch <- id
	return nil
}

func (c *chanTasks) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case id := <-c.ch:
		return id, nil
	case <-time.After(timeout):
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func fastRetry() retry.Config {
	return retry.Config{Attempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}
}

// --- Dispatcher ---

func TestDispatcher_Submit(t *testing.T) {
	ctx := context.Background()
	records, tasks := newMemRecords(), newChanTasks()
	d := NewDispatcher(records, tasks)

	job, err := d.Submit(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.State)
	assert.Equal(t, models.DefaultDateRange, job.DateRange)
	assert.Equal(t, job.ID, <-tasks.ch)

	_, err = d.Submit(ctx, "", "thisMonth")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = d.Submit(ctx, "u1", "forever")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispatcher_SubmitFailsJobWhenQueueDown(t *testing.T) {
	records, tasks := newMemRecords(), newChanTasks()
	tasks.pushErr = errors.New("redis down")
	d := NewDispatcher(records, tasks)

	_, err := d.Submit(context.Background(), "u1", "allTime")
	require.Error(t, err)

	job, err := records.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
}

func TestDispatcher_PollHidesResultUnlessCompleted(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	d := NewDispatcher(records, newChanTasks())

	job, err := records.Create(ctx, "u1", "thisMonth")
	require.NoError(t, err)
	records.jobs[job.ID].Result = &models.JobResult{Persisted: 1}

	got, err := d.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Result)

	_, err = d.Poll(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// --- Worker ---

func TestWorker_ProcessCompletes(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	job, _ := records.Create(ctx, "u1", "thisMonth")

	w := NewWorker(WorkerConfig{
		Records: records,
		Tasks:   newChanTasks(),
		Retry:   fastRetry(),
		Handler: func(ctx context.Context, j *models.IngestionJob) (*models.JobResult, error) {
			assert.Equal(t, models.JobActive, j.State)
			require.NoError(t, records.SetProgress(ctx, j.ID, 50))
			return &models.JobResult{TotalCandidates: 2, Persisted: 1}, nil
		},
	})
	w.Process(ctx, job.ID)

	got, err := records.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.State)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, got.Result.Persisted)
}

func TestWorker_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	job, _ := records.Create(ctx, "u1", "thisMonth")

	calls := 0
	w := NewWorker(WorkerConfig{
		Records: records,
		Tasks:   newChanTasks(),
		Retry:   fastRetry(),
		Handler: func(ctx context.Context, j *models.IngestionJob) (*models.JobResult, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("gmail unavailable")
			}
			return &models.JobResult{}, nil
		},
	})
	w.Process(ctx, job.ID)

	got, _ := records.Get(ctx, job.ID)
	assert.Equal(t, models.JobCompleted, got.State)
	assert.Equal(t, 3, got.Attempts)
}

func TestWorker_FailsAfterExhaustingAttempts(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	job, _ := records.Create(ctx, "u1", "thisMonth")

	w := NewWorker(WorkerConfig{
		Records: records,
		Tasks:   newChanTasks(),
		Retry:   fastRetry(),
		Handler: func(ctx context.Context, j *models.IngestionJob) (*models.JobResult, error) {
			_ = records.SetProgress(ctx, j.ID, 100)
			return nil, errors.New("store unavailable")
		},
	})
	w.Process(ctx, job.ID)

	got, _ := records.Get(ctx, job.ID)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "store unavailable", got.Error)
	assert.Less(t, got.Progress, 100, "a failed job never reports 100")
	assert.Nil(t, got.Result)
}

func TestWorker_UnauthorizedIsNotRetried(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	job, _ := records.Create(ctx, "u1", "thisMonth")

	calls := 0
	w := NewWorker(WorkerConfig{
		Records: records,
		Tasks:   newChanTasks(),
		Retry:   fastRetry(),
		Handler: func(ctx context.Context, j *models.IngestionJob) (*models.JobResult, error) {
			calls++
			return nil, fmt.Errorf("list messages: %w", models.ErrUnauthorized)
		},
	})
	w.Process(ctx, job.ID)

	got, _ := records.Get(ctx, job.ID)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, 1, calls)
}

func TestWorker_IgnoresTerminalRedelivery(t *testing.T) {
	ctx := context.Background()
	records := newMemRecords()
	job, _ := records.Create(ctx, "u1", "thisMonth")
	require.NoError(t, records.SetActive(ctx, job.ID))
	require.NoError(t, records.SetResult(ctx, job.ID, &models.JobResult{}))

	w := NewWorker(WorkerConfig{
		Records: records,
		Tasks:   newChanTasks(),
		Handler: func(ctx context.Context, j *models.IngestionJob) (*models.JobResult, error) {
			t.Fatal("handler must not run for a finished job")
			return nil, nil
		},
	})
	w.Process(ctx, job.ID)
	w.Process(ctx, "unknown")
}

func TestWorker_InterruptedWithoutQueueFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	records := newMemRecords()
	job, _ := records.Create(ctx, "u1", "thisMonth")

	w := NewWorker(WorkerConfig{
		Records: records,
		Retry:   fastRetry(),
		Handler: func(ctx context.Context, j *models.IngestionJob) (*models.JobResult, error) {
			require.NoError(t, records.SetProgress(ctx, j.ID, 50))
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	w.Process(ctx, job.ID)

	got, err := records.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, "interrupted", got.Error)
	assert.Less(t, got.Progress, 100)
}

func TestWorker_InterruptedWithQueueIsRequeued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	records, tasks := newMemRecords(), newChanTasks()
	job, _ := records.Create(ctx, "u1", "thisMonth")

	w := NewWorker(WorkerConfig{
		Records: records,
		Tasks:   tasks,
		Retry:   fastRetry(),
		Handler: func(ctx context.Context, j *models.IngestionJob) (*models.JobResult, error) {
			cancel()
			return nil, ctx.Err()
		},
	})
	w.Process(ctx, job.ID)

	got, err := records.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobActive, got.State)
	assert.Equal(t, job.ID, <-tasks.ch)
}

func TestWorker_StartStop(t *testing.T) {
	records, tasks := newMemRecords(), newChanTasks()
	d := NewDispatcher(records, tasks)

	w := NewWorker(WorkerConfig{
		Records:    records,
		Tasks:      tasks,
		Workers:    2,
		Retry:      fastRetry(),
		PopTimeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, j *models.IngestionJob) (*models.JobResult, error) {
			return &models.JobResult{Persisted: 1}, nil
		},
	})
	w.Start(context.Background())
	defer w.Stop()

	job, err := d.Submit(context.Background(), "u1", "last3Months")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := d.Poll(context.Background(), job.ID)
		return err == nil && got.State == models.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

// --- Redis encoding ---

func TestEncodeDecodeJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	job := &models.IngestionJob{
		ID: "j1", UserID: "u1", DateRange: "allTime", State: models.JobActive,
		Progress: 50, Attempts: 2, CreatedAt: now, UpdatedAt: now,
	}

	fields := map[string]string{}
	for k, v := range encodeJob(job) {
		fields[k] = fmt.Sprint(v)
	}
	fields["result"] = `{"total_candidates":3,"persisted":1,"invoices":[]}`

	got, err := decodeJob(fields)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobActive, got.State)
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, now.Equal(got.CreatedAt))
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.TotalCandidates)

	fields["progress"] = "lots"
	_, err = decodeJob(fields)
	assert.Error(t, err)
}

// --- Queue over a fake Redis ---

type fakeListRedis struct {
	redis.Cmdable
	list []string
}

func (f *fakeListRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		f.list = append([]string{fmt.Sprint(v)}, f.list...)
	}
	return redis.NewIntResult(int64(len(f.list)), nil)
}

func (f *fakeListRedis) BRPop(_ context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	if len(f.list) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	last := f.list[len(f.list)-1]
	f.list = f.list[:len(f.list)-1]
	return redis.NewStringSliceResult([]string{keys[0], last}, nil)
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(&fakeListRedis{}, "")

	require.NoError(t, q.Push(ctx, "a"))
	require.NoError(t, q.Push(ctx, "b"))

	for _, want := range []string{"a", "b", ""} {
		got, err := q.Pop(ctx, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// --- Store and Queue against an in-process Redis ---

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestStore_ProgressAndTransitions(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx := context.Background()
	s := NewStore(rdb, time.Minute)

	job, err := s.Create(ctx, "u1", "thisMonth")
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.State)

	require.NoError(t, s.SetActive(ctx, job.ID))
	require.NoError(t, s.SetProgress(ctx, job.ID, 50))
	require.NoError(t, s.SetProgress(ctx, job.ID, 10))
	require.NoError(t, s.SetProgress(ctx, job.ID, 100))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobActive, got.State)
	assert.Equal(t, 99, got.Progress, "progress is monotonic and capped below 100")

	n, err := s.IncrAttempts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.SetResult(ctx, job.ID, &models.JobResult{Persisted: 1}))
	assert.ErrorIs(t, s.SetFailed(ctx, job.ID, "late"), ErrIllegalTransition)
	require.NoError(t, s.SetProgress(ctx, job.ID, 5))

	got, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.State)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1, got.Result.Persisted)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.SetProgress(ctx, "missing", 10), models.ErrNotFound)
}

func TestStore_FailedJobNeverReaches100(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx := context.Background()
	s := NewStore(rdb, time.Minute)

	job, err := s.Create(ctx, "u1", "allTime")
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetResult(ctx, job.ID, &models.JobResult{}), ErrIllegalTransition, "queued jobs cannot complete")

	require.NoError(t, s.SetActive(ctx, job.ID))
	require.NoError(t, s.SetProgress(ctx, job.ID, 90))
	require.NoError(t, s.SetFailed(ctx, job.ID, "mailbox unavailable"))
	assert.ErrorIs(t, s.SetResult(ctx, job.ID, &models.JobResult{}), ErrIllegalTransition)
	require.NoError(t, s.SetProgress(ctx, job.ID, 100))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.State)
	assert.Equal(t, 90, got.Progress)
	assert.Equal(t, "mailbox unavailable", got.Error)
	assert.Nil(t, got.Result)
}

func TestStore_RecordsExpire(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	ctx := context.Background()
	s := NewStore(rdb, time.Hour)

	job, err := s.Create(ctx, "u1", "thisMonth")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = s.Get(ctx, job.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestQueue_Redis(t *testing.T) {
	_, rdb := newMiniRedis(t)
	ctx := context.Background()
	q := NewQueue(rdb, "")

	require.NoError(t, q.Ping(ctx))
	require.NoError(t, q.Push(ctx, "a"))
	require.NoError(t, q.Push(ctx, "b"))

	for _, want := range []string{"a", "b"} {
		got, err := q.Pop(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

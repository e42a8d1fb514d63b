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
	"log/slog"
	"sync"
	"time"

	"github.com/spendlens/ingestion/internal/models"
	"github.com/spendlens/ingestion/internal/retry"
)

// Handler runs one attempt of a job.
type Handler func(ctx context.Context, job *models.IngestionJob) (*models.JobResult, error)

// WorkerConfig holds the configuration for the worker pool. Tasks may be
// nil for a worker driven only through Process; Start needs it.
type WorkerConfig struct {
	Records    Records
	Tasks      Tasks
	Handler    Handler
	Workers    int
	Retry      retry.Config
	PopTimeout time.Duration
}

// Worker pulls job ids off the queue and runs them to a terminal state.
type Worker struct {
	records    Records
	tasks      Tasks
	handler    Handler
	workers    int
	retry      retry.Config
	popTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker pool. Zero values fall back to four workers,
// the default job retry policy and a 5s pop timeout.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		records:    cfg.Records,
		tasks:      cfg.Tasks,
		handler:    cfg.Handler,
		workers:    cfg.Workers,
		retry:      cfg.Retry,
		popTimeout: cfg.PopTimeout,
	}
	if w.workers <= 0 {
		w.workers = 4
	}
	if w.retry.Attempts <= 0 {
		w.retry = retry.DefaultJobConfig
	}
	if w.popTimeout <= 0 {
		w.popTimeout = 5 * time.Second
	}
	return w
}

// Start launches the worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func(n int) {
			defer w.wg.Done()
			w.loop(loopCtx, n)
		}(i)
	}

	slog.Info("job workers started", "workers", w.workers)
}

// Stop cancels the workers and waits for them to return. A job cut off
// mid-run is put back on the queue.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context, n int) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, err := w.tasks.Pop(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to pop job", "worker", n, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if id == "" {
			continue
		}
		w.Process(ctx, id)
	}
}

// Process runs one job id to completion or failure. Redelivered ids of
// jobs that are already terminal are ignored.
func (w *Worker) Process(ctx context.Context, id string) {
	job, err := w.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			slog.Warn("dropping unknown or expired job", "job_id", id)
			return
		}
		slog.Error("failed to load job", "job_id", id, "error", err)
		return
	}
	if job.State.Terminal() {
		slog.Info("job already finished, ignoring redelivery", "job_id", id, "state", job.State)
		return
	}
	if job.State == models.JobQueued {
		if err := w.records.SetActive(ctx, id); err != nil {
			slog.Error("failed to activate job", "job_id", id, "error", err)
			return
		}
		job.State = models.JobActive
	}

	log := slog.With("job_id", id, "user", job.UserID)
	log.Info("ingestion job started", "date_range", job.DateRange)

	cfg := w.retry
	cfg.Retryable = func(err error) bool {
		return !errors.Is(err, models.ErrUnauthorized) && ctx.Err() == nil
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("ingestion attempt failed, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	result, err := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) (*models.JobResult, error) {
		if n, err := w.records.IncrAttempts(ctx, id); err == nil {
			job.Attempts = n
		}
		return w.handler(ctx, job)
	})

	bg := context.WithoutCancel(ctx)

	// Shutdown: leave the job active and hand it to the next worker. Without
	// a queue there is no next worker, so the job fails instead.
	if ctx.Err() != nil {
		if w.tasks == nil {
			if ferr := w.records.SetFailed(bg, id, "interrupted"); ferr != nil {
				log.Error("failed to record interrupted job", "error", ferr)
			}
			log.Info("ingestion job interrupted, marked failed")
			return
		}
		if perr := w.tasks.Push(bg, id); perr != nil {
			log.Error("failed to requeue interrupted job", "error", perr)
		}
		log.Info("ingestion job interrupted, requeued")
		return
	}

	if err != nil {
		log.Error("ingestion job failed", "attempts", job.Attempts, "error", err)
		if ferr := w.records.SetFailed(bg, id, err.Error()); ferr != nil {
			log.Error("failed to record job failure", "error", ferr)
		}
		return
	}

	if err := w.records.SetResult(bg, id, result); err != nil {
		log.Error("failed to record job result", "error", err)
		return
	}
	log.Info("ingestion job completed",
		"candidates", result.TotalCandidates,
		"persisted", result.Persisted,
	)
}

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
	"log/slog"

	"github.com/spendlens/ingestion/internal/models"
)

// ErrInvalidRequest marks a submit with missing or malformed parameters.
var ErrInvalidRequest = errors.New("invalid job request")

// Dispatcher admits jobs and reports their state.
type Dispatcher struct {
	records Records
	tasks   Tasks
}

// NewDispatcher creates a dispatcher over a record store and a queue.
func NewDispatcher(records Records, tasks Tasks) *Dispatcher {
	return &Dispatcher{records: records, tasks: tasks}
}

// Submit creates a queued job for userID and enqueues it. An empty
// dateRange uses the default window; unknown names are rejected.
func (d *Dispatcher) Submit(ctx context.Context, userID, dateRange string) (*models.IngestionJob, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if dateRange == "" {
		dateRange = models.DefaultDateRange
	}
	if !models.ValidDateRange(dateRange) {
		return nil, fmt.Errorf("%w: unknown date range %q", ErrInvalidRequest, dateRange)
	}

	job, err := d.records.Create(ctx, userID, dateRange)
	if err != nil {
		return nil, err
	}

	if err := d.tasks.Push(ctx, job.ID); err != nil {
		// An unqueued job would sit in queued forever.
		if ferr := d.records.SetFailed(context.WithoutCancel(ctx), job.ID, "enqueue failed"); ferr != nil {
			slog.Error("failed to mark unqueued job", "job_id", job.ID, "error", ferr)
		}
		return nil, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	slog.Info("ingestion job submitted", "job_id", job.ID, "user", userID, "date_range", dateRange)
	return job, nil
}

// Poll returns the job's current state. A failed job never carries a
// result.
func (d *Dispatcher) Poll(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	job, err := d.records.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobCompleted {
		job.Result = nil
	}
	return job, nil
}

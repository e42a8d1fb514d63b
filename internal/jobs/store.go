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

// Package jobs runs ingestion jobs asynchronously: durable job records in
// Redis hashes, a Redis list as the work queue, a dispatcher for submit and
// poll, and a worker pool that executes jobs with retry.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/spendlens/ingestion/internal/models"
)

const (
	// DefaultTTL is how long a job record outlives its last update.
	DefaultTTL = 7 * 24 * time.Hour

	jobPrefix = "ingest:job:"

	// maxRunningProgress keeps 100 reserved for the completed state.
	maxRunningProgress = 99
)

// ErrIllegalTransition is returned when a state change would leave a
// terminal state or skip a step.
var ErrIllegalTransition = errors.New("illegal job state transition")

// Records is the job record store. *Store implements it.
type Records interface {
	Create(ctx context.Context, userID, dateRange string) (*models.IngestionJob, error)
	Get(ctx context.Context, id string) (*models.IngestionJob, error)
	SetActive(ctx context.Context, id string) error
	SetProgress(ctx context.Context, id string, pct int) error
	SetResult(ctx context.Context, id string, result *models.JobResult) error
	SetFailed(ctx context.Context, id string, reason string) error
	IncrAttempts(ctx context.Context, id string) (int, error)
}

// transitionScript moves a job to ARGV[1] if the current state allows it
// and sets any optional fields in the same step.
//
// KEYS[1] job key; ARGV: to, updated_at, progress, result, error, ttl seconds.
// Returns 1 on success, 0 for an illegal transition, -1 for a missing job.
var transitionScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
local allowed = {queued = {active = true, failed = true}, active = {completed = true, failed = true}}
local nexts = allowed[state]
if not nexts or not nexts[ARGV[1]] then return 0 end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'updated_at', ARGV[2])
if ARGV[3] ~= '' then redis.call('HSET', KEYS[1], 'progress', ARGV[3]) end
if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'result', ARGV[4]) end
if ARGV[5] ~= '' then redis.call('HSET', KEYS[1], 'error', ARGV[5]) end
redis.call('EXPIRE', KEYS[1], ARGV[6])
return 1
`)

// progressScript raises progress to min(ARGV[1], 99) unless the job is
// terminal or already further along.
//
// Returns 1 when progress moved, 0 when ignored, -1 for a missing job.
var progressScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'completed' or state == 'failed' then return 0 end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
local p = math.min(tonumber(ARGV[1]), tonumber(ARGV[3]))
if p > cur then
  redis.call('HSET', KEYS[1], 'progress', p, 'updated_at', ARGV[2])
  return 1
end
return 0
`)

// Store keeps job records in Redis hashes that expire after ttl.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a job store. A zero ttl uses DefaultTTL.
func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl, now: time.Now}
}

func jobKey(id string) string {
	return jobPrefix + id
}

// Create admits a queued job for userID.
func (s *Store) Create(ctx context.Context, userID, dateRange string) (*models.IngestionJob, error) {
	now := s.now().UTC()
	job := &models.IngestionJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		DateRange: dateRange,
		State:     models.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	key := jobKey(job.ID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeJob(job))
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get loads a job. Unknown or expired jobs return models.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.IngestionJob, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return decodeJob(fields)
}

// SetActive moves a queued job to active.
func (s *Store) SetActive(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.JobActive, "", "", "")
}

// SetProgress raises the job's progress. Values are capped at 99 and
// ignored once the job is terminal, so progress never decreases and only
// SetResult reports 100.
func (s *Store) SetProgress(ctx context.Context, id string, pct int) error {
	n, err := progressScript.Run(ctx, s.rdb, []string{jobKey(id)},
		pct, s.stamp(), maxRunningProgress).Int()
	if err != nil {
		return fmt.Errorf("set progress for job %s: %w", id, err)
	}
	if n < 0 {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// SetResult completes the job with progress 100 in one step.
func (s *Store) SetResult(ctx context.Context, id string, result *models.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	return s.transition(ctx, id, models.JobCompleted, "100", string(payload), "")
}

// SetFailed terminates the job with reason. Progress is left as is.
func (s *Store) SetFailed(ctx context.Context, id string, reason string) error {
	if reason == "" {
		reason = "unknown error"
	}
	return s.transition(ctx, id, models.JobFailed, "", "", reason)
}

// IncrAttempts bumps and returns the attempt counter.
func (s *Store) IncrAttempts(ctx context.Context, id string) (int, error) {
	n, err := s.rdb.HIncrBy(ctx, jobKey(id), "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment attempts for job %s: %w", id, err)
	}
	return int(n), nil
}

func (s *Store) transition(ctx context.Context, id string, to models.JobState, progress, result, reason string) error {
	n, err := transitionScript.Run(ctx, s.rdb, []string{jobKey(id)},
		string(to), s.stamp(), progress, result, reason, int(s.ttl.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("move job %s to %s: %w", id, to, err)
	}
	switch n {
	case -1:
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	case 0:
		return fmt.Errorf("job %s to %s: %w", id, to, ErrIllegalTransition)
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// encodeJob flattens a job into hash fields.
func encodeJob(job *models.IngestionJob) map[string]interface{} {
	fields := map[string]interface{}{
		"id":         job.ID,
		"user_id":    job.UserID,
		"date_range": job.DateRange,
		"state":      string(job.State),
		"progress":   job.Progress,
		"attempts":   job.Attempts,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.Error != "" {
		fields["error"] = job.Error
	}
	return fields
}

// decodeJob rebuilds a job from its hash fields.
func decodeJob(fields map[string]string) (*models.IngestionJob, error) {
	job := &models.IngestionJob{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		DateRange: fields["date_range"],
		State:     models.JobState(fields["state"]),
		Error:     fields["error"],
	}

	var err error
	if job.Progress, err = atoiField(fields, "progress"); err != nil {
		return nil, err
	}
	if job.Attempts, err = atoiField(fields, "attempts"); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = timeField(fields, "created_at"); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = timeField(fields, "updated_at"); err != nil {
		return nil, err
	}

	if raw := fields["result"]; raw != "" {
		var result models.JobResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", job.ID, err)
		}
		job.Result = &result
	}
	return job, nil
}

func atoiField(fields map[string]string, name string) (int, error) {
	v := fields[name]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("decode job field %s: %w", name, err)
	}
	return n, nil
}

func timeField(fields map[string]string, name string) (time.Time, error) {
	v := fields[name]
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode job field %s: %w", name, err)
	}
	return t, nil
}

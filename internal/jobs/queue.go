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
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the Redis list holding pending job ids.
const DefaultQueue = "ingest:jobs"

// Tasks is the work queue between the dispatcher and the workers.
type Tasks interface {
	Push(ctx context.Context, jobID string) error
	Pop(ctx context.Context, timeout time.Duration) (string, error)
}

// Queue is a Redis list used as a FIFO of job ids: producers LPUSH and
// workers BRPOP.
type Queue struct {
	rdb  redis.Cmdable
	name string
}

// NewQueue creates a queue on the named list.
func NewQueue(rdb redis.Cmdable, name string) *Queue {
	if name == "" {
		name = DefaultQueue
	}
	return &Queue{rdb: rdb, name: name}
}

// Push enqueues a job id.
func (q *Queue) Push(ctx context.Context, jobID string) error {
	if err := q.rdb.LPush(ctx, q.name, jobID).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	slog.Info("enqueued ingestion job", "job_id", jobID, "queue", q.name)
	return nil
}

// Pop blocks up to timeout for the next job id. An empty id with a nil
// error means the wait timed out.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis BRPOP: %w", err)
	}
	// BRPOP replies with [list, value].
	if len(res) != 2 {
		return "", fmt.Errorf("redis BRPOP: unexpected reply %v", res)
	}
	return res[1], nil
}

// Ping checks the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.rdb.Ping(ctx).Err()
}

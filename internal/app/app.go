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

// Package app wires the ingestion service's dependencies from
// configuration. Both the server and the CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/spendlens/ingestion/internal/config"
	"github.com/spendlens/ingestion/internal/dedup"
	"github.com/spendlens/ingestion/internal/extract"
	"github.com/spendlens/ingestion/internal/gmail"
	"github.com/spendlens/ingestion/internal/httpapi"
	"github.com/spendlens/ingestion/internal/ingest"
	"github.com/spendlens/ingestion/internal/jobs"
	"github.com/spendlens/ingestion/internal/retry"
	"github.com/spendlens/ingestion/internal/rules"
	"github.com/spendlens/ingestion/internal/store"
)

// App holds the connected dependencies.
type App struct {
	Config     *config.Config
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Store      *store.Store
	Records    *jobs.Store
	Queue      *jobs.Queue
	Dispatcher *jobs.Dispatcher
	Parser     *extract.Parser
	Runner     *ingest.Runner
	Worker     *jobs.Worker
	Retry      retry.Config
}

// New connects to PostgreSQL and Redis and builds the pipeline.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.ValidateGoogle(); err != nil {
		return nil, err
	}

	ruleSet := rules.Default()
	if cfg.Ingest.RulesPath != "" {
		var err error
		if ruleSet, err = rules.LoadFile(cfg.Ingest.RulesPath, ruleSet); err != nil {
			return nil, err
		}
		slog.Info("keyword rules loaded", "path", cfg.Ingest.RulesPath)
	}

	// --- Connect to PostgreSQL ---
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	st, err := store.Open(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	queue := jobs.NewQueue(rdb, cfg.JobsQueue)
	if err := queue.Ping(ctx); err != nil {
		rdb.Close()
		pool.Close()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}
	slog.Info("connected to Redis")

	records := jobs.NewStore(rdb, cfg.Jobs.TTL)
	parser := extract.NewParser(extract.ParserConfig{
		Rules:    ruleSet,
		Currency: cfg.Ingest.Currency,
	})
	connector := gmail.NewConnector(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL, st)

	runner := ingest.NewRunner(ingest.RunnerConfig{
		Open: func(ctx context.Context, userID string) (ingest.Mailbox, error) {
			c, err := connector.Open(ctx, userID)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Store:         st,
		Seen:          dedup.NewSeen(rdb, 0),
		Progress:      records,
		Parser:        parser,
		Window:        dedup.DefaultWindow(),
		SenderDomains: cfg.Ingest.SenderDomains,
		ResultLimit:   cfg.Ingest.ResultLimit,
	})

	policy := retry.Config{
		Attempts:       cfg.Jobs.MaxAttempts,
		InitialDelay:   cfg.Jobs.Backoff,
		MaxDelay:       time.Minute,
		BackoffFactor:  2.0,
		JitterFraction: 0.1,
	}
	worker := jobs.NewWorker(jobs.WorkerConfig{
		Records: records,
		Tasks:   queue,
		Handler: runner.Run,
		Workers: cfg.Jobs.Workers,
		Retry:   policy,
	})

	return &App{
		Config:     cfg,
		Pool:       pool,
		Redis:      rdb,
		Store:      st,
		Records:    records,
		Queue:      queue,
		Dispatcher: jobs.NewDispatcher(records, queue),
		Parser:     parser,
		Runner:     runner,
		Worker:     worker,
		Retry:      policy,
	}, nil
}

// API builds the HTTP handler with Redis and Postgres health checks.
func (a *App) API() *httpapi.Handler {
	return httpapi.NewHandler(a.Dispatcher, a.Store, a.Parser,
		httpapi.HealthCheck{Name: "redis", Check: a.Queue.Ping},
		httpapi.HealthCheck{Name: "postgres", Check: a.Store.Ping},
	)
}

// InlineWorker returns a worker with no queue for running jobs in the
// calling process. Jobs it is interrupted on are marked failed.
func (a *App) InlineWorker() *jobs.Worker {
	return jobs.NewWorker(jobs.WorkerConfig{
		Records: a.Records,
		Handler: a.Runner.Run,
		Retry:   a.Retry,
	})
}

// Close releases the connections.
func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}

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

// SpendLens Ingestion Command
//
// CLI tool that runs purchase-email ingestion for one or more users. By
// default it submits a job per user to the shared queue and polls until
// the server's workers finish them. With --inline the jobs run in this
// process instead, which is useful for seeding data on new deployments.
//
// Usage:
//
//	go run ./cmd/ingest/ --users u1,u2 [--range thisMonth] [--inline] [--token <refresh-token>]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spendlens/ingestion/internal/app"
	"github.com/spendlens/ingestion/internal/config"
	"github.com/spendlens/ingestion/internal/models"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	usersFlag := flag.String("users", "", "Comma-separated list of user ids (required)")
	rangeFlag := flag.String("range", models.DefaultDateRange, "Lookback window (thisMonth, lastMonth, last3Months, last6Months, thisYear, allTime)")
	tokenFlag := flag.String("token", "", "Gmail refresh token to store for the user before ingesting (single user only)")
	inlineFlag := flag.Bool("inline", false, "Run the jobs in this process instead of on the server's workers")
	pollFlag := flag.Duration("poll", 2*time.Second, "Interval between job status polls")
	flag.Parse()

	users := splitUsers(*usersFlag)
	if len(users) == 0 {
		fmt.Fprintf(os.Stderr, "Error: --users is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if !models.ValidDateRange(*rangeFlag) {
		fmt.Fprintf(os.Stderr, "Error: unknown --range %q\n", *rangeFlag)
		os.Exit(1)
	}
	if *tokenFlag != "" && len(users) != 1 {
		fmt.Fprintf(os.Stderr, "Error: --token needs exactly one user\n")
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise ingestion", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *tokenFlag != "" {
		if err := a.Store.SaveRefreshToken(ctx, users[0], *tokenFlag); err != nil {
			slog.Error("failed to store refresh token", "user", users[0], "error", err)
			os.Exit(1)
		}
		slog.Info("refresh token stored", "user", users[0])
	}

	slog.Info("starting ingestion",
		"users", users,
		"range", *rangeFlag,
		"inline", *inlineFlag,
	)

	// --- Run jobs ---
	start := time.Now()
	failed := 0
	for _, user := range users {
		var job *models.IngestionJob
		if *inlineFlag {
			job, err = runInline(ctx, a, user, *rangeFlag)
		} else {
			job, err = submitAndWait(ctx, a, user, *rangeFlag, *pollFlag)
		}
		if err != nil {
			slog.Error("ingestion failed", "user", user, "error", err)
			failed++
			continue
		}
		if job.State != models.JobCompleted {
			slog.Error("ingestion job failed", "user", user, "job_id", job.ID, "error", job.Error)
			failed++
			continue
		}

		slog.Info("user result",
			"user", user,
			"job_id", job.ID,
			"candidates", job.Result.TotalCandidates,
			"persisted", job.Result.Persisted,
			"attempts", job.Attempts,
		)
	}

	// --- Summary ---
	slog.Info("ingestion complete",
		"users", len(users),
		"failed", failed,
		"elapsed", time.Since(start),
	)
	if failed > 0 {
		os.Exit(1)
	}
}

// runInline creates the job record directly and processes it on a
// queue-less worker, so no server worker races for it. An interrupted
// job is marked failed rather than requeued.
func runInline(ctx context.Context, a *app.App, user, dateRange string) (*models.IngestionJob, error) {
	job, err := a.Records.Create(ctx, user, dateRange)
	if err != nil {
		return nil, err
	}
	a.InlineWorker().Process(ctx, job.ID)
	return a.Records.Get(context.WithoutCancel(ctx), job.ID)
}

// submitAndWait enqueues the job and polls it until it is terminal.
func submitAndWait(ctx context.Context, a *app.App, user, dateRange string, every time.Duration) (*models.IngestionJob, error) {
	job, err := a.Dispatcher.Submit(ctx, user, dateRange)
	if err != nil {
		return nil, err
	}
	slog.Info("job submitted", "user", user, "job_id", job.ID)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		job, err = a.Dispatcher.Poll(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if job.Progress != last {
			slog.Info("job progress", "job_id", job.ID, "state", job.State, "progress", job.Progress)
			last = job.Progress
		}
		if job.State.Terminal() {
			return job, nil
		}
	}
}

func splitUsers(s string) []string {
	var users []string
	for _, u := range strings.Split(s, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			users = append(users, u)
		}
	}
	return users
}

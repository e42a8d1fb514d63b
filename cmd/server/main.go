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

// SpendLens Ingestion Service
//
// Entry point for the purchase-email ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL and Redis
//  3. Starts the ingestion worker pool on the Redis job queue
//  4. Serves the job, invoice and categorization HTTP API
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spendlens/ingestion/internal/app"
	"github.com/spendlens/ingestion/internal/config"
	"github.com/spendlens/ingestion/internal/httpapi"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting SpendLens ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"sender_domains", len(cfg.Ingest.SenderDomains),
		"workers", cfg.Jobs.Workers,
		"max_attempts", cfg.Jobs.MaxAttempts,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Wire dependencies ---
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// --- Start HTTP API ---
	ready, err := httpapi.Serve(ctx, cfg.Port, a.API())
	if err != nil {
		slog.Error("failed to start HTTP server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Start workers ---
	a.Worker.Start(ctx)
	slog.Info("ingestion workers started", "queue", cfg.JobsQueue)

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	cancel()
	a.Worker.Stop()

	slog.Info("ingestion service stopped")
}

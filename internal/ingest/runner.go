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

// Package ingest runs one attempt of a user's ingestion job: page through
// the mailbox, parse each message, drop repeats, persist the survivors and
// report progress at fixed checkpoints.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendlens/ingestion/internal/dedup"
	"github.com/spendlens/ingestion/internal/extract"
	"github.com/spendlens/ingestion/internal/models"
)

// Progress checkpoints. Persistence advances linearly between
// progressFiltered and progressPersisted; 100 is set with the result.
const (
	progressStarted   = 10
	progressFiltered  = 50
	progressPersisted = 90
)

// DefaultResultLimit bounds the invoices returned with a result.
const DefaultResultLimit = 100

// Mailbox is a paged view of one user's messages.
type Mailbox interface {
	ListMessages(ctx context.Context, query, pageToken string) (*models.MessagePage, error)
	GetMessage(ctx context.Context, id string) (*models.RawMessage, error)
}

// MailboxOpener returns the mailbox for a user.
type MailboxOpener func(ctx context.Context, userID string) (Mailbox, error)

// InvoiceStore is the persistence the runner needs. Implemented by
// store.Store.
type InvoiceStore interface {
	FindByMessageID(ctx context.Context, userID, messageID string) (*models.Invoice, error)
	FindDuplicate(ctx context.Context, userID, merchant string, amountLo, amountHi decimal.Decimal, from, to time.Time) (*models.Invoice, error)
	Insert(ctx context.Context, inv *models.Invoice) error
	ListRecent(ctx context.Context, userID string, limit int) ([]models.Invoice, error)
	UpdateLastSync(ctx context.Context, userID string, at time.Time) error
}

// SeenCache remembers persisted message ids. Implemented by dedup.Seen.
type SeenCache interface {
	Has(ctx context.Context, userID, messageID string) (bool, error)
	Mark(ctx context.Context, userID, messageID string) error
}

// ProgressReporter receives absolute progress values for a job.
type ProgressReporter interface {
	SetProgress(ctx context.Context, jobID string, pct int) error
}

// Runner executes ingestion attempts.
type Runner struct {
	open          MailboxOpener
	store         InvoiceStore
	seen          SeenCache
	progress      ProgressReporter
	parser        *extract.Parser
	window        dedup.Window
	senderDomains []string
	resultLimit   int
	pageDelay     time.Duration
	now           func() time.Time
}

// RunnerConfig holds dependencies for the runner. Seen and Progress are
// optional.
type RunnerConfig struct {
	Open          MailboxOpener
	Store         InvoiceStore
	Seen          SeenCache
	Progress      ProgressReporter
	Parser        *extract.Parser
	Window        dedup.Window
	SenderDomains []string
	ResultLimit   int
	PageDelay     time.Duration // pause between list pages
	Now           func() time.Time
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		open:          cfg.Open,
		store:         cfg.Store,
		seen:          cfg.Seen,
		progress:      cfg.Progress,
		parser:        cfg.Parser,
		window:        cfg.Window,
		senderDomains: cfg.SenderDomains,
		resultLimit:   cfg.ResultLimit,
		pageDelay:     cfg.PageDelay,
		now:           cfg.Now,
	}
	if r.window.TimeWindow == 0 {
		r.window = dedup.DefaultWindow()
	}
	if r.resultLimit <= 0 {
		r.resultLimit = DefaultResultLimit
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// BuildQuery returns the Gmail search for messages from any of domains
// received in the last days.
func BuildQuery(domains []string, days int) string {
	window := fmt.Sprintf("newer_than:%dd", days)
	if len(domains) == 0 {
		return window
	}
	return fmt.Sprintf("from:(%s) %s", strings.Join(domains, " OR "), window)
}

// Run performs one attempt of job. Errors from the mailbox or from store
// lookups abort the attempt so the worker can retry it; a failed insert
// only drops that record.
func (r *Runner) Run(ctx context.Context, job *models.IngestionJob) (*models.JobResult, error) {
	log := slog.With("job_id", job.ID, "user", job.UserID)
	r.report(ctx, job.ID, progressStarted)

	mbox, err := r.open(ctx, job.UserID)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}

	query := BuildQuery(r.senderDomains, models.DateRangeDays(job.DateRange))
	log.Info("ingesting mailbox", "query", query)

	batch, total, err := r.collect(ctx, mbox, job.UserID, query)
	if err != nil {
		return nil, err
	}
	r.report(ctx, job.ID, progressFiltered)

	persisted := r.persist(ctx, job, batch.Accepted())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := r.store.UpdateLastSync(ctx, job.UserID, r.now().UTC()); err != nil {
		return nil, fmt.Errorf("update last sync: %w", err)
	}

	invoices, err := r.store.ListRecent(ctx, job.UserID, r.resultLimit)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}

	log.Info("ingestion attempt finished",
		"candidates", total,
		"survivors", batch.Len(),
		"persisted", persisted,
	)
	return &models.JobResult{
		TotalCandidates: total,
		Persisted:       persisted,
		Invoices:        invoices,
	}, nil
}

// collect exhausts pagination and returns the candidates that passed both
// dedup layers, in mailbox order, plus the number of candidates parsed.
func (r *Runner) collect(ctx context.Context, mbox Mailbox, userID, query string) (*dedup.Batch, int, error) {
	batch := dedup.NewBatch(r.window)
	total := 0
	pageToken := ""
	pages := 0

	for {
		page, err := mbox.ListMessages(ctx, query, pageToken)
		if err != nil {
			return nil, 0, fmt.Errorf("list messages (page %d): %w", pages+1, err)
		}
		pages++

		for _, id := range page.IDs {
			c, err := r.candidate(ctx, mbox, userID, id)
			if err != nil {
				return nil, 0, err
			}
			if c == nil {
				continue
			}
			total++

			dup, err := r.duplicate(ctx, batch, userID, c)
			if err != nil {
				return nil, 0, err
			}
			if !dup {
				batch.Accept(c)
			}
		}

		if page.NextPageToken == "" || page.NextPageToken == pageToken {
			break
		}
		pageToken = page.NextPageToken

		if r.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(r.pageDelay):
			}
		}
	}

	slog.Debug("mailbox pages exhausted", "user", userID, "pages", pages, "candidates", total)
	return batch, total, nil
}

// candidate fetches and parses one message. Nil without error means the
// message produced nothing to ingest.
func (r *Runner) candidate(ctx context.Context, mbox Mailbox, userID, id string) (*models.ParsedCandidate, error) {
	if r.seen != nil {
		known, err := r.seen.Has(ctx, userID, id)
		if err != nil {
			slog.Warn("seen cache unavailable", "message_id", id, "error", err)
		} else if known {
			return nil, nil
		}
	}

	msg, err := mbox.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, nil
	}

	c, outcome := r.parser.Parse(msg)
	if outcome != extract.OutcomeAccepted {
		return nil, nil
	}
	return c, nil
}

// duplicate applies identity dedup against the store, then economic dedup
// against earlier survivors and the store.
func (r *Runner) duplicate(ctx context.Context, batch *dedup.Batch, userID string, c *models.ParsedCandidate) (bool, error) {
	existing, err := r.store.FindByMessageID(ctx, userID, c.MessageID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		r.markSeen(ctx, userID, c.MessageID)
		return true, nil
	}

	if batch.Duplicate(c) {
		slog.Debug("dropped in-batch duplicate", "message_id", c.MessageID, "merchant", c.Merchant)
		return true, nil
	}

	lo, hi := r.window.AmountRange(c.Amount)
	from, to := r.window.DateRange(c.Date)
	match, err := r.store.FindDuplicate(ctx, userID, c.Merchant, lo, hi, from, to)
	if err != nil {
		return false, err
	}
	if match != nil {
		slog.Debug("dropped duplicate of persisted invoice",
			"message_id", c.MessageID,
			"existing_message_id", match.MessageID,
		)
		return true, nil
	}
	return false, nil
}

// persist inserts survivors one at a time, moving progress from 50 to 90.
func (r *Runner) persist(ctx context.Context, job *models.IngestionJob, survivors []*models.ParsedCandidate) int {
	persisted := 0
	for i, c := range survivors {
		if ctx.Err() != nil {
			break
		}

		inv := models.NewInvoice(job.UserID, c)
		err := r.store.Insert(ctx, &inv)
		switch {
		case errors.Is(err, models.ErrConflict):
			slog.Warn("invoice already persisted, skipping", "job_id", job.ID, "message_id", c.MessageID)
			r.markSeen(ctx, job.UserID, c.MessageID)
		case err != nil:
			slog.Error("failed to persist invoice, skipping", "job_id", job.ID, "message_id", c.MessageID, "error", err)
		default:
			persisted++
			r.markSeen(ctx, job.UserID, c.MessageID)
		}

		span := progressPersisted - progressFiltered
		r.report(ctx, job.ID, progressFiltered+span*(i+1)/len(survivors))
	}
	return persisted
}

func (r *Runner) markSeen(ctx context.Context, userID, messageID string) {
	if r.seen == nil {
		return
	}
	if err := r.seen.Mark(ctx, userID, messageID); err != nil {
		slog.Warn("failed to update seen cache", "message_id", messageID, "error", err)
	}
}

func (r *Runner) report(ctx context.Context, jobID string, pct int) {
	if r.progress == nil {
		return
	}
	if err := r.progress.SetProgress(ctx, jobID, pct); err != nil {
		slog.Warn("failed to report progress", "job_id", jobID, "progress", pct, "error", err)
	}
}

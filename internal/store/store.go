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

// Package store provides the Postgres-backed invoice and user store used
// by the ingester and the HTTP API.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/spendlens/ingestion/internal/models"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides invoice and user operations in Postgres.
type Store struct {
	db DB
}

// New creates a store over db without touching the schema.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open creates a store and ensures the invoices and users tables exist.
func Open(ctx context.Context, db DB) (*Store, error) {
	s := New(db)
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure invoice schema: %w", err)
	}
	slog.Info("invoice store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS invoices (
			id              BIGSERIAL PRIMARY KEY,
			user_id         TEXT NOT NULL,
			message_id      TEXT NOT NULL,
			merchant        TEXT NOT NULL,
			category        TEXT NOT NULL DEFAULT 'other'
			                CHECK (category IN ('food','groceries','shopping','bills','entertainment','travel','healthcare','other')),
			amount          NUMERIC(12,2) NOT NULL CHECK (amount > 0),
			currency        TEXT NOT NULL,
			txn_date        TIMESTAMPTZ NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 1),
			raw_text        TEXT DEFAULT '',
			method          TEXT NOT NULL DEFAULT 'email_body',
			source_subject  TEXT DEFAULT '',
			source_from     TEXT DEFAULT '',
			has_attachment  BOOLEAN DEFAULT FALSE,
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(user_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_invoices_user_date ON invoices(user_id, txn_date DESC);
		CREATE INDEX IF NOT EXISTS idx_invoices_user_merchant ON invoices(user_id, lower(merchant));

		CREATE TABLE IF NOT EXISTS users (
			user_id        TEXT PRIMARY KEY,
			refresh_token  TEXT NOT NULL DEFAULT '',
			last_sync      TIMESTAMPTZ,
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			updated_at     TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

const invoiceColumns = `id, user_id, message_id, merchant, category, amount::text, currency,
	txn_date, confidence, raw_text, method, source_subject, source_from, has_attachment,
	created_at, updated_at`

// FindByMessageID returns the invoice persisted for a message, or nil.
func (s *Store) FindByMessageID(ctx context.Context, userID, messageID string) (*models.Invoice, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE user_id = $1 AND message_id = $2
	`, userID, messageID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, fmt.Errorf("find invoice by message: %w", err)
	}
	return inv, nil
}

// FindDuplicate returns a persisted invoice with the same merchant
// (case-insensitive) whose amount and date fall inside the given inclusive
// ranges, or nil.
func (s *Store) FindDuplicate(ctx context.Context, userID, merchant string, amountLo, amountHi decimal.Decimal, from, to time.Time) (*models.Invoice, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE user_id = $1
		  AND lower(merchant) = lower($2)
		  AND amount BETWEEN $3::numeric AND $4::numeric
		  AND txn_date BETWEEN $5 AND $6
		ORDER BY txn_date
		LIMIT 1
	`, userID, merchant, amountLo.String(), amountHi.String(), from, to)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, fmt.Errorf("find duplicate invoice: %w", err)
	}
	return inv, nil
}

// Insert persists inv and fills in its id and timestamps. A row already
// present for (user_id, message_id) yields models.ErrConflict.
func (s *Store) Insert(ctx context.Context, inv *models.Invoice) error {
	if !inv.Amount.IsPositive() {
		return fmt.Errorf("insert invoice %s: amount must be positive", inv.MessageID)
	}
	category := inv.Category
	if !category.Valid() {
		category = models.CategoryOther
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO invoices
			(user_id, message_id, merchant, category, amount, currency, txn_date,
			 confidence, raw_text, method, source_subject, source_from, has_attachment)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, message_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`, inv.UserID, inv.MessageID, inv.Merchant, string(category), inv.Amount.StringFixed(2), inv.Currency, inv.Date,
		inv.Confidence, inv.RawText, inv.Method, inv.Source.Subject, inv.Source.From, inv.Source.HasAttachment,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("insert invoice %s: %w", inv.MessageID, models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert invoice %s: %w", inv.MessageID, err)
	}
	inv.Category = category
	return nil
}

// ListRecent returns the user's most recent invoices by transaction date.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]models.Invoice, error) {
	return s.List(ctx, userID, Filter{Limit: limit})
}

// Filter narrows List. Zero fields are ignored.
type Filter struct {
	Category models.Category
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// List returns the user's invoices matching f, newest first.
func (s *Store) List(ctx context.Context, userID string, f Filter) ([]models.Invoice, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if !f.From.IsZero() {
		add("txn_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("txn_date <= $%d", f.To)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit, max(f.Offset, 0))

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM invoices
		WHERE %s
		ORDER BY txn_date DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, invoiceColumns, strings.Join(where, " AND "), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// UpdateCategory applies a user correction and returns the updated invoice.
func (s *Store) UpdateCategory(ctx context.Context, userID, messageID string, category models.Category) (*models.Invoice, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("update category: invalid category %q", category)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE invoices
		SET category = $1, updated_at = NOW()
		WHERE user_id = $2 AND message_id = $3
		RETURNING `+invoiceColumns,
		string(category), userID, messageID)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}
	if inv == nil {
		return nil, models.ErrNotFound
	}
	return inv, nil
}

// SaveRefreshToken stores the user's mailbox grant.
func (s *Store) SaveRefreshToken(ctx context.Context, userID, refreshToken string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (user_id, refresh_token)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			refresh_token = EXCLUDED.refresh_token,
			updated_at    = NOW()
	`, userID, refreshToken)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// RefreshToken returns the stored grant, or models.ErrUnauthorized when
// the user never connected a mailbox.
func (s *Store) RefreshToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := s.db.QueryRow(ctx, `
		SELECT refresh_token FROM users WHERE user_id = $1
	`, userID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && token == "") {
		return "", fmt.Errorf("no mailbox grant for %s: %w", userID, models.ErrUnauthorized)
	}
	if err != nil {
		return "", fmt.Errorf("load refresh token: %w", err)
	}
	return token, nil
}

// UpdateLastSync records the time of the user's last successful ingestion.
func (s *Store) UpdateLastSync(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (user_id, last_sync)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			last_sync  = EXCLUDED.last_sync,
			updated_at = NOW()
	`, userID, at)
	if err != nil {
		return fmt.Errorf("update last sync: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// scanInvoice scans a single row into an Invoice. No row yields nil, nil.
func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	inv, err := scanInto(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func collectInvoices(rows pgx.Rows) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	for rows.Next() {
		inv, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func scanInto(row pgx.Row) (*models.Invoice, error) {
	var (
		inv      models.Invoice
		category string
		amount   string
	)
	if err := row.Scan(
		&inv.ID, &inv.UserID, &inv.MessageID, &inv.Merchant, &category, &amount, &inv.Currency,
		&inv.Date, &inv.Confidence, &inv.RawText, &inv.Method, &inv.Source.Subject, &inv.Source.From,
		&inv.Source.HasAttachment, &inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	inv.Amount = d
	inv.Category = models.Category(category)
	return &inv, nil
}

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

package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/ingestion/internal/extract"
	"github.com/spendlens/ingestion/internal/models"
	"github.com/spendlens/ingestion/internal/rules"
)

// --- Mock mailbox ---

type mockMailbox struct {
	mu       sync.Mutex
	pages    map[string]*models.MessagePage // keyed by page token
	messages map[string]*models.RawMessage
	queries  []string
	fetched  []string
	listErr  error
}

func (m *mockMailbox) ListMessages(_ context.Context, query, pageToken string) (*models.MessagePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.listErr != nil {
		return nil, m.listErr
	}
	page, ok := m.pages[pageToken]
	if !ok {
		return nil, fmt.Errorf("unexpected page token %q", pageToken)
	}
	return page, nil
}

func (m *mockMailbox) GetMessage(_ context.Context, id string) (*models.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, id)
	return m.messages[id], nil
}

// --- Mock invoice store ---

type mockStore struct {
	mu        sync.Mutex
	invoices  []models.Invoice
	conflicts map[string]bool
	lastSync  map[string]time.Time
	nextID    int64
}

func newMockStore() *mockStore {
	return &mockStore{conflicts: map[string]bool{}, lastSync: map[string]time.Time{}}
}

func (s *mockStore) FindByMessageID(_ context.Context, userID, messageID string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.invoices {
		if s.invoices[i].UserID == userID && s.invoices[i].MessageID == messageID {
			inv := s.invoices[i]
			return &inv, nil
		}
	}
	return nil, nil
}

func (s *mockStore) FindDuplicate(_ context.Context, userID, merchant string, lo, hi decimal.Decimal, from, to time.Time) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.invoices {
		inv := s.invoices[i]
		if inv.UserID != userID || !strings.EqualFold(inv.Merchant, merchant) {
			continue
		}
		if inv.Amount.LessThan(lo) || inv.Amount.GreaterThan(hi) {
			continue
		}
		if inv.Date.Before(from) || inv.Date.After(to) {
			continue
		}
		return &inv, nil
	}
	return nil, nil
}

func (s *mockStore) Insert(_ context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts[inv.MessageID] {
		return models.ErrConflict
	}
	for _, existing := range s.invoices {
		if existing.UserID == inv.UserID && existing.MessageID == inv.MessageID {
			return models.ErrConflict
		}
	}
	s.nextID++
	inv.ID = s.nextID
	s.invoices = append(s.invoices, *inv)
	return nil
}

func (s *mockStore) ListRecent(_ context.Context, userID string, limit int) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Invoice{}
	for _, inv := range s.invoices {
		if inv.UserID == userID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *mockStore) UpdateLastSync(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync[userID] = at
	return nil
}

// --- Mock seen cache and progress ---

type mockSeen struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *mockSeen) Has(_ context.Context, userID, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[userID+":"+messageID], nil
}

func (m *mockSeen) Mark(_ context.Context, userID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[userID+":"+messageID] = true
	return nil
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) SetProgress(_ context.Context, _ string, pct int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, pct)
	return nil
}

// --- Helpers ---

var testNow = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

func rawMessage(id, subject, body, date string) *models.RawMessage {
	return &models.RawMessage{
		ID:      id,
		Subject: subject,
		From:    "Simpl <alerts@getsimpl.com>",
		Date:    date,
		Body: models.Part{
			MimeType: "multipart/alternative",
			Parts: []models.Part{
				{MimeType: "text/plain", Data: base64.URLEncoding.EncodeToString([]byte(body))},
			},
		},
	}
}

// threeMessageMailbox holds a dues reminder, a Swiggy charge and the same
// charge re-sent two hours later under another id, over two pages.
func threeMessageMailbox() *mockMailbox {
	return &mockMailbox{
		pages: map[string]*models.MessagePage{
			"":   {IDs: []string{"m1", "m2"}, NextPageToken: "p2"},
			"p2": {IDs: []string{"m3"}},
		},
		messages: map[string]*models.RawMessage{
			"m1": rawMessage("m1", "LazyPay Dues Reminder", "clear your dues of ₹500", "Sun, 01 Feb 2026 09:00:00 +0530"),
			"m2": rawMessage("m2", "Payment successful on Swiggy using Simpl", "₹240 charged", "Mon, 02 Feb 2026 20:15:00 +0530"),
			"m3": rawMessage("m3", "Payment successful on Swiggy using Simpl", "₹240 charged", "Mon, 02 Feb 2026 22:15:00 +0530"),
		},
	}
}

func newTestRunner(mbox Mailbox, st InvoiceStore, seen SeenCache, progress ProgressReporter) *Runner {
	return NewRunner(RunnerConfig{
		Open:     func(context.Context, string) (Mailbox, error) { return mbox, nil },
		Store:    st,
		Seen:     seen,
		Progress: progress,
		Parser: extract.NewParser(extract.ParserConfig{
			Rules: rules.Default(),
			Now:   func() time.Time { return testNow },
		}),
		SenderDomains: []string{"lazypay.in", "getsimpl.com"},
		Now:           func() time.Time { return testNow },
	})
}

func job(id, dateRange string) *models.IngestionJob {
	return &models.IngestionJob{ID: id, UserID: "u1", DateRange: dateRange, State: models.JobActive}
}

// --- Tests ---

func TestBuildQuery(t *testing.T) {
	assert.Equal(t, "from:(lazypay.in OR getsimpl.com) newer_than:30d", BuildQuery([]string{"lazypay.in", "getsimpl.com"}, 30))
	assert.Equal(t, "newer_than:730d", BuildQuery(nil, 730))
}

func TestRun_EndToEnd(t *testing.T) {
	mbox := threeMessageMailbox()
	st := newMockStore()
	progress := &progressLog{}
	r := newTestRunner(mbox, st, nil, progress)

	res, err := r.Run(context.Background(), job("j1", "allTime"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalCandidates, "dues reminder is not a candidate")
	assert.Equal(t, 1, res.Persisted)
	require.Len(t, res.Invoices, 1)

	inv := res.Invoices[0]
	assert.Equal(t, "m2", inv.MessageID)
	assert.Equal(t, "Swiggy", inv.Merchant)
	assert.Equal(t, models.CategoryFood, inv.Category)
	assert.True(t, inv.Amount.Equal(decimal.NewFromInt(240)))
	assert.Equal(t, "INR", inv.Currency)

	assert.Equal(t, []string{"m1", "m2", "m3"}, mbox.fetched, "pagination is exhausted in order")
	assert.Equal(t, "from:(lazypay.in OR getsimpl.com) newer_than:730d", mbox.queries[0])
	assert.Equal(t, []int{10, 50, 90}, progress.values)
	assert.Equal(t, testNow, st.lastSync["u1"])
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	mbox := &mockMailbox{
		pages:    map[string]*models.MessagePage{"": {IDs: []string{"a", "b", "c"}}},
		messages: map[string]*models.RawMessage{},
	}
	merchants := []string{"Zomato", "Uber", "Myntra"}
	for i, id := range []string{"a", "b", "c"} {
		mbox.messages[id] = rawMessage(id, fmt.Sprintf("Payment successful on %s using Simpl", merchants[i]), "₹100 charged", "")
	}
	progress := &progressLog{}
	r := newTestRunner(mbox, newMockStore(), nil, progress)

	res, err := r.Run(context.Background(), job("j1", "thisMonth"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Persisted)
	assert.Equal(t, []int{10, 50, 63, 76, 90}, progress.values)
	assert.True(t, sort.IntsAreSorted(progress.values))
}

func TestRun_IdentityDedupAcrossRuns(t *testing.T) {
	st := newMockStore()

	first, err := newTestRunner(threeMessageMailbox(), st, nil, nil).Run(context.Background(), job("j1", "thisMonth"))
	require.NoError(t, err)
	require.Equal(t, 1, first.Persisted)

	second, err := newTestRunner(threeMessageMailbox(), st, nil, nil).Run(context.Background(), job("j2", "thisMonth"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Persisted)
	assert.Len(t, st.invoices, 1)
	assert.Len(t, second.Invoices, 1, "result still lists the persisted invoices")
}

func TestRun_SeenCacheSkipsDownloads(t *testing.T) {
	st := newMockStore()
	seen := &mockSeen{seen: map[string]bool{}}

	_, err := newTestRunner(threeMessageMailbox(), st, seen, nil).Run(context.Background(), job("j1", "thisMonth"))
	require.NoError(t, err)
	assert.True(t, seen.seen["u1:m2"])

	mbox := threeMessageMailbox()
	res, err := newTestRunner(mbox, st, seen, nil).Run(context.Background(), job("j2", "thisMonth"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Persisted)
	assert.NotContains(t, mbox.fetched, "m2")
}

func TestRun_EconomicDedupAgainstStore(t *testing.T) {
	st := newMockStore()
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	st.invoices = append(st.invoices, models.Invoice{
		ID: 1, UserID: "u1", MessageID: "older", Merchant: "Zepto",
		Amount: decimal.RequireFromString("149.00"), Date: at,
	})

	mbox := &mockMailbox{
		pages: map[string]*models.MessagePage{"": {IDs: []string{"z1", "z2"}}},
		messages: map[string]*models.RawMessage{
			// 18 hours after the stored invoice: duplicate.
			"z1": rawMessage("z1", "₹149.00 charged via Simpl", "on Zepto. Thanks", "Wed, 11 Feb 2026 08:30:00 +0530"),
			// 30 hours after: a separate purchase.
			"z2": rawMessage("z2", "₹149.00 charged via Simpl", "on Zepto. Thanks", "Wed, 11 Feb 2026 20:30:00 +0530"),
		},
	}

	res, err := newTestRunner(mbox, st, nil, nil).Run(context.Background(), job("j1", "thisMonth"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCandidates)
	assert.Equal(t, 1, res.Persisted)
	got, err := st.FindByMessageID(context.Background(), "u1", "z2")
	require.NoError(t, err)
	assert.NotNil(t, got, "the purchase 30 hours later is kept")
}

func TestRun_InsertConflictIsSkipped(t *testing.T) {
	st := newMockStore()
	st.conflicts["m2"] = true

	res, err := newTestRunner(threeMessageMailbox(), st, nil, nil).Run(context.Background(), job("j1", "thisMonth"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Persisted)
	assert.Empty(t, res.Invoices)
}

func TestRun_MailboxErrorsAbortAttempt(t *testing.T) {
	mbox := threeMessageMailbox()
	mbox.listErr = errors.New("503 backend error")

	_, err := newTestRunner(mbox, newMockStore(), nil, nil).Run(context.Background(), job("j1", "thisMonth"))
	require.Error(t, err)

	r := NewRunner(RunnerConfig{
		Open: func(context.Context, string) (Mailbox, error) {
			return nil, fmt.Errorf("token refresh: %w", models.ErrUnauthorized)
		},
		Store:  newMockStore(),
		Parser: extract.NewParser(extract.ParserConfig{Rules: rules.Default()}),
	})
	_, err = r.Run(context.Background(), job("j2", "thisMonth"))
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRun_ReportsStartBeforeOpeningMailbox(t *testing.T) {
	progress := &progressLog{}
	r := NewRunner(RunnerConfig{
		Open: func(context.Context, string) (Mailbox, error) {
			progress.mu.Lock()
			defer progress.mu.Unlock()
			assert.Equal(t, []int{10}, progress.values, "start is reported before the mailbox opens")
			return nil, errors.New("token endpoint unavailable")
		},
		Store:    newMockStore(),
		Progress: progress,
		Parser:   extract.NewParser(extract.ParserConfig{Rules: rules.Default()}),
	})
	_, err := r.Run(context.Background(), job("j1", "thisMonth"))
	require.Error(t, err)
	assert.Equal(t, []int{10}, progress.values)
}

func TestRun_DeletedMessageIsIgnored(t *testing.T) {
	mbox := threeMessageMailbox()
	delete(mbox.messages, "m2")

	res, err := newTestRunner(mbox, newMockStore(), nil, nil).Run(context.Background(), job("j1", "thisMonth"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted, "m3 survives once m2 is gone")
	assert.Equal(t, "m3", res.Invoices[0].MessageID)
}

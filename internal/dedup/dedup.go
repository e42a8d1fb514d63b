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

// Package dedup suppresses purchases that were already recorded. Identity
// dedup keys on the provider message id; economic dedup compares merchant,
// amount and date so the same purchase reported by two templates is kept
// once. A Redis seen-message cache lets the ingester skip downloading
// messages it has already persisted.
package dedup

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendlens/ingestion/internal/models"
)

// Default tolerances for economic dedup.
var (
	DefaultAmountTolerance = decimal.RequireFromString("0.01")
	DefaultTimeWindow      = 24 * time.Hour
)

// Window decides whether two records describe the same purchase.
type Window struct {
	AmountTolerance decimal.Decimal
	TimeWindow      time.Duration
}

// DefaultWindow returns the 0.01 / 24h window.
func DefaultWindow() Window {
	return Window{AmountTolerance: DefaultAmountTolerance, TimeWindow: DefaultTimeWindow}
}

// Same reports whether a and b share a merchant (case-insensitive), an
// amount within the tolerance and a date within the window. Both bounds
// are inclusive.
func (w Window) Same(a, b *models.ParsedCandidate) bool {
	if !strings.EqualFold(strings.TrimSpace(a.Merchant), strings.TrimSpace(b.Merchant)) {
		return false
	}
	if a.Amount.Sub(b.Amount).Abs().GreaterThan(w.AmountTolerance) {
		return false
	}
	gap := a.Date.Sub(b.Date)
	if gap < 0 {
		gap = -gap
	}
	return gap <= w.TimeWindow
}

// AmountRange returns the inclusive amount bounds matching amount.
func (w Window) AmountRange(amount decimal.Decimal) (lo, hi decimal.Decimal) {
	return amount.Sub(w.AmountTolerance), amount.Add(w.AmountTolerance)
}

// DateRange returns the inclusive date bounds matching t.
func (w Window) DateRange(t time.Time) (from, to time.Time) {
	return t.Add(-w.TimeWindow), t.Add(w.TimeWindow)
}

// Batch holds the candidates accepted so far in one ingestion run. It is
// not safe for concurrent use; a run processes messages in order.
type Batch struct {
	window   Window
	ids      map[string]struct{}
	accepted []*models.ParsedCandidate
}

// NewBatch returns an empty batch using w.
func NewBatch(w Window) *Batch {
	return &Batch{window: w, ids: make(map[string]struct{})}
}

// Duplicate reports whether c repeats a message id or matches an
// earlier-accepted candidate economically.
func (b *Batch) Duplicate(c *models.ParsedCandidate) bool {
	if _, ok := b.ids[c.MessageID]; ok {
		return true
	}
	for _, prev := range b.accepted {
		if b.window.Same(prev, c) {
			return true
		}
	}
	return false
}

// Accept records c as a survivor.
func (b *Batch) Accept(c *models.ParsedCandidate) {
	b.ids[c.MessageID] = struct{}{}
	b.accepted = append(b.accepted, c)
}

// Accepted returns the survivors in acceptance order.
func (b *Batch) Accepted() []*models.ParsedCandidate {
	return b.accepted
}

// Len returns the number of accepted candidates.
func (b *Batch) Len() int { return len(b.accepted) }

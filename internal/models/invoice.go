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

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the fixed spending category enumeration.
type Category string

const (
	CategoryFood          Category = "food"
	CategoryGroceries     Category = "groceries"
	CategoryShopping      Category = "shopping"
	CategoryBills         Category = "bills"
	CategoryEntertainment Category = "entertainment"
	CategoryTravel        Category = "travel"
	CategoryHealthcare    Category = "healthcare"
	CategoryOther         Category = "other"
)

// Categories lists every valid category in declaration order.
var Categories = []Category{
	CategoryFood,
	CategoryGroceries,
	CategoryShopping,
	CategoryBills,
	CategoryEntertainment,
	CategoryTravel,
	CategoryHealthcare,
	CategoryOther,
}

// Valid reports whether c is a member of the enumeration.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ParseCategory lowercases s and validates it against the enumeration.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// MethodEmailBody tags candidates extracted from the message text.
const MethodEmailBody = "email_body"

// SourceMeta records where a candidate came from.
type SourceMeta struct {
	Subject       string `json:"subject"`
	From          string `json:"from"`
	HasAttachment bool   `json:"has_attachment"`
}

// ParsedCandidate is an unpersisted extraction result pending dedup.
type ParsedCandidate struct {
	MessageID  string          `json:"message_id"`
	Merchant   string          `json:"merchant"`
	Category   Category        `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Date       time.Time       `json:"date"`
	Confidence float64         `json:"confidence"`
	RawText    string          `json:"raw_text"`
	Method     string          `json:"extraction_method"`
	Source     SourceMeta      `json:"metadata"`
}

// Invoice is a persisted purchase record. (UserID, MessageID) is unique.
type Invoice struct {
	ID         int64           `json:"id"`
	UserID     string          `json:"user_id"`
	MessageID  string          `json:"message_id"`
	Merchant   string          `json:"merchant"`
	Category   Category        `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Date       time.Time       `json:"date"`
	Confidence float64         `json:"confidence"`
	RawText    string          `json:"raw_text,omitempty"`
	Method     string          `json:"extraction_method"`
	Source     SourceMeta      `json:"metadata"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewInvoice materialises a candidate for userID.
func NewInvoice(userID string, c *ParsedCandidate) Invoice {
	return Invoice{
		UserID:     userID,
		MessageID:  c.MessageID,
		Merchant:   c.Merchant,
		Category:   c.Category,
		Amount:     c.Amount,
		Currency:   c.Currency,
		Date:       c.Date,
		Confidence: c.Confidence,
		RawText:    c.RawText,
		Method:     c.Method,
		Source:     c.Source,
	}
}

var (
	// ErrConflict is returned when an insert hits the (user, message) constraint.
	ErrConflict = errors.New("invoice already exists")

	// ErrUnauthorized marks an expired or revoked mailbox grant. Retrying
	// cannot succeed without the user re-authorising.
	ErrUnauthorized = errors.New("mailbox authorization failed")

	// ErrNotFound is returned for unknown jobs and invoices.
	ErrNotFound = errors.New("not found")
)

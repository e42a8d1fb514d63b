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

// Package extract turns a BNPL provider message into a ParsedCandidate:
// amount, merchant, category and transaction date. Each concern is an
// ordered list of matchers where the first success wins.
package extract

import (
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/spendlens/ingestion/internal/categorize"
	"github.com/spendlens/ingestion/internal/classify"
	"github.com/spendlens/ingestion/internal/models"
	"github.com/spendlens/ingestion/internal/normalize"
	"github.com/spendlens/ingestion/internal/rules"
)

// Outcome describes what happened to a message.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeNotPurchase Outcome = "not_purchase"
	OutcomeNoAmount    Outcome = "no_amount"
	OutcomeNoMerchant  Outcome = "no_merchant"
)

// excerptLength bounds the raw text kept on a candidate for audit.
const excerptLength = 500

// Parser runs classify -> extract for one message.
type Parser struct {
	classifier  *classify.Classifier
	categorizer *categorize.Categorizer
	rules       rules.Set
	currency    string
	now         func() time.Time
}

// ParserConfig holds the parser's dependencies.
type ParserConfig struct {
	Rules    rules.Set
	Currency string
	Now      func() time.Time // defaults to time.Now
}

// NewParser builds a parser from a rule set.
func NewParser(cfg ParserConfig) *Parser {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "INR"
	}
	return &Parser{
		classifier:  classify.Default(cfg.Rules.Providers),
		categorizer: categorize.New(cfg.Rules.Categories),
		rules:       cfg.Rules,
		currency:    currency,
		now:         now,
	}
}

// Parse returns a candidate, or nil with the reason the message was dropped.
// A candidate is only produced when both amount and merchant resolve.
func (p *Parser) Parse(msg *models.RawMessage) (*models.ParsedCandidate, Outcome) {
	text := normalize.Text(msg.Body)

	verdict := p.classifier.Classify(msg.Subject, text)
	if verdict.Skip {
		slog.Debug("message skipped", "message_id", msg.ID, "rule", verdict.Rule)
		return nil, OutcomeSkipped
	}
	if !verdict.Purchase {
		slog.Debug("no purchase indicator", "message_id", msg.ID)
		return nil, OutcomeNotPurchase
	}

	amount, ok := AmountFrom(msg.Subject, text)
	if !ok {
		slog.Debug("no amount found", "message_id", msg.ID)
		return nil, OutcomeNoAmount
	}

	brand, ok := Merchant(msg.Subject+" "+msg.From+" "+text, p.rules)
	if !ok {
		slog.Debug("no merchant found", "message_id", msg.ID, "subject", msg.Subject)
		return nil, OutcomeNoMerchant
	}

	category := brand.Category
	confidence := brand.Confidence
	if !category.Valid() || category == models.CategoryOther {
		r := p.categorizer.Categorize(brand.Name, text)
		category, confidence = r.Category, r.Confidence
	}

	header := msg.Date
	if header == "" {
		header = msg.Headers["Date"]
	}

	return &models.ParsedCandidate{
		MessageID:  msg.ID,
		Merchant:   brand.Name,
		Category:   category,
		Amount:     amount,
		Currency:   p.currency,
		Date:       Date(header, text, p.now()),
		Confidence: confidence,
		RawText:    excerpt(text, excerptLength),
		Method:     models.MethodEmailBody,
		Source: models.SourceMeta{
			Subject:       msg.Subject,
			From:          msg.From,
			HasAttachment: msg.HasAttachment,
		},
	}, OutcomeAccepted
}

// Categorize exposes the parser's standalone categorizer.
func (p *Parser) Categorize(merchant, text string) categorize.Result {
	return p.categorizer.Categorize(merchant, text)
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

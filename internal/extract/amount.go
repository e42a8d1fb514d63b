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

package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountMatcher tries to find an amount in text.
type AmountMatcher func(text string) (decimal.Decimal, bool)

const number = `([0-9,]+(?:\.\d{1,2})?)`

var (
	maxAmount = decimal.NewFromInt(1_000_000)

	// AmountMatchers run in priority order; the first success wins.
	AmountMatchers = []AmountMatcher{
		patternAmount(regexp.MustCompile(`₹\s*` + number)),
		patternAmount(regexp.MustCompile(`(?i)\bRs\.?\s*` + number)),
		patternAmount(regexp.MustCompile(`(?i)\bINR\s*` + number)),
		patternAmount(regexp.MustCompile(`(?i)(?:Amount Paid|Total|Bill|Paid)\s*[:\-]?\s*(?:₹|Rs\.?)?\s*` + number)),
		patternAmount(regexp.MustCompile(`(?i)` + number + `\s*(?:INR|₹|Rs\.?)`)),
		patternAmount(regexp.MustCompile(`(?i)(?:total|amount|paid|payment|price)[\s:]+(?:₹|Rs\.?|INR)?\s*` + number)),
	}
)

// patternAmount builds a matcher from a regexp whose first group is the number.
func patternAmount(re *regexp.Regexp) AmountMatcher {
	return func(text string) (decimal.Decimal, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return decimal.Zero, false
		}
		return parseAmount(m[1])
	}
}

// parseAmount strips thousands separators and applies the sanity bound.
func parseAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.ReplaceAll(raw, ",", "")
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	if !d.IsPositive() || d.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

// Amount returns the first amount any matcher finds in text.
func Amount(text string) (decimal.Decimal, bool) {
	for _, m := range AmountMatchers {
		if d, ok := m(text); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// AmountFrom checks the subject before the body. Footers sometimes quote
// amounts of unrelated older transactions.
func AmountFrom(subject, body string) (decimal.Decimal, bool) {
	if d, ok := Amount(subject); ok {
		return d, true
	}
	return Amount(body)
}

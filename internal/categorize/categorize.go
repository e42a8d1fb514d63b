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

// Package categorize assigns a spending category from keyword hits in a
// merchant name and free text. It works independently of the brand table
// used during extraction.
package categorize

import (
	"strings"

	"github.com/spendlens/ingestion/internal/models"
	"github.com/spendlens/ingestion/internal/rules"
)

// UnclassifiedConfidence is reported for "other" when no keyword matched.
const UnclassifiedConfidence = 0.3

// hitsForFullConfidence is the number of distinct keyword hits that
// saturates confidence at 1.
const hitsForFullConfidence = 3

// Result is a category decision.
type Result struct {
	Category   models.Category `json:"category"`
	Confidence float64         `json:"confidence"`
	Matched    []string        `json:"matched_keywords,omitempty"`
}

// Categorizer scores text against a keyword table.
type Categorizer struct {
	table rules.Table
}

// New returns a categorizer over table.
func New(table rules.Table) *Categorizer {
	return &Categorizer{table: table}
}

// Categorize returns the best-scoring category for merchant and text.
// Ties go to the category declared first.
func (c *Categorizer) Categorize(merchant, text string) Result {
	combined := strings.ToLower(merchant) + " " + strings.ToLower(text)

	best := Result{Category: models.CategoryOther}
	for _, g := range c.table {
		var matched []string
		for _, kw := range g.Keywords {
			if kw != "" && strings.Contains(combined, kw) && !contains(matched, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		confidence := min(float64(len(matched))/hitsForFullConfidence, 1)
		if confidence > best.Confidence {
			best = Result{Category: g.Category, Confidence: confidence, Matched: matched}
		}
	}

	if best.Confidence == 0 {
		best.Confidence = UnclassifiedConfidence
	}
	return best
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

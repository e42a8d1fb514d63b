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
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/spendlens/ingestion/internal/models"
	"github.com/spendlens/ingestion/internal/rules"
)

// Merchant resolution methods, in priority order.
const (
	MethodRelay   = "relay"
	MethodVariant = "variant"
	MethodScan    = "scan"
)

// Brand is a resolved merchant.
type Brand struct {
	Name       string
	Keyword    string
	Category   models.Category
	Method     string
	Confidence float64
}

// relayPatterns capture the merchant a BNPL provider paid on the user's
// behalf, e.g. "LazyPay has paid Swiggy on" or "on Zepto. charged via Simpl".
var relayPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:paid|has paid)\s+([a-z\s]+?)(?:\s+on|\.|\s+private)`),
	regexp.MustCompile(`(?i)\bon\s+([a-z\s\.]+?)\s+charged`),
	regexp.MustCompile(`(?i)\bon\s+([a-z]+?)\.`),
	regexp.MustCompile(`(?i)\bat\s+([a-z]+)`),
	regexp.MustCompile(`(?i)\bfrom\s+([a-z\s]+?)(?:\s+on|\.|\s+private)`),
}

// minReverseMatch is the shortest capture allowed to match as a prefix
// or fragment of a longer keyword ("blink" -> "blinkit").
const minReverseMatch = 4

// minLooseMatch is the shortest keyword allowed to match inside a longer
// capture without word boundaries ("zepto" in "zeptonow").
const minLooseMatch = 5

var titleCaser = cases.Title(language.English)

// Merchant resolves the merchant in text: relay patterns first, then
// official-name variants, then a scan for any brand keyword.
func Merchant(text string, set rules.Set) (Brand, bool) {
	for _, re := range relayPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		capture := strings.ToLower(strings.TrimSpace(m[1]))
		if capture == "" {
			continue
		}
		if b, ok := matchCapture(capture, set.Brands); ok {
			return b, true
		}
	}

	lower := strings.ToLower(text)

	for _, v := range set.Variants {
		if containsWord(lower, v.Official) {
			return newBrand(v.Brand, set.Brands, MethodVariant, 0.9), true
		}
	}

	for _, g := range set.Brands {
		for _, kw := range g.Keywords {
			if containsWord(lower, kw) {
				return newBrand(kw, set.Brands, MethodScan, 0.8), true
			}
		}
	}

	return Brand{}, false
}

// matchCapture compares a relay capture against the brand table in
// both directions.
func matchCapture(capture string, brands rules.Table) (Brand, bool) {
	for _, g := range brands {
		for _, kw := range g.Keywords {
			if containsWord(capture, kw) ||
				(len(kw) >= minLooseMatch && strings.Contains(capture, kw)) ||
				(len(capture) >= minReverseMatch && strings.Contains(kw, capture)) {
				return newBrand(kw, brands, MethodRelay, 0.95), true
			}
		}
	}
	return Brand{}, false
}

func newBrand(keyword string, brands rules.Table, method string, confidence float64) Brand {
	category, ok := brands.Lookup(keyword)
	if !ok {
		category = models.CategoryOther
	}
	return Brand{
		Name:       TitleCase(keyword),
		Keyword:    keyword,
		Category:   category,
		Method:     method,
		Confidence: confidence,
	}
}

// TitleCase capitalises each word of a merchant keyword.
func TitleCase(s string) string {
	return titleCaser.String(strings.ToLower(s))
}

// containsWord reports whether word occurs in text bounded by
// non-alphanumeric characters, so "vi" does not match "via".
func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)
		if boundaryBefore(text, i) && boundaryAfter(text, end) {
			return true
		}
		start = i + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func boundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[end:])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

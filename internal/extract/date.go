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
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateMatcher tries to find a transaction date in text.
type DateMatcher func(text string) (time.Time, bool)

var (
	dayMonthYear = regexp.MustCompile(`(?i)\b(\d{1,2})[-/ ](Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*[-/ ](\d{2,4})\b`)
	isoDate      = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)

	// DateMatchers run in priority order against the body text.
	DateMatchers = []DateMatcher{matchDayMonthYear, matchISODate}
)

// Date prefers the Date header; body dates are sometimes due dates.
// It falls back to now when nothing parses.
func Date(header, text string, now time.Time) time.Time {
	if header = strings.TrimSpace(header); header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t.UTC()
		}
	}
	for _, m := range DateMatchers {
		if t, ok := m(text); ok {
			return t
		}
	}
	return now.UTC()
}

func matchDayMonthYear(text string) (time.Time, bool) {
	m := dayMonthYear.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		year += 2000
	} else if len(m[3]) == 3 {
		return time.Time{}, false
	}
	month, err := time.Parse("Jan", strings.ToUpper(m[2][:1])+strings.ToLower(m[2][1:3]))
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(year, month.Month(), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false // e.g. 31 Feb
	}
	return t, true
}

func matchISODate(text string) (time.Time, bool) {
	m := isoDate.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.DateOnly, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

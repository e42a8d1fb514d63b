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

import "time"

// JobState is the lifecycle state of an ingestion job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no transition may leave s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether s -> to is a legal move.
func (s JobState) CanTransition(to JobState) bool {
	switch s {
	case JobQueued:
		return to == JobActive || to == JobFailed
	case JobActive:
		return to == JobCompleted || to == JobFailed
	default:
		return false
	}
}

// dateRanges maps the named lookback windows to a day count.
var dateRanges = map[string]int{
	"thisMonth":   30,
	"lastMonth":   60,
	"last3Months": 90,
	"last6Months": 180,
	"thisYear":    365,
	"allTime":     730,
}

// DefaultDateRange is used when a job is submitted without a range.
const DefaultDateRange = "thisMonth"

// DateRangeDays returns the lookback window for a named range. Unknown
// names fall back to 30 days.
func DateRangeDays(name string) int {
	if d, ok := dateRanges[name]; ok {
		return d
	}
	return dateRanges[DefaultDateRange]
}

// ValidDateRange reports whether name is one of the known ranges.
func ValidDateRange(name string) bool {
	_, ok := dateRanges[name]
	return ok
}

// JobResult is the terminal payload of a completed job.
type JobResult struct {
	TotalCandidates int       `json:"total_candidates"`
	Persisted       int       `json:"persisted"`
	Invoices        []Invoice `json:"invoices"`
}

// IngestionJob is the orchestration record for one user's ingestion run.
type IngestionJob struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	DateRange string     `json:"date_range"`
	State     JobState   `json:"state"`
	Progress  int        `json:"progress"`
	Attempts  int        `json:"attempts"`
	Result    *JobResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

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

// Package retry runs an operation with exponential backoff and jitter.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behaviour. Attempts counts the first try.
type Config struct {
	Attempts       int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64 // 0.0 to 1.0, fraction of delay to randomise

	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool

	// OnRetry is called before sleeping with the failed attempt number
	// (1-based) and the delay chosen.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultJobConfig matches the job policy: three attempts starting at 5s
// and doubling.
var DefaultJobConfig = Config{
	Attempts:      3,
	InitialDelay:  5 * time.Second,
	MaxDelay:      time.Minute,
	BackoffFactor: 2.0,
}

// Delay returns the backoff before the attempt following attempt (1-based),
// without jitter.
func (c Config) Delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}
	delay := float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// context is cancelled, or the attempts are exhausted. The last error is
// returned.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.Attempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := float64(cfg.Delay(attempt))
		if cfg.JitterFraction > 0 {
			delay += delay * cfg.JitterFraction * (rand.Float64()*2 - 1)
			if delay < 0 {
				delay = float64(cfg.InitialDelay)
			}
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, time.Duration(delay))
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(time.Duration(delay)):
		}
	}

	return zero, lastErr
}

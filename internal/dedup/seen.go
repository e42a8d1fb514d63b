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

package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultSeenTTL is how long a persisted message id is remembered. The
	// longest lookback window is two years, but the store remains the
	// authority so a shorter TTL only costs an extra download.
	DefaultSeenTTL = 30 * 24 * time.Hour

	seenPrefix = "ingest:seen:"
)

// Seen caches message ids already persisted for a user.
type Seen struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewSeen creates a seen-message cache backed by Redis. A zero ttl uses
// DefaultSeenTTL.
func NewSeen(rdb redis.Cmdable, ttl time.Duration) *Seen {
	if ttl <= 0 {
		ttl = DefaultSeenTTL
	}
	return &Seen{rdb: rdb, ttl: ttl}
}

func seenKey(userID, messageID string) string {
	return fmt.Sprintf("%s%s:%s", seenPrefix, userID, messageID)
}

// Has reports whether messageID is known to be persisted for userID.
func (s *Seen) Has(ctx context.Context, userID, messageID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, seenKey(userID, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("seen EXISTS: %w", err)
	}
	return n > 0, nil
}

// Mark records messageID as persisted for userID.
func (s *Seen) Mark(ctx context.Context, userID, messageID string) error {
	if err := s.rdb.Set(ctx, seenKey(userID, messageID), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("seen SET: %w", err)
	}
	return nil
}

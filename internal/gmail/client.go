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

// Package gmail adapts the Gmail API to the ingester's mailbox interface:
// paged message listing by query and full message retrieval converted to
// models.RawMessage.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/spendlens/ingestion/internal/models"
)

// mailbox is the authenticated user in every Gmail API call.
const mailbox = "me"

// pageSize is the number of ids requested per list call.
const pageSize = 100

// Client reads one user's mailbox.
type Client struct {
	svc *gmailapi.Service
}

// NewClient builds a client from API options (token source, HTTP client,
// endpoint).
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListMessages returns one page of message ids matching query. An empty
// NextPageToken marks the last page.
func (c *Client) ListMessages(ctx context.Context, query, pageToken string) (*models.MessagePage, error) {
	call := c.svc.Users.Messages.List(mailbox).Q(query).MaxResults(pageSize).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", mapError(err))
	}

	page := &models.MessagePage{
		IDs:           make([]string, 0, len(resp.Messages)),
		NextPageToken: resp.NextPageToken,
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// GetMessage retrieves the full message. A message deleted since listing
// returns nil, nil.
func (c *Client) GetMessage(ctx context.Context, id string) (*models.RawMessage, error) {
	msg, err := c.svc.Users.Messages.Get(mailbox, id).Format("full").Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			slog.Warn("message not found (may have been deleted)", "message_id", id)
			return nil, nil
		}
		return nil, fmt.Errorf("get message %s: %w", id, mapError(err))
	}
	return convertMessage(msg), nil
}

// mapError folds credential failures into models.ErrUnauthorized so the
// job fails without retrying. A 403 for quota throttling stays a plain
// error and is retried.
func mapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized,
			apiErr.Code == http.StatusForbidden && !usageLimited(apiErr):
			return fmt.Errorf("%w: %s", models.ErrUnauthorized, apiErr.Message)
		}
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
		return fmt.Errorf("%w: %s", models.ErrUnauthorized, retrieveErr.ErrorDescription)
	}
	return err
}

// usageLimitReasons are the 403 reasons Gmail uses for quota throttling.
var usageLimitReasons = map[string]bool{
	"rateLimitExceeded":       true,
	"userRateLimitExceeded":   true,
	"dailyLimitExceeded":      true,
	"quotaExceeded":           true,
	"concurrentLimitExceeded": true,
}

// usageLimited reports whether a 403 is throttling rather than a denied grant.
func usageLimited(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if usageLimitReasons[item.Reason] {
			return true
		}
	}
	return false
}

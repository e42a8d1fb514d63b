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

package gmail

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenStore looks up a user's stored refresh token.
type TokenStore interface {
	RefreshToken(ctx context.Context, userID string) (string, error)
}

// Connector opens per-user mailbox clients from stored refresh tokens.
type Connector struct {
	oauth  *oauth2.Config
	tokens TokenStore
	opts   []option.ClientOption
}

// NewConnector creates a connector for the Google OAuth client. Extra
// options are passed to every client (tests point them at a fake server).
func NewConnector(clientID, clientSecret, redirectURL string, tokens TokenStore, opts ...option.ClientOption) *Connector {
	return &Connector{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmailapi.GmailReadonlyScope},
		},
		tokens: tokens,
		opts:   opts,
	}
}

// Open returns a client for userID. The access token is refreshed lazily
// on the first API call, so a revoked grant surfaces from ListMessages.
func (c *Connector) Open(ctx context.Context, userID string) (*Client, error) {
	refresh, err := c.tokens.RefreshToken(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load refresh token for %s: %w", userID, err)
	}

	ts := c.oauth.TokenSource(context.WithoutCancel(ctx), &oauth2.Token{RefreshToken: refresh})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	return NewClient(ctx, opts...)
}

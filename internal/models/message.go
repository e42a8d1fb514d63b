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

// Package models defines the data structures shared across the ingestion service.
package models

// Part is one node of a message body tree. Leaf parts carry a base64
// payload; multipart nodes carry children instead.
type Part struct {
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     string `json:"data,omitempty"`
	Parts    []Part `json:"parts,omitempty"`
}

// RawMessage is a provider message as returned by the mail client.
type RawMessage struct {
	ID            string            `json:"id"`
	Subject       string            `json:"subject"`
	From          string            `json:"from"`
	Date          string            `json:"date,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          Part              `json:"body"`
	HasAttachment bool              `json:"has_attachment"`
}

// MessagePage is one page of a message listing.
type MessagePage struct {
	IDs           []string
	NextPageToken string
}

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
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/spendlens/ingestion/internal/models"
)

// convertMessage maps a Gmail API message into a RawMessage.
func convertMessage(msg *gmailapi.Message) *models.RawMessage {
	raw := &models.RawMessage{
		ID:      msg.Id,
		Headers: map[string]string{},
	}
	if msg.Payload == nil {
		return raw
	}

	for _, h := range msg.Payload.Headers {
		raw.Headers[h.Name] = h.Value
		switch h.Name {
		case "Subject":
			raw.Subject = h.Value
		case "From":
			raw.From = h.Value
		case "Date":
			raw.Date = h.Value
		}
	}

	raw.Body = convertPart(msg.Payload)
	raw.HasAttachment = hasAttachment(msg.Payload)
	return raw
}

func convertPart(p *gmailapi.MessagePart) models.Part {
	part := models.Part{
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

func hasAttachment(p *gmailapi.MessagePart) bool {
	if p.Filename != "" || (p.Body != nil && p.Body.AttachmentId != "") {
		return true
	}
	for _, child := range p.Parts {
		if child != nil && hasAttachment(child) {
			return true
		}
	}
	return false
}

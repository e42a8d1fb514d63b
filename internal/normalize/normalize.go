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

// Package normalize flattens a message body tree into a single line of
// plain text for the classifier and extractor.
package normalize

import (
	"encoding/base64"
	"strings"

	"golang.org/x/net/html"

	"github.com/spendlens/ingestion/internal/models"
)

// skipElements hold no visible text.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"title":    true,
	"noscript": true,
	"template": true,
}

// blockElements break the text flow.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "td": true,
	"th": true, "table": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "section": true, "header": true, "footer": true,
}

// Text walks body depth-first and returns its visible text with every
// run of whitespace collapsed to one space. Parts that fail to decode
// contribute nothing.
func Text(body models.Part) string {
	var b strings.Builder
	walk(&b, body)
	return Collapse(b.String())
}

// Collapse replaces whitespace runs with a single space and trims.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func walk(b *strings.Builder, p models.Part) {
	if p.Data != "" {
		switch mediaType(p.MimeType) {
		case "text/plain":
			appendText(b, decode(p.Data))
		case "text/html":
			appendText(b, HTMLText(decode(p.Data)))
		}
	}
	for _, child := range p.Parts {
		walk(b, child)
	}
}

func appendText(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(s)
}

// HTMLText returns the visible text of an HTML document.
func HTMLText(src string) string {
	if src == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if skipElements[tag] {
				return
			}
			if blockElements[tag] {
				b.WriteByte(' ')
				defer b.WriteByte(' ')
			}
		case html.TextNode:
			b.WriteString(n.Data)
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)

	return Collapse(b.String())
}

// decode accepts Gmail's URL-safe alphabet as well as standard base64,
// with or without padding.
func decode(data string) string {
	data = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, data)

	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if out, err := enc.DecodeString(data); err == nil {
			return string(out)
		}
	}
	return ""
}

func mediaType(mimeType string) string {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

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

// Package classify decides whether a BNPL provider message reports a
// chargeable purchase. Skip rules run first and short-circuit; a message
// that survives them must contain at least one purchase indicator.
package classify

import (
	"strings"
)

// Kind separates rejecting rules from accepting ones.
type Kind int

const (
	Skip Kind = iota
	Accept
)

// Rule is a named predicate over lowercased subject+body text.
type Rule struct {
	Name  string
	Kind  Kind
	Match func(text string) bool
}

// Verdict is the outcome of classifying one message.
type Verdict struct {
	Purchase bool
	Skip     bool
	Rule     string // rule that decided the verdict, empty when nothing matched
}

// Classifier evaluates its rules in order: all skip rules, then accept rules.
type Classifier struct {
	skip   []Rule
	accept []Rule
}

// New builds a classifier. Rules keep their relative order within each kind.
func New(rules ...Rule) *Classifier {
	c := &Classifier{}
	for _, r := range rules {
		if r.Kind == Skip {
			c.skip = append(c.skip, r)
		} else {
			c.accept = append(c.accept, r)
		}
	}
	return c
}

// Default returns the classifier for the given provider names.
func Default(providers []string) *Classifier {
	return New(DefaultRules(providers)...)
}

// Classify evaluates subject and body.
func (c *Classifier) Classify(subject, body string) Verdict {
	text := strings.ToLower(subject + " " + body)

	for _, r := range c.skip {
		if r.Match(text) {
			return Verdict{Skip: true, Rule: r.Name}
		}
	}
	for _, r := range c.accept {
		if r.Match(text) {
			return Verdict{Purchase: true, Rule: r.Name}
		}
	}
	return Verdict{}
}

// PurchaseIndicators are the phrases a purchase notice must contain.
var PurchaseIndicators = []string{
	"charged via",
	"added to bill",
	"added to your",
	"has paid",
	"purchase of",
	"order on",
	"on behalf",
	"payment successful on",
	"payment of",
}

// DefaultRules returns the skip rules followed by the indicator rule.
func DefaultRules(providers []string) []Rule {
	duesPhrases := make([]string, 0, len(providers))
	for _, p := range providers {
		duesPhrases = append(duesPhrases, strings.ToLower(p)+" dues")
	}

	return []Rule{
		{Name: "schedule_complete", Kind: Skip, Match: allOf("all scheduled", "payments complete")},
		{Name: "installment_reminder", Kind: Skip, Match: allOf("pay-in-3", "payment of")},
		{Name: "dues", Kind: Skip, Match: func(text string) bool {
			return allOf("your", "dues")(text) || anyOf(duesPhrases...)(text)
		}},
		{Name: "due_reminder", Kind: Skip, Match: allOf("reminder", "due")},
		{Name: "outstanding", Kind: Skip, Match: anyOf("clear your dues", "outstanding amount")},
		{Name: "promotion", Kind: Skip, Match: allOf("flat", "off")},
		{Name: "account_activated", Kind: Skip, Match: anyOf("account activated")},
		{Name: "repayment_received", Kind: Skip, Match: func(text string) bool {
			return strings.Contains(text, "payment received") &&
				!strings.Contains(text, "on ") &&
				!strings.Contains(text, "charged")
		}},
		{Name: "purchase_indicator", Kind: Accept, Match: anyOf(PurchaseIndicators...)},
	}
}

func allOf(phrases ...string) func(string) bool {
	return func(text string) bool {
		for _, p := range phrases {
			if !strings.Contains(text, p) {
				return false
			}
		}
		return true
	}
}

func anyOf(phrases ...string) func(string) bool {
	return func(text string) bool {
		for _, p := range phrases {
			if strings.Contains(text, p) {
				return true
			}
		}
		return false
	}
}

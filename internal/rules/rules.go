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

// Package rules holds the keyword tables used by the classifier, the
// field extractor and the categorizer. Tables are values: extending one
// returns a new table and leaves the original untouched.
package rules

import (
	"slices"
	"strings"

	"github.com/spendlens/ingestion/internal/models"
)

// Group is the ordered keyword list for one category.
type Group struct {
	Category models.Category `yaml:"category"`
	Keywords []string        `yaml:"keywords"`
}

// Table is an ordered list of category groups. Order matters: the first
// group containing a keyword wins.
type Table []Group

// Variant maps an official or legal merchant name to its consumer brand.
type Variant struct {
	Official string `yaml:"official"`
	Brand    string `yaml:"brand"`
}

// Set bundles every table the pipeline needs.
type Set struct {
	Brands     Table
	Categories Table
	Variants   []Variant
	Providers  []string
}

// Extend returns a copy of t with keywords appended to category. A new
// group is added at the end when category is not present yet. Keywords
// are lowercased and duplicates dropped.
func (t Table) Extend(category models.Category, keywords ...string) Table {
	out := t.clone()
	idx := -1
	for i := range out {
		if out[i].Category == category {
			idx = i
			break
		}
	}
	if idx < 0 {
		out = append(out, Group{Category: category})
		idx = len(out) - 1
	}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || slices.Contains(out[idx].Keywords, kw) {
			continue
		}
		out[idx].Keywords = append(out[idx].Keywords, kw)
	}
	return out
}

// Lookup returns the category of the first group containing keyword.
func (t Table) Lookup(keyword string) (models.Category, bool) {
	keyword = strings.ToLower(keyword)
	for _, g := range t {
		if slices.Contains(g.Keywords, keyword) {
			return g.Category, true
		}
	}
	return "", false
}

func (t Table) clone() Table {
	out := make(Table, len(t))
	for i, g := range t {
		out[i] = Group{Category: g.Category, Keywords: slices.Clone(g.Keywords)}
	}
	return out
}

// WithBrands returns a copy of s with extra brand keywords for category.
func (s Set) WithBrands(category models.Category, keywords ...string) Set {
	s.Brands = s.Brands.Extend(category, keywords...)
	return s
}

// WithCategoryKeywords returns a copy of s with extra categorizer keywords.
func (s Set) WithCategoryKeywords(category models.Category, keywords ...string) Set {
	s.Categories = s.Categories.Extend(category, keywords...)
	return s
}

// WithVariant returns a copy of s with an extra official-name mapping.
func (s Set) WithVariant(official, brand string) Set {
	s.Variants = append(slices.Clone(s.Variants), Variant{
		Official: strings.ToLower(strings.TrimSpace(official)),
		Brand:    strings.ToLower(strings.TrimSpace(brand)),
	})
	return s
}

// Default returns the built-in tables.
func Default() Set {
	return Set{
		Brands:     defaultBrands.clone(),
		Categories: defaultCategories.clone(),
		Variants:   slices.Clone(defaultVariants),
		Providers:  slices.Clone(defaultProviders),
	}
}

// defaultProviders are the BNPL intermediaries whose mail is ingested.
var defaultProviders = []string{"lazypay", "simpl"}

var defaultBrands = Table{
	{Category: models.CategoryFood, Keywords: []string{
		"zomato", "swiggy", "eatsure",
	}},
	{Category: models.CategoryGroceries, Keywords: []string{
		"blinkit", "zepto", "jiomart", "bigbasket", "dunzo", "instamart",
	}},
	{Category: models.CategoryTravel, Keywords: []string{
		"ola", "uber", "indigo", "airindia", "makemytrip", "goibibo",
		"irctc", "redbus", "yatra", "rapido", "spicejet", "vistara",
	}},
	{Category: models.CategoryShopping, Keywords: []string{
		"amazon", "flipkart", "myntra", "ajio", "meesho", "nykaa",
		"croma", "reliance digital", "tata cliq",
	}},
	{Category: models.CategoryEntertainment, Keywords: []string{
		"bookmyshow", "spotify", "netflix", "hotstar", "zee5", "sonyliv",
		"voot", "gaana", "wynk", "prime video", "youtube",
	}},
	{Category: models.CategoryBills, Keywords: []string{
		"amazon pay", "phonepe", "google pay", "paytm", "cred", "electricity",
		"bsnl", "jio", "vi", "airtel", "vodafone", "gas", "water",
	}},
}

var defaultCategories = Table{
	{Category: models.CategoryFood, Keywords: []string{
		"restaurant", "cafe", "coffee", "pizza", "burger", "food", "kitchen",
		"doordash", "ubereats", "grubhub", "postmates", "delivery",
		"mcdonald", "subway", "starbucks", "dominos", "chipotle",
	}},
	{Category: models.CategoryShopping, Keywords: []string{
		"amazon", "ebay", "walmart", "target", "costco", "shop", "store",
		"clothing", "fashion", "mall", "retail", "marketplace",
	}},
	{Category: models.CategoryBills, Keywords: []string{
		"electric", "utility", "water", "gas", "internet", "phone", "mobile",
		"insurance", "rent", "mortgage", "subscription", "netflix", "spotify",
		"hulu", "disney", "prime",
	}},
	{Category: models.CategoryEntertainment, Keywords: []string{
		"movie", "cinema", "theater", "theatre", "concert", "ticket", "event",
		"game", "gaming", "steam", "playstation", "xbox", "nintendo",
	}},
	{Category: models.CategoryTravel, Keywords: []string{
		"airline", "flight", "hotel", "airbnb", "uber", "lyft", "taxi",
		"rental", "car", "parking", "gas station", "fuel", "booking",
	}},
	{Category: models.CategoryHealthcare, Keywords: []string{
		"pharmacy", "medical", "doctor", "hospital", "clinic", "health",
		"dental", "vision", "cvs", "walgreens", "prescription",
	}},
}

var defaultVariants = []Variant{
	{Official: "blink commerce", Brand: "blinkit"},
	{Official: "zepto marketplace", Brand: "zepto"},
	{Official: "jio mart", Brand: "jiomart"},
	{Official: "big basket", Brand: "bigbasket"},
}

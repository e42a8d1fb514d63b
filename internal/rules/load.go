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

package rules

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spendlens/ingestion/internal/models"
)

// overlay mirrors the YAML rules file.
type overlay struct {
	Brands     []Group   `yaml:"brands"`
	Categories []Group   `yaml:"categories"`
	Variants   []Variant `yaml:"variants"`
	Providers  []string  `yaml:"providers"`
}

// LoadFile reads a YAML rules file and returns base extended with it.
func LoadFile(path string, base Set) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return Parse(data, base)
}

// Parse applies a YAML rules document on top of base.
func Parse(data []byte, base Set) (Set, error) {
	var raw overlay
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("parse rules YAML: %w", err)
	}

	out := base
	for _, g := range raw.Brands {
		c, err := models.ParseCategory(string(g.Category))
		if err != nil {
			return base, fmt.Errorf("brands: %w", err)
		}
		out = out.WithBrands(c, g.Keywords...)
	}
	for _, g := range raw.Categories {
		c, err := models.ParseCategory(string(g.Category))
		if err != nil {
			return base, fmt.Errorf("categories: %w", err)
		}
		out = out.WithCategoryKeywords(c, g.Keywords...)
	}
	for _, v := range raw.Variants {
		if v.Official == "" || v.Brand == "" {
			return base, fmt.Errorf("variant needs both official and brand names")
		}
		out = out.WithVariant(v.Official, v.Brand)
	}
	if len(raw.Providers) > 0 {
		providers := slices.Clone(out.Providers)
		for _, p := range raw.Providers {
			providers = append(providers, strings.ToLower(strings.TrimSpace(p)))
		}
		out.Providers = providers
	}
	return out, nil
}

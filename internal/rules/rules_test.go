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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/ingestion/internal/models"
)

func TestTable_ExtendReturnsCopy(t *testing.T) {
	base := Default()
	extended := base.Brands.Extend(models.CategoryFood, "EatFit", "swiggy")

	cat, ok := extended.Lookup("eatfit")
	require.True(t, ok)
	assert.Equal(t, models.CategoryFood, cat)

	_, ok = base.Brands.Lookup("eatfit")
	assert.False(t, ok, "original table must not change")

	food := extended[0]
	assert.Equal(t, 1, countOf(food.Keywords, "swiggy"), "duplicates are dropped")
}

func TestTable_ExtendNewCategory(t *testing.T) {
	tbl := Default().Brands.Extend(models.CategoryHealthcare, "pharmeasy")
	last := tbl[len(tbl)-1]
	assert.Equal(t, models.CategoryHealthcare, last.Category)
	assert.Equal(t, []string{"pharmeasy"}, last.Keywords)
}

func TestDefault_Independent(t *testing.T) {
	a := Default()
	a.Brands[0].Keywords[0] = "mutated"
	b := Default()
	assert.Equal(t, "zomato", b.Brands[0].Keywords[0])
}

func TestParse_Overlay(t *testing.T) {
	doc := []byte(`
brands:
  - category: groceries
    keywords: [swiggy genie, countrydelight]
categories:
  - category: healthcare
    keywords: [apollo]
variants:
  - official: Bundl Technologies
    brand: swiggy
providers: [Slice]
`)
	set, err := Parse(doc, Default())
	require.NoError(t, err)

	cat, ok := set.Brands.Lookup("countrydelight")
	require.True(t, ok)
	assert.Equal(t, models.CategoryGroceries, cat)

	cat, ok = set.Categories.Lookup("apollo")
	require.True(t, ok)
	assert.Equal(t, models.CategoryHealthcare, cat)

	assert.Contains(t, set.Variants, Variant{Official: "bundl technologies", Brand: "swiggy"})
	assert.Contains(t, set.Providers, "slice")
}

func TestParse_UnknownCategory(t *testing.T) {
	_, err := Parse([]byte("brands:\n  - category: crypto\n    keywords: [x]\n"), Default())
	assert.Error(t, err)
}

func countOf(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}

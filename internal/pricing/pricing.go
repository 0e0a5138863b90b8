// Package pricing computes call cost from reported token usage.
package pricing

import (
	"sort"
	"strings"
)

// Price is the USD cost per 1,000,000 tokens.
type Price struct {
	In  float64 `yaml:"in" json:"in"`
	Out float64 `yaml:"out" json:"out"`
}

// DefaultPrice applies to models missing from the table.
var DefaultPrice = Price{In: 0.14, Out: 0.28}

// Table maps model IDs to prices. Lookup tries an exact match, then the
// longest configured prefix, then the fallback.
type Table struct {
	models   map[string]Price
	prefixes []string // keys sorted longest first
	fallback Price
}

// NewTable builds a Table. A zero fallback is replaced by DefaultPrice.
func NewTable(models map[string]Price, fallback Price) *Table {
	if fallback == (Price{}) {
		fallback = DefaultPrice
	}
	t := &Table{models: make(map[string]Price, len(models)), fallback: fallback}
	for m, p := range models {
		t.models[m] = p
		t.prefixes = append(t.prefixes, m)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i]) != len(t.prefixes[j]) {
			return len(t.prefixes[i]) > len(t.prefixes[j])
		}
		return t.prefixes[i] < t.prefixes[j]
	})
	return t
}

// DefaultModels returns the built-in per-model prices.
func DefaultModels() map[string]Price {
	return map[string]Price{
		"deepseek-chat":  {In: 0.14, Out: 0.28},
		"deepseek-coder": {In: 0.14, Out: 0.28},
	}
}

// DefaultTable returns the built-in price list.
func DefaultTable() *Table {
	return NewTable(DefaultModels(), DefaultPrice)
}

// Merge returns a new table with overrides applied on top of t.
func (t *Table) Merge(overrides map[string]Price) *Table {
	merged := make(map[string]Price, len(t.models)+len(overrides))
	for m, p := range t.models {
		merged[m] = p
	}
	for m, p := range overrides {
		merged[m] = p
	}
	return NewTable(merged, t.fallback)
}

// Lookup returns the price for model.
func (t *Table) Lookup(model string) Price {
	if p, ok := t.models[model]; ok {
		return p
	}
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(model, prefix) {
			return t.models[prefix]
		}
	}
	return t.fallback
}

// Cost returns prompt/1e6*in + completion/1e6*out for model.
func (t *Table) Cost(model string, promptTokens, completionTokens int) float64 {
	p := t.Lookup(model)
	return float64(promptTokens)/1e6*p.In + float64(completionTokens)/1e6*p.Out
}

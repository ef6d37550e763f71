// Package pricing converts token usage into dollar cost using per-model
// rates quoted per one million tokens.
package pricing

import (
	"errors"
	"fmt"
)

// ErrUnknownModel indicates a model with no pricing entry. Costing fails
// closed so usage is never recorded at a guessed rate.
var ErrUnknownModel = errors.New("no pricing available for model")

// rate holds a model's prices in USD per 1M tokens. Models without a
// cached-input discount charge cached tokens nothing, matching the
// upstream billing behavior of ignoring the cached bucket entirely.
type rate struct {
	input     float64
	cached    float64
	hasCached bool
	output    float64
}

var rates = map[string]rate{
	"gpt-4.5-preview-2025-02-27":               {input: 75.00, cached: 37.50, hasCached: true, output: 150.00},
	"gpt-4.1-nano-2025-04-14":                  {input: 0.10, cached: 0.025, hasCached: true, output: 0.40},
	"gpt-4o":                                   {input: 2.50, cached: 1.25, hasCached: true, output: 10.00},
	"gpt-4o-2024-08-06":                        {input: 2.50, cached: 1.25, hasCached: true, output: 10.00},
	"gpt-4o-2024-11-20":                        {input: 2.50, cached: 1.25, hasCached: true, output: 10.00},
	"gpt-4o-2024-05-13":                        {input: 5.00, output: 15.00},
	"gpt-4o-audio-preview-2024-12-17":          {input: 2.50, output: 10.00},
	"gpt-4o-audio-preview-2024-10-01":          {input: 2.50, output: 10.00},
	"gpt-4o-realtime-preview-2024-12-17":       {input: 5.00, cached: 2.50, hasCached: true, output: 20.00},
	"gpt-4o-realtime-preview-2024-10-01":       {input: 5.00, cached: 2.50, hasCached: true, output: 20.00},
	"gpt-4o-mini-2024-07-18":                   {input: 0.15, cached: 0.075, hasCached: true, output: 0.60},
	"gpt-4o-mini-audio-preview-2024-12-17":     {input: 0.15, output: 0.60},
	"gpt-4o-mini-realtime-preview-2024-12-17":  {input: 0.60, cached: 0.30, hasCached: true, output: 2.40},
	"o1-2024-12-17":                            {input: 15.00, cached: 7.50, hasCached: true, output: 60.00},
	"o1-preview-2024-09-12":                    {input: 15.00, cached: 7.50, hasCached: true, output: 60.00},
	"o1-pro-2025-03-19":                        {input: 150.00, output: 600.00},
	"o3-mini-2025-01-31":                       {input: 1.10, cached: 0.55, hasCached: true, output: 4.40},
	"o1-mini-2024-09-12":                       {input: 1.10, cached: 0.55, hasCached: true, output: 4.40},
	"gpt-4o-mini-search-preview-2025-03-11":    {input: 0.15, output: 0.60},
	"gpt-4o-search-preview-2025-03-11":         {input: 2.50, output: 10.00},
	"computer-use-preview-2025-03-11":          {input: 3.00, output: 12.00},
	"gpt-3.5-turbo-0125":                       {input: 0.50, output: 1.50},
	"text-embedding-3-small":                   {input: 0.02},
	"text-embedding-3-large":                   {input: 0.13},
}

// Breakdown itemizes the cost of one provider call.
type Breakdown struct {
	PromptTokens       int     `json:"prompt_tokens"`
	CachedPromptTokens int     `json:"cached_prompt_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	TotalTokens        int     `json:"total_tokens"`
	PromptCost         float64 `json:"prompt_cost"`
	CachedCost         float64 `json:"cached_cost"`
	CompletionCost     float64 `json:"completion_cost"`
	TotalCost          float64 `json:"total_cost"`
}

// Cost computes the itemized cost of one call. promptTokens counts new
// input tokens only; cached input tokens pass separately and are charged
// at the model's cached rate when it has one.
func Cost(model string, promptTokens, completionTokens, cachedPromptTokens int) (Breakdown, error) {
	r, ok := rates[model]
	if !ok {
		return Breakdown{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	b := Breakdown{
		PromptTokens:       promptTokens,
		CachedPromptTokens: cachedPromptTokens,
		CompletionTokens:   completionTokens,
		TotalTokens:        promptTokens + cachedPromptTokens + completionTokens,
	}
	b.PromptCost = float64(promptTokens) / 1_000_000 * r.input
	if r.hasCached && cachedPromptTokens > 0 {
		b.CachedCost = float64(cachedPromptTokens) / 1_000_000 * r.cached
	}
	b.CompletionCost = float64(completionTokens) / 1_000_000 * r.output
	b.TotalCost = b.PromptCost + b.CachedCost + b.CompletionCost
	return b, nil
}

// Known reports whether a model carries a pricing entry.
func Known(model string) bool {
	_, ok := rates[model]
	return ok
}

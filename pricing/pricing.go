package pricing

import (
	"strings"
	"sync"

	"github.com/tetherai/tether-go/types"
)

// Price holds per-1K-token unit costs in USD.
type Price struct {
	Input  float64
	Output float64
}

// bundledPricing maps canonical model names to per-1K-token USD costs.
// For every entry, input cost <= output cost; reversed pricing is a
// data-entry defect.
var bundledPricing = map[string]Price{
	"gpt-4.1":                    {Input: 0.003, Output: 0.012},
	"gpt-4.1-mini":               {Input: 0.0008, Output: 0.0032},
	"gpt-4.1-nano":               {Input: 0.0002, Output: 0.0008},
	"gpt-4o":                     {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":                {Input: 0.00015, Output: 0.0006},
	"gpt-4-turbo":                {Input: 0.01, Output: 0.03},
	"gpt-4":                      {Input: 0.03, Output: 0.06},
	"gpt-3.5-turbo":              {Input: 0.0005, Output: 0.002},
	"claude-3-5-sonnet-20241022": {Input: 0.003, Output: 0.015},
	"claude-3-5-sonnet":          {Input: 0.003, Output: 0.015},
	"claude-3-opus-20240229":     {Input: 0.015, Output: 0.075},
	"claude-3-opus":              {Input: 0.015, Output: 0.075},
	"claude-3-sonnet-20240229":   {Input: 0.003, Output: 0.015},
	"claude-3-sonnet":            {Input: 0.003, Output: 0.015},
	"claude-3-haiku-20240307":    {Input: 0.00025, Output: 0.00125},
	"claude-3-haiku":             {Input: 0.00025, Output: 0.00125},
	"gemini-1.5-pro":             {Input: 0.00125, Output: 0.005},
	"gemini-1.5-flash":           {Input: 0.000075, Output: 0.0003},
	"gemini-1.5-flash-8b":        {Input: 0.0000375, Output: 0.00015},
	"llama-3-70b":                {Input: 0.0008, Output: 0.0008},
	"llama-3-8b":                 {Input: 0.0002, Output: 0.0002},
	"mixtral-8x7b":               {Input: 0.00024, Output: 0.00024},
	"mistral-small":              {Input: 0.001, Output: 0.003},
	"mistral-medium":             {Input: 0.0024, Output: 0.0072},
	"mistral-large":              {Input: 0.004, Output: 0.012},
}

// modelAliases normalizes common shorthand names to canonical ones.
// Lookup is case-insensitive and whitespace-trimmed.
var modelAliases = map[string]string{
	"gpt4o":                    "gpt-4o",
	"gpt-4o":                   "gpt-4o",
	"gpt4o-mini":               "gpt-4o-mini",
	"gpt-4-turbo":              "gpt-4-turbo",
	"gpt4":                     "gpt-4",
	"gpt-4":                    "gpt-4",
	"gpt-3.5-turbo":            "gpt-3.5-turbo",
	"claude-sonnet":            "claude-3-5-sonnet-20241022",
	"claude-3.5-sonnet":        "claude-3-5-sonnet-20241022",
	"claude-opus":              "claude-3-opus-20240229",
	"claude-3-opus":            "claude-3-opus-20240229",
	"claude-sonnet-20240229":   "claude-3-sonnet-20240229",
	"claude-3-sonnet-20240229": "claude-3-sonnet-20240229",
	"claude-haiku":             "claude-3-haiku-20240307",
	"claude-3-haiku":           "claude-3-haiku-20240307",
}

// Source resolves per-1K unit costs for models the bundled table does
// not know, e.g. a live pricing service.
type Source interface {
	InputCost(model string) (float64, error)
	OutputCost(model string) (float64, error)
}

// Registry maps model identifiers to per-1K-token input/output costs.
// Custom registrations always shadow the bundled table; an optional
// external Source serves models absent from both.
type Registry struct {
	mu       sync.RWMutex
	custom   map[string]Price
	external Source
}

// Option configures a Registry.
type Option func(*Registry)

// WithExternalSource enables a permissive fallback for models the
// bundled table does not cover.
func WithExternalSource(src Source) Option {
	return func(r *Registry) { r.external = src }
}

// NewRegistry creates a pricing registry backed by the bundled table.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{custom: make(map[string]Price)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAlias normalizes a model name and maps known shorthands to
// canonical identifiers. Unresolved names pass through unchanged.
func (r *Registry) ResolveAlias(model string) string {
	normalized := strings.ToLower(strings.TrimSpace(model))
	if canonical, ok := modelAliases[normalized]; ok {
		return canonical
	}
	return model
}

// GetInputCost returns the per-1K-token input cost for a model.
func (r *Registry) GetInputCost(model string) (float64, error) {
	p, err := r.lookup(model)
	if err != nil {
		if r.external != nil {
			return r.external.InputCost(model)
		}
		return 0, err
	}
	return p.Input, nil
}

// GetOutputCost returns the per-1K-token output cost for a model.
func (r *Registry) GetOutputCost(model string) (float64, error) {
	p, err := r.lookup(model)
	if err != nil {
		if r.external != nil {
			return r.external.OutputCost(model)
		}
		return 0, err
	}
	return p.Output, nil
}

func (r *Registry) lookup(model string) (Price, error) {
	resolved := r.ResolveAlias(model)

	r.mu.RLock()
	p, ok := r.custom[resolved]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	if p, ok := bundledPricing[resolved]; ok {
		return p, nil
	}
	return Price{}, &types.UnknownModelError{Model: model}
}

// EstimateCallCost computes the linear per-1K cost of a call.
func (r *Registry) EstimateCallCost(model string, inputTokens, outputTokens int) (float64, error) {
	in, err := r.GetInputCost(model)
	if err != nil {
		return 0, err
	}
	out, err := r.GetOutputCost(model)
	if err != nil {
		return 0, err
	}
	return in*float64(inputTokens)/1000 + out*float64(outputTokens)/1000, nil
}

// RegisterCustomModel inserts or overwrites a custom price entry.
// Subsequent lookups for that key are served from the overlay
// regardless of bundled entries.
func (r *Registry) RegisterCustomModel(model string, inputCost, outputCost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[model] = Price{Input: inputCost, Output: outputCost}
}

// BundledModels returns the canonical names in the bundled table.
func BundledModels() []string {
	models := make([]string, 0, len(bundledPricing))
	for m := range bundledPricing {
		models = append(models, m)
	}
	return models
}

// Package cost estimates provider spend from the token usage recorded on
// raw responses.
package cost

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/brand-radar/internal/model"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityRate holds Perplexity pricing: a flat request fee plus tokens.
type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
	Input    float64 `yaml:"input" mapstructure:"input"`
	Output   float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost of one Anthropic call. Unknown models cost 0.
func (c *Calculator) Claude(modelName string, usage model.TokenUsage) float64 {
	rate, ok := c.rates.Anthropic[modelName]
	if !ok {
		return 0
	}
	return perMTok(usage.InputTokens, rate.Input) + perMTok(usage.OutputTokens, rate.Output)
}

// Perplexity computes the cost of one Perplexity call.
func (c *Calculator) Perplexity(usage model.TokenUsage) float64 {
	r := c.rates.Perplexity
	return r.PerQuery + perMTok(usage.InputTokens, r.Input) + perMTok(usage.OutputTokens, r.Output)
}

// Answer prices one provider answer. Failed calls that consumed no tokens
// are free.
func (c *Calculator) Answer(a model.ProviderAnswer) float64 {
	if a.Failed && a.Usage.InputTokens == 0 && a.Usage.OutputTokens == 0 {
		return 0
	}
	switch a.Provider {
	case "anthropic":
		return c.Claude(a.Model, a.Usage)
	case "perplexity":
		return c.Perplexity(a.Usage)
	}
	return 0
}

func perMTok(tokens int, rate float64) float64 {
	return (float64(tokens) / 1e6) * rate
}

// ProviderSpend aggregates calls to one provider.
type ProviderSpend struct {
	Provider string           `json:"provider"`
	Calls    int              `json:"calls"`
	Failed   int              `json:"failed"`
	Usage    model.TokenUsage `json:"usage"`
	USD      float64          `json:"usd"`
}

// Summary is the spend of a whole job.
type Summary struct {
	Providers []ProviderSpend `json:"providers"`
	TotalUSD  float64         `json:"total_usd"`
}

// Summarize tallies every provider answer of a job.
func (c *Calculator) Summarize(responses []model.RawResponse) Summary {
	by := make(map[string]*ProviderSpend)
	var total float64
	for _, r := range responses {
		for _, a := range r.Answers {
			ps, ok := by[a.Provider]
			if !ok {
				ps = &ProviderSpend{Provider: a.Provider}
				by[a.Provider] = ps
			}
			ps.Calls++
			if a.Failed {
				ps.Failed++
			}
			ps.Usage.Add(a.Usage)
			usd := c.Answer(a)
			ps.USD += usd
			total += usd
		}
	}

	out := Summary{TotalUSD: total}
	for _, ps := range by {
		out.Providers = append(out.Providers, *ps)
	}
	sort.Slice(out.Providers, func(i, j int) bool { return out.Providers[i].Provider < out.Providers[j].Provider })
	return out
}

// Log writes the summary at info level.
func (s Summary) Log(jobID string) {
	fields := []zap.Field{zap.String("job_id", jobID), zap.Float64("total_usd", s.TotalUSD)}
	for _, p := range s.Providers {
		fields = append(fields,
			zap.Int(p.Provider+"_calls", p.Calls),
			zap.Int(p.Provider+"_failed", p.Failed),
			zap.Int(p.Provider+"_input_tokens", p.Usage.InputTokens),
			zap.Int(p.Provider+"_output_tokens", p.Usage.OutputTokens),
		)
	}
	zap.L().Info("cost: job spend", fields...)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		Perplexity: PerplexityRate{PerQuery: 0.005, Input: 1.00, Output: 1.00},
	}
}

// Package cost prices provider calls from token usage.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityRate combines the flat request fee with token pricing.
type PerplexityRate struct {
	PerQuery float64              `yaml:"per_query" mapstructure:"per_query"`
	Models   map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// Usage is the token count reported by a provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Calculator computes costs for API usage. A nil Calculator prices
// everything at 0.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Anthropic prices a Claude message. Unknown models cost 0.
func (c *Calculator) Anthropic(model string, u Usage) float64 {
	if c == nil {
		return 0
	}
	return tokens(c.rates.Anthropic, model, u)
}

// Gemini prices a generateContent call. Unknown models cost 0.
func (c *Calculator) Gemini(model string, u Usage) float64 {
	if c == nil {
		return 0
	}
	return tokens(c.rates.Gemini, model, u)
}

// Perplexity prices a chat completion: the per-query fee plus tokens when
// the model has a rate.
func (c *Calculator) Perplexity(model string, u Usage) float64 {
	if c == nil {
		return 0
	}
	return c.rates.Perplexity.PerQuery + tokens(c.rates.Perplexity.Models, model, u)
}

func tokens(rates map[string]ModelRate, model string, u Usage) float64 {
	rate, ok := rates[model]
	if !ok {
		return 0
	}
	return float64(u.InputTokens)/1e6*rate.Input + float64(u.OutputTokens)/1e6*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		},
		Perplexity: PerplexityRate{
			PerQuery: 0.005,
			Models: map[string]ModelRate{
				"sonar":     {Input: 1.00, Output: 1.00},
				"sonar-pro": {Input: 3.00, Output: 15.00},
			},
		},
	}
}

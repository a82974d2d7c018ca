package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku":  {Input: 0.80, Output: 4.00},
			"sonnet": {Input: 3.00, Output: 15.00},
		},
		Gemini: map[string]ModelRate{
			"flash": {Input: 0.30, Output: 2.50},
		},
		Perplexity: PerplexityRate{
			PerQuery: 0.005,
			Models:   map[string]ModelRate{"sonar": {Input: 1, Output: 1}},
		},
	}
}

func TestAnthropic(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name  string
		model string
		usage Usage
		want  float64
	}{
		{"haiku", "haiku", Usage{InputTokens: 1_000_000, OutputTokens: 100_000}, 0.80 + 0.40},
		{"sonnet small", "sonnet", Usage{InputTokens: 2000, OutputTokens: 500}, 0.006 + 0.0075},
		{"zero usage", "sonnet", Usage{}, 0},
		{"unknown model", "gpt", Usage{InputTokens: 1_000_000}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Anthropic(tt.model, tt.usage), 1e-9)
		})
	}
}

func TestGemini(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.30+2.50, calc.Gemini("flash", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}), 1e-9)
	assert.Equal(t, 0.0, calc.Gemini("pro", Usage{InputTokens: 10}))
}

func TestPerplexity(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.005+0.002, calc.Perplexity("sonar", Usage{InputTokens: 1000, OutputTokens: 1000}), 1e-9)
	// flat fee still applies to unpriced models
	assert.InDelta(t, 0.005, calc.Perplexity("sonar-reasoning", Usage{InputTokens: 1000}), 1e-9)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	assert.Contains(t, r.Anthropic, "claude-sonnet-4-5-20250929")
	assert.Contains(t, r.Gemini, "gemini-2.5-flash")
	assert.Greater(t, r.Perplexity.PerQuery, 0.0)
}

func TestNilCalculator(t *testing.T) {
	t.Parallel()
	var calc *Calculator
	u := Usage{InputTokens: 1000, OutputTokens: 1000}
	assert.Zero(t, calc.Anthropic("claude-opus-4-6", u))
	assert.Zero(t, calc.Gemini("gemini-2.5-pro", u))
	assert.Zero(t, calc.Perplexity("sonar", u))
}

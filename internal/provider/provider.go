// Package provider runs one competitor through the selected external AI
// providers and folds their replies into a job result.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/competitor-intel/internal/apperr"
	"github.com/sells-group/competitor-intel/internal/cost"
)

// Name identifies a supported provider.
type Name string

const (
	Anthropic  Name = "anthropic"
	Perplexity Name = "perplexity"
	Gemini     Name = "gemini"
)

// Names lists every supported provider in a stable order.
func Names() []Name {
	return []Name{Anthropic, Perplexity, Gemini}
}

// Valid reports whether n is a supported provider.
func (n Name) Valid() bool {
	switch n {
	case Anthropic, Perplexity, Gemini:
		return true
	}
	return false
}

// ParseName converts user input into a Name.
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	if !n.Valid() {
		return "", apperr.Validation("unknown provider %q", s)
	}
	return n, nil
}

// Request is one research prompt for one competitor.
type Request struct {
	Competitor string
	Industry   string
	Model      string
	Prompt     string
}

// Response is a provider's raw reply.
type Response struct {
	Text    string
	Model   string
	Usage   cost.Usage
	CostUSD float64
}

// Adapter wraps one external AI service.
type Adapter interface {
	Name() Name
	Query(ctx context.Context, req Request) (*Response, error)
}

// BuildPrompt renders the research prompt sent to every provider.
func BuildPrompt(competitor, industry string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce a competitive analysis of %q", competitor)
	if industry != "" {
		fmt.Fprintf(&b, " in the %s industry", industry)
	}
	b.WriteString(". Reply with a single JSON object with the keys overview, products, target_market, pricing, strengths, weaknesses, recent_news and website.")
	return b.String()
}

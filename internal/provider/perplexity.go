package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/competitor-intel/internal/cost"
	"github.com/sells-group/competitor-intel/internal/resilience"
	"github.com/sells-group/competitor-intel/pkg/perplexity"
)

// chatter is the part of *perplexity.Client the adapter needs.
type chatter interface {
	Chat(ctx context.Context, req perplexity.ChatRequest) (*perplexity.ChatReply, error)
}

type perplexityAdapter struct {
	client   chatter
	settings ProviderSettings
	calc     *cost.Calculator
}

// NewPerplexity adapts a chat completions client.
func NewPerplexity(client chatter, s ProviderSettings, calc *cost.Calculator) Adapter {
	return &perplexityAdapter{client: client, settings: s, calc: calc}
}

func (a *perplexityAdapter) Name() Name { return Perplexity }

func (a *perplexityAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.settings.Model
	}
	temp := a.settings.Temperature
	maxTokens := a.settings.MaxTokens

	resp, err := a.client.Chat(ctx, perplexity.ChatRequest{
		Model: model,
		Messages: []perplexity.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Temperature:   &temp,
		MaxTokens:     &maxTokens,
		SearchRecency: a.settings.SearchRecency,
	})
	if err != nil {
		var apiErr *perplexity.APIError
		if errors.As(err, &apiErr) {
			return nil, &resilience.StatusError{Service: string(Perplexity), StatusCode: apiErr.StatusCode, Body: apiErr.Message}
		}
		return nil, err
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, eris.New("perplexity: empty reply")
	}
	if len(resp.Citations) > 0 {
		text += "\n\nSources:\n- " + strings.Join(resp.Citations, "\n- ")
	}

	usage := cost.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	return &Response{
		Text:    text,
		Model:   model,
		Usage:   usage,
		CostUSD: a.calc.Perplexity(model, usage),
	}, nil
}

package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/competitor-intel/internal/cost"
	"github.com/sells-group/competitor-intel/internal/resilience"
	"github.com/sells-group/competitor-intel/pkg/anthropic"
)

const systemPrompt = "You are a market research analyst. Answer with factual, sourced information only."

// asker is the part of *anthropic.Client the adapter needs.
type asker interface {
	Ask(ctx context.Context, p anthropic.Prompt) (*anthropic.Answer, error)
}

type anthropicAdapter struct {
	client   asker
	settings ProviderSettings
	calc     *cost.Calculator
}

// NewAnthropic adapts a Messages API client.
func NewAnthropic(client asker, s ProviderSettings, calc *cost.Calculator) Adapter {
	return &anthropicAdapter{client: client, settings: s, calc: calc}
}

func (a *anthropicAdapter) Name() Name { return Anthropic }

func (a *anthropicAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.settings.Model
	}
	temp := a.settings.Temperature

	ans, err := a.client.Ask(ctx, anthropic.Prompt{
		Model:       model,
		System:      systemPrompt,
		User:        req.Prompt,
		MaxTokens:   int64(a.settings.MaxTokens),
		Temperature: &temp,
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return nil, &resilience.StatusError{Service: string(Anthropic), StatusCode: apiErr.StatusCode, Body: apiErr.Message}
		}
		return nil, err
	}

	if strings.TrimSpace(ans.Text) == "" {
		return nil, eris.Errorf("anthropic: empty reply (stop_reason=%s)", ans.StopReason)
	}

	usage := cost.Usage{InputTokens: int(ans.InputTokens), OutputTokens: int(ans.OutputTokens)}
	return &Response{
		Text:    ans.Text,
		Model:   model,
		Usage:   usage,
		CostUSD: a.calc.Anthropic(model, usage),
	}, nil
}

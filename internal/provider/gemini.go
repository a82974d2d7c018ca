package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/competitor-intel/internal/cost"
	"github.com/sells-group/competitor-intel/internal/resilience"
)

// generator is the slice of the genai client the adapter needs.
type generator interface {
	generate(ctx context.Context, model string, s ProviderSettings, prompt string) (*genai.GenerateContentResponse, error)
	Close() error
}

type genaiGenerator struct {
	client *genai.Client
}

func (g *genaiGenerator) generate(ctx context.Context, model string, s ProviderSettings, prompt string) (*genai.GenerateContentResponse, error) {
	m := g.client.GenerativeModel(model)
	m.SetTemperature(float32(s.Temperature))
	m.SetMaxOutputTokens(int32(s.MaxTokens))
	m.ResponseMIMEType = "application/json"
	m.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	return m.GenerateContent(ctx, genai.Text(prompt))
}

func (g *genaiGenerator) Close() error { return g.client.Close() }

type geminiAdapter struct {
	gen      generator
	settings ProviderSettings
	calc     *cost.Calculator
}

// NewGemini dials the Gemini API with an API key.
func NewGemini(ctx context.Context, apiKey string, s ProviderSettings, calc *cost.Calculator) (Adapter, error) {
	if apiKey == "" {
		return nil, eris.New("gemini: api key is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if s.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(s.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create client")
	}
	return &geminiAdapter{gen: &genaiGenerator{client: client}, settings: s, calc: calc}, nil
}

func (a *geminiAdapter) Name() Name { return Gemini }

// Close releases the underlying client.
func (a *geminiAdapter) Close() error { return a.gen.Close() }

func (a *geminiAdapter) Query(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.settings.Model
	}

	resp, err := a.gen.generate(ctx, model, a.settings, req.Prompt)
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return nil, &resilience.StatusError{Service: string(Gemini), StatusCode: gErr.Code, Body: gErr.Message}
		}
		return nil, eris.Wrap(err, "gemini: generate content")
	}

	text, err := geminiText(resp)
	if err != nil {
		return nil, err
	}

	var usage cost.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return &Response{
		Text:    text,
		Model:   model,
		Usage:   usage,
		CostUSD: a.calc.Gemini(model, usage),
	}, nil
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", eris.New("gemini: no candidates in response")
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		return "", eris.Errorf("gemini: no content in response (finish_reason=%s)", c.FinishReason)
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", eris.New("gemini: no text parts in response")
	}
	return b.String(), nil
}

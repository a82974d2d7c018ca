// Package anthropic wraps the Anthropic Messages API for single-turn
// research prompts.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Prompt is one system plus user turn.
type Prompt struct {
	Model       string
	System      string
	User        string
	MaxTokens   int64
	Temperature *float64
}

// Answer is the flattened assistant reply.
type Answer struct {
	ID           string
	Model        string
	Text         string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
}

// APIError is a non-2xx reply.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: status %d: %s", e.StatusCode, e.Message)
}

// Client sends prompts through the official SDK.
type Client struct {
	api sdk.Client
}

// NewClient returns a client for apiKey. SDK retries are off; the provider
// pool owns retry and backoff.
func NewClient(apiKey string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &Client{api: sdk.NewClient(all...)}
}

// Ask sends p and joins the text blocks of the reply.
func (c *Client) Ask(ctx context.Context, p Prompt) (*Answer, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.Model),
		MaxTokens: p.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(p.User))},
	}
	if p.System != "" {
		params.System = []sdk.TextBlockParam{{Text: p.System}}
	}
	if p.Temperature != nil {
		params.Temperature = sdk.Float(*p.Temperature)
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		var sdkErr *sdk.Error
		if errors.As(err, &sdkErr) {
			return nil, eris.Wrapf(&APIError{StatusCode: sdkErr.StatusCode, Message: sdkErr.Error()}, "anthropic: ask %s", p.Model)
		}
		return nil, eris.Wrapf(err, "anthropic: ask %s", p.Model)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Answer{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Text:         text.String(),
		StopReason:   string(msg.StopReason),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

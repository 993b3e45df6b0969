package cortex

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

const defaultMaxTokens = 2048

// AnthropicClient adapts the Anthropic SDK to the Client interface.
// Credentials come from the environment (ANTHROPIC_API_KEY).
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates the SDK-backed client.
func NewAnthropicClient() *AnthropicClient {
	return &AnthropicClient{client: anthropic.NewClient()}
}

// Complete issues one message request against the given model.
func (c *AnthropicClient) Complete(ctx context.Context, model string, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion with %s: %w", model, err)
	}

	text := ""
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &Response{
		Model:     string(msg.Model),
		Text:      text,
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
	}, nil
}

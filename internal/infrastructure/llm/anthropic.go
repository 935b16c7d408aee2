package llm

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	domainerrors "github.com/aegisops/aegis-soc-backend/internal/domain/errors"
)

// AnthropicProvider adapts the Anthropic Messages API to the Provider
// contract. Thinking budgets only apply when the decision enabled extended
// thinking; temperature is forced to 1 in that mode per API requirements.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates the adapter.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete issues one non-streaming completion.
func (p *AnthropicProvider) Complete(ctx context.Context, modelID string, req *Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if req.ExtendedThinking {
		budget := int64(req.ThinkingBudget)
		if budget == 0 {
			budget = 4096
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	} else {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, domainerrors.NewExternalError("anthropic", "completion request failed").WithCause(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text:         text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		StopReason:   string(msg.StopReason),
	}, nil
}

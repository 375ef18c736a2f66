package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured. Intent
// resolution is a one-word answer, so a small model is enough.
const DefaultAnthropicModel = "claude-haiku-4-5"

// AnthropicProvider implements Provider for Claude and Anthropic-compatible APIs.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	name   string
}

// NewAnthropic creates a new Anthropic provider with a static API key.
func NewAnthropic(apiKey, model string) *AnthropicProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)

	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicProvider{client: &client, model: model}
}

// NewAnthropicCompat creates an Anthropic-compatible provider with a custom base URL.
func NewAnthropicCompat(name, baseURL, apiKey, model string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)

	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicProvider{client: &client, model: model, name: name}
}

func (p *AnthropicProvider) Name() string {
	if p.name != "" {
		return p.name
	}
	return "anthropic"
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := p.client.Messages.New(ctx, params, option.WithRequestTimeout(time.Minute))
	if err != nil {
		perr := &ProviderError{Message: err.Error(), Provider: p.Name()}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			perr.StatusCode = apiErr.StatusCode
		}
		return nil, perr
	}

	var content string
	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += textBlock.Text
		}
	}

	return &CompletionResponse{
		Content:      content,
		Model:        string(message.Model),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		StopReason:   string(message.StopReason),
	}, nil
}

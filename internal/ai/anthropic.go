package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
)

type AnthropicClient struct {
	client anthropic.Client
	apiKey string
	model  string
}

// NewAnthropicClient builds a Messages API client. extra options are passed
// through to the SDK (base URL overrides in tests, for example).
func NewAnthropicClient(apiKey, model string, extra ...option.RequestOption) *AnthropicClient {
	opts := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, extra...)
	return &AnthropicClient{client: anthropic.NewClient(opts...), apiKey: apiKey, model: model}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Do(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, fmt.Errorf("anthropic: %w", ErrMissingKey)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	ctx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return Response{}, ErrRateLimited
		}
		return Response{}, fmt.Errorf("anthropic api error: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			log.Debug().
				Int("size", len(block.Text)).
				Int64("tokens_in", message.Usage.InputTokens).
				Int64("tokens_out", message.Usage.OutputTokens).
				Msg("anthropic response")
			return Response{
				Text:      block.Text,
				TokensIn:  int(message.Usage.InputTokens),
				TokensOut: int(message.Usage.OutputTokens),
			}, nil
		}
	}
	return Response{}, ErrNoContent
}

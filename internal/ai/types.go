package ai

import (
	"context"
	"errors"
	"time"
)

// Request is one text completion call.
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Timeout      time.Duration
}

type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Client interface for providers like OpenAI, Anthropic.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request) (Response, error)
}

var (
	ErrRateLimited = errors.New("rate_limited")
	ErrMissingKey  = errors.New("missing api key")
	ErrNoContent   = errors.New("no text content in response")
)

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

const defaultMaxTokens = 4096

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

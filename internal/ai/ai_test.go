package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/local/docconvert/internal/config"
)

func TestOpenAIClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req openAIChatReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		if req.Model != "gpt-4o" || len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "fix this" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[]"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o").WithURL(srv.URL)
	resp, err := c.Do(context.Background(), Request{SystemPrompt: "sys", Prompt: "fix this"})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.Text != "[]" || resp.TokensIn != 12 || resp.TokensOut != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOpenAIClientRateLimitAndErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", "m").WithURL(srv.URL)
	if _, err := c.Do(context.Background(), Request{Prompt: "x"}); !IsRateLimited(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	status = http.StatusInternalServerError
	if _, err := c.Do(context.Background(), Request{Prompt: "x"}); err == nil || IsRateLimited(err) {
		t.Fatalf("expected plain error, got %v", err)
	}
	if _, err := NewOpenAIClient("", "m").Do(context.Background(), Request{}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(config.CorrectorConfig{Provider: "none"})
	if err != nil || c != nil {
		t.Fatalf("expected no client, got %v, %v", c, err)
	}
	if _, err := FromConfig(config.CorrectorConfig{Provider: "anthropic"}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	c, err = FromConfig(config.CorrectorConfig{Provider: "OpenAI", OpenAIAPIKey: "k", OpenAIModel: "gpt-4o"})
	if err != nil || c.Name() != "openai" {
		t.Fatalf("unexpected client %v, %v", c, err)
	}
	if _, err := FromConfig(config.CorrectorConfig{Provider: "gemini"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/local/docconvert/internal/limiter"
)

func writeDoc(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scan.pdf")
	if err := os.WriteFile(p, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return p
}

func TestHTTPClientSendsMultipartAndParsesContentHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k-123" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
			return
		}
		for field, want := range map[string]string{
			"ocr":            "force",
			"output_formats": `["html"]`,
			"model":          "document-parse",
		} {
			if got := r.FormValue(field); got != want {
				t.Errorf("field %s = %q, want %q", field, got, want)
			}
		}
		f, hdr, err := r.FormFile("document")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "scan.pdf" || !strings.HasPrefix(string(data), "%PDF") {
			t.Errorf("unexpected upload %s %q", hdr.Filename, data)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": map[string]any{"html": "<p>recognised</p>"},
			"usage":   map[string]any{"pages": 3},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "k-123", "")
	resp, err := c.Recognize(context.Background(), Request{Path: writeDoc(t)})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if resp.HTML != "<p>recognised</p>" || resp.Pages != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHTTPClientFallsBackToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"a < b"}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(srv.URL, "k", "").Recognize(context.Background(), Request{Path: writeDoc(t)})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if resp.HTML != "<p>a &lt; b</p>" {
		t.Fatalf("unexpected html %q", resp.HTML)
	}
}

func TestHTTPClientStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header string
		body   string
		check  func(t *testing.T, err error)
	}{
		{"429", http.StatusTooManyRequests, "7", "slow down", func(t *testing.T, err error) {
			var rl *RateLimitError
			if !errors.As(err, &rl) || rl.RetryAfter != 7*time.Second {
				t.Fatalf("expected RateLimitError with 7s, got %v", err)
			}
		}},
		{"400", http.StatusBadRequest, "", `{"message":"unsupported document"}`, func(t *testing.T, err error) {
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Message != "unsupported document" {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !isFatal(err) {
				t.Fatalf("expected fatal")
			}
		}},
		{"503", http.StatusServiceUnavailable, "", "down", func(t *testing.T, err error) {
			var he *HTTPError
			if !errors.As(err, &he) || he.StatusCode != 503 {
				t.Fatalf("expected HTTPError 503, got %v", err)
			}
			if !isTransient(err) {
				t.Fatalf("expected transient")
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := NewHTTPClient(srv.URL, "k", "").Recognize(context.Background(), Request{Path: writeDoc(t)})
			tc.check(t, err)
		})
	}
}

func TestHTTPClientMissingKeyIsFatal(t *testing.T) {
	_, err := NewHTTPClient("http://unused", "", "").Recognize(context.Background(), Request{Path: "x.pdf"})
	if !isFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) Recognize(ctx context.Context, req Request) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	return Response{HTML: "<p>ok</p>"}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetrierRetriesTransientThenSucceeds(t *testing.T) {
	next := &scripted{errs: []error{&HTTPError{StatusCode: 502}, context.DeadlineExceeded}}
	r := NewRetrier(next, limiter.New([]time.Duration{time.Millisecond}), RetryOptions{MaxRetries: 3, BaseDelay: time.Millisecond})
	r.sleep = noSleep

	resp, err := r.Recognize(context.Background(), Request{Name: "a.pdf"})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if resp.HTML != "<p>ok</p>" || next.calls != 3 {
		t.Fatalf("unexpected result %+v after %d calls", resp, next.calls)
	}
}

func TestRetrierGivesUpAfterMaxRetries(t *testing.T) {
	e := &HTTPError{StatusCode: 500}
	next := &scripted{errs: []error{e, e, e, e, e}}
	r := NewRetrier(next, nil, RetryOptions{MaxRetries: 2, BaseDelay: time.Millisecond})
	r.sleep = noSleep

	_, err := r.Recognize(context.Background(), Request{})
	if err == nil || !errors.As(err, new(*HTTPError)) {
		t.Fatalf("expected wrapped HTTPError, got %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", next.calls)
	}
}

func TestRetrierDoesNotRetryFatal(t *testing.T) {
	next := &scripted{errs: []error{&ValidationError{Message: "bad"}}}
	r := NewRetrier(next, nil, RetryOptions{MaxRetries: 3})
	r.sleep = noSleep
	if _, err := r.Recognize(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error")
	}
	if next.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", next.calls)
	}
}

func TestRetrierRateLimitUsesCooldownAndResets(t *testing.T) {
	cd := limiter.New([]time.Duration{time.Millisecond, 2 * time.Millisecond})
	next := &scripted{errs: []error{&RateLimitError{}, &RateLimitError{}}}
	r := NewRetrier(next, cd, RetryOptions{})

	if _, err := r.Recognize(context.Background(), Request{}); err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", next.calls)
	}
	if cd.Level() != 0 {
		t.Fatalf("cooldown should reset after success, level=%d", cd.Level())
	}
}

func TestRetrierRateLimitBoundedBySchedule(t *testing.T) {
	cd := limiter.New([]time.Duration{time.Millisecond})
	rl := &RateLimitError{}
	next := &scripted{errs: []error{rl, rl, rl}}
	r := NewRetrier(next, cd, RetryOptions{})

	_, err := r.Recognize(context.Background(), Request{})
	if !errors.As(err, new(*RateLimitError)) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", next.calls)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	r := NewRetrier(&scripted{}, nil, RetryOptions{BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := r.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Request names one document (or chunk of one) to recognise.
type Request struct {
	Path string
	// Name is used for the multipart filename and logs; defaults to the base of Path.
	Name string
	// FromPage and ToPage are the 1-based page range the file covers within
	// the original document. Informational only.
	FromPage int
	ToPage   int
}

// Response carries the recognised layout as HTML.
type Response struct {
	HTML string
	// Pages is the page count reported by the service, or 0 if absent.
	Pages int
}

// Recognizer is a remote document recognition call.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (Response, error)
}

// HTTPClient calls a document-parse style endpoint with a multipart upload.
type HTTPClient struct {
	http   *http.Client
	url    string
	apiKey string
	model  string
}

func NewHTTPClient(url, apiKey, model string) *HTTPClient {
	if model == "" {
		model = "document-parse"
	}
	// per-call deadlines come from the caller's context
	return &HTTPClient{http: &http.Client{}, url: url, apiKey: apiKey, model: model}
}

func (c *HTTPClient) Name() string { return "upstage" }

type parseResp struct {
	Content struct {
		HTML string `json:"html"`
		Text string `json:"text"`
	} `json:"content"`
	HTML  string `json:"html"`
	Text  string `json:"text"`
	Usage struct {
		Pages int `json:"pages"`
	} `json:"usage"`
}

func (c *HTTPClient) Recognize(ctx context.Context, req Request) (Response, error) {
	if c.apiKey == "" {
		return Response{}, &ValidationError{Message: "missing recognition API key"}
	}
	name := req.Name
	if name == "" {
		name = filepath.Base(req.Path)
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return Response{}, &ValidationError{Message: fmt.Sprintf("open %s: %v", name, err)}
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, kv := range [][2]string{
		{"ocr", "force"},
		{"output_formats", `["html"]`},
		{"model", c.model},
		{"coordinates", "false"},
	} {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return Response{}, err
		}
	}
	part, err := mw.CreateFormFile("document", name)
	if err != nil {
		return Response{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return Response{}, fmt.Errorf("read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, &RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After")), Body: snippet(raw)}
	case resp.StatusCode == http.StatusBadRequest:
		return Response{}, &ValidationError{Message: errorMessage(raw)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Response{}, &HTTPError{StatusCode: resp.StatusCode, Body: snippet(raw)}
	}

	var r parseResp
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	out := Response{Pages: r.Usage.Pages}
	switch {
	case r.Content.HTML != "":
		out.HTML = r.Content.HTML
	case r.HTML != "":
		out.HTML = r.HTML
	case r.Content.Text != "":
		out.HTML = "<p>" + html.EscapeString(r.Content.Text) + "</p>"
	case r.Text != "":
		out.HTML = "<p>" + html.EscapeString(r.Text) + "</p>"
	default:
		return Response{}, fmt.Errorf("unexpected response shape: %s", snippet(raw))
	}
	return out, nil
}

func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func errorMessage(raw []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		switch v := e.Error.(type) {
		case string:
			return v
		case map[string]any:
			if m, ok := v["message"].(string); ok {
				return m
			}
		}
	}
	return snippet(raw)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticKeys struct {
	key string
	err error
}

func (s staticKeys) ProviderKey(ctx context.Context, provider string) (string, error) {
	return s.key, s.err
}

func newTestClient(provider Provider, url string, keys KeySource, apiKey string) *Client {
	cfg := DefaultClientConfig()
	cfg.Provider = provider
	cfg.BaseURL = url
	cfg.APIKey = apiKey
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg, keys)
}

func testRequest() VisionRequest {
	return VisionRequest{
		System: "system",
		Prompt: "analyze",
		Images: []Image{{Label: "5min", MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
	}
}

func TestClaudeAnalyzeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected /v1/messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("Expected api key header, got %q", r.Header.Get("x-api-key"))
		}

		var req ClaudeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 3 {
			t.Errorf("Expected label, image and prompt blocks, got %+v", req.Messages)
		}
		if req.Messages[0].Content[1].Source == nil || req.Messages[0].Content[1].Source.MediaType != "image/png" {
			t.Errorf("Expected base64 png image block, got %+v", req.Messages[0].Content[1])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"confidence\":0.8}"}]}`))
	}))
	defer server.Close()

	c := newTestClient(ProviderClaude, server.URL, nil, "secret")
	out, err := c.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if out != `{"confidence":0.8}` {
		t.Errorf("Unexpected response text: %s", out)
	}
}

func TestOpenAIAnalyzeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer vault-key" {
			t.Errorf("Expected key from key source, got %q", r.Header.Get("Authorization"))
		}
		var req OpenAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		user := req.Messages[len(req.Messages)-1]
		found := false
		for _, c := range user.Content {
			if c.Type == "image_url" && strings.HasPrefix(c.ImageURL.URL, "data:image/png;base64,") {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected a data URL image in the user message")
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	c := newTestClient(ProviderOpenAI, server.URL, staticKeys{key: "vault-key"}, "")
	out, err := c.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if out != "ok" {
		t.Errorf("Expected ok, got %s", out)
	}
}

func TestAnalyzeErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"type":"authentication_error"}}`, ErrAuth},
		{"forbidden", http.StatusForbidden, `{}`, ErrAuth},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrTransient},
		{"server error", http.StatusBadGateway, `upstream down`, ErrTransient},
		{"garbage body", http.StatusOK, `not json`, ErrTransient},
		{"api error body", http.StatusOK, `{"error":{"type":"overloaded_error","message":"busy"}}`, ErrTransient},
		{"empty content", http.StatusOK, `{"content":[]}`, ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(ProviderClaude, server.URL, nil, "secret")
			_, err := c.Analyze(context.Background(), testRequest())
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected *ProviderError, got %T", err)
			}
		})
	}
}

func TestAnalyzeMissingKeyIsAuth(t *testing.T) {
	c := newTestClient(ProviderClaude, "http://127.0.0.1:1", nil, "")
	_, err := c.Analyze(context.Background(), testRequest())
	if !errors.Is(err, ErrAuth) || !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected auth error wrapping ErrNoAPIKey, got %v", err)
	}

	c = newTestClient(ProviderClaude, "http://127.0.0.1:1", staticKeys{err: errors.New("vault sealed")}, "")
	_, err = c.Analyze(context.Background(), testRequest())
	if KindOf(err) != KindAuth {
		t.Errorf("Expected auth kind for key lookup failure, got %v", err)
	}
}

func TestAnalyzeTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient(ProviderClaude, server.URL, nil, "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Analyze(ctx, testRequest())
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Expected transient error on timeout, got %v", err)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("x")) != KindTransient {
		t.Error("Expected non-provider errors to count as transient")
	}
}

package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider represents the vision provider type
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderOpenAI Provider = "openai"
)

const (
	claudeBaseURL   = "https://api.anthropic.com"
	openAIBaseURL   = "https://api.openai.com"
	anthropicAPIVer = "2023-06-01"
	maxResponseSize = 4 << 20
)

// ClientConfig holds provider client configuration
type ClientConfig struct {
	Provider    Provider      `json:"provider" yaml:"provider"`
	APIKey      string        `json:"api_key" yaml:"api_key"`
	Model       string        `json:"model" yaml:"model"`
	BaseURL     string        `json:"base_url" yaml:"base_url"` // override for proxies and tests
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultClientConfig returns default configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Provider:    ProviderClaude,
		Model:       "claude-sonnet-4-20250514",
		MaxTokens:   2048,
		Temperature: 0.2,
		Timeout:     60 * time.Second,
	}
}

// KeySource resolves an API key at call time, e.g. from Vault
type KeySource interface {
	ProviderKey(ctx context.Context, provider string) (string, error)
}

// Image is one chart screenshot sent with a request
type Image struct {
	Label     string
	MediaType string
	Data      []byte
}

// VisionRequest is a prompt plus images
type VisionRequest struct {
	System string
	Prompt string
	Images []Image
}

// Client is the vision provider API client
type Client struct {
	config     *ClientConfig
	keys       KeySource
	httpClient *http.Client
}

// NewClient creates a new provider client. keys may be nil.
func NewClient(config *ClientConfig, keys KeySource) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config: config,
		keys:   keys,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeContent struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

// ClaudeRequest represents a Claude messages API request
type ClaudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

// ClaudeResponse represents a Claude messages API response
type ClaudeResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string          `json:"role"`
	Content []openAIContent `json:"content"`
}

// OpenAIRequest represents an OpenAI chat completions request
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

// OpenAIResponse represents an OpenAI chat completions response
type OpenAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Analyze sends the prompt and images and returns the provider's raw text.
// Every failure is a *ProviderError.
func (c *Client) Analyze(ctx context.Context, req VisionRequest) (string, error) {
	apiKey, err := c.apiKey(ctx)
	if err != nil {
		return "", err
	}

	switch c.config.Provider {
	case ProviderClaude:
		return c.analyzeClaude(ctx, apiKey, req)
	case ProviderOpenAI:
		return c.analyzeOpenAI(ctx, apiKey, req)
	default:
		return "", authError(c.config.Provider, 0, "unsupported provider", fmt.Errorf("unsupported provider: %s", c.config.Provider))
	}
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	if c.config.APIKey != "" {
		return c.config.APIKey, nil
	}
	if c.keys == nil {
		return "", authError(c.config.Provider, 0, "API key not configured", ErrNoAPIKey)
	}
	key, err := c.keys.ProviderKey(ctx, string(c.config.Provider))
	if err != nil {
		return "", authError(c.config.Provider, 0, "API key lookup failed", err)
	}
	if key == "" {
		return "", authError(c.config.Provider, 0, "API key not configured", ErrNoAPIKey)
	}
	return key, nil
}

func (c *Client) analyzeClaude(ctx context.Context, apiKey string, req VisionRequest) (string, error) {
	content := make([]claudeContent, 0, len(req.Images)*2+1)
	for _, img := range req.Images {
		if img.Label != "" {
			content = append(content, claudeContent{Type: "text", Text: "Timeframe: " + img.Label})
		}
		content = append(content, claudeContent{
			Type: "image",
			Source: &claudeSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	content = append(content, claudeContent{Type: "text", Text: req.Prompt})

	body := ClaudeRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		System:      req.System,
		Messages:    []claudeMessage{{Role: "user", Content: content}},
	}

	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicAPIVer,
	}
	respBody, err := c.post(ctx, c.baseURL(claudeBaseURL)+"/v1/messages", headers, body)
	if err != nil {
		return "", err
	}

	var claudeResp ClaudeResponse
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return "", transientError(ProviderClaude, 0, "failed to unmarshal response", err)
	}
	if claudeResp.Error != nil {
		return "", transientError(ProviderClaude, 0, fmt.Sprintf("API error: %s - %s", claudeResp.Error.Type, claudeResp.Error.Message), nil)
	}

	var sb strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", transientError(ProviderClaude, 0, "empty response from Claude", nil)
	}
	return sb.String(), nil
}

func (c *Client) analyzeOpenAI(ctx context.Context, apiKey string, req VisionRequest) (string, error) {
	content := make([]openAIContent, 0, len(req.Images)*2+1)
	content = append(content, openAIContent{Type: "text", Text: req.Prompt})
	for _, img := range req.Images {
		if img.Label != "" {
			content = append(content, openAIContent{Type: "text", Text: "Timeframe: " + img.Label})
		}
		content = append(content, openAIContent{
			Type: "image_url",
			ImageURL: &openAIImageURL{
				URL: "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	messages := []openAIMessage{}
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: []openAIContent{{Type: "text", Text: req.System}}})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: content})

	body := OpenAIRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	respBody, err := c.post(ctx, c.baseURL(openAIBaseURL)+"/v1/chat/completions", headers, body)
	if err != nil {
		return "", err
	}

	var openAIResp OpenAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", transientError(ProviderOpenAI, 0, "failed to unmarshal response", err)
	}
	if openAIResp.Error != nil {
		return "", transientError(ProviderOpenAI, 0, fmt.Sprintf("API error: %s - %s", openAIResp.Error.Type, openAIResp.Error.Message), nil)
	}
	if len(openAIResp.Choices) == 0 || openAIResp.Choices[0].Message.Content == "" {
		return "", transientError(ProviderOpenAI, 0, "empty response from OpenAI", nil)
	}
	return openAIResp.Choices[0].Message.Content, nil
}

// post sends a JSON request and returns the body of a 2xx response
func (c *Client) post(ctx context.Context, url string, headers map[string]string, payload interface{}) ([]byte, error) {
	p := c.config.Provider

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, transientError(p, 0, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, transientError(p, 0, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(p, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransport(p, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("API error %d: %s", resp.StatusCode, truncate(string(respBody), 300))
		if classifyStatus(resp.StatusCode) == KindAuth {
			return nil, authError(p, resp.StatusCode, msg, nil)
		}
		return nil, transientError(p, resp.StatusCode, msg, nil)
	}
	return respBody, nil
}

func (c *Client) baseURL(def string) string {
	if c.config.BaseURL != "" {
		return strings.TrimRight(c.config.BaseURL, "/")
	}
	return def
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// GetProvider returns the configured provider
func (c *Client) GetProvider() Provider {
	return c.config.Provider
}

// IsConfigured reports whether a key is available without a lookup
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != "" || c.keys != nil
}

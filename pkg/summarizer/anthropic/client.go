// Package anthropic implements the summarizer.Provider contract on the
// Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/summarizer"
)

// Client is an Anthropic summarization client.
type Client struct {
	client    *http.Client
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
}

// Config is the Anthropic summarizer configuration.
type Config struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// Model is the model name (default "claude-3-5-haiku-latest").
	Model string

	// BaseURL overrides the API endpoint (default "https://api.anthropic.com").
	BaseURL string

	// MaxTokens caps the compressed output length (default 512).
	MaxTokens int

	// HTTPClient overrides the HTTP client (default 120s timeout).
	HTTPClient *http.Client
}

// NewClient creates a new Anthropic summarization client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, core.NewMemoryError("NewSummarizer", core.ErrInvalidConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	return &Client{
		client:    client,
		apiKey:    cfg.APIKey,
		model:     model,
		baseURL:   baseURL,
		maxTokens: maxTokens,
	}, nil
}

// Compress rewrites content for the given target phase.
func (c *Client) Compress(ctx context.Context, content string, targetPhase core.Phase) (string, error) {
	prompt, err := summarizer.Prompt(content, targetPhase)
	if err != nil {
		return "", err
	}

	reqBody := map[string]interface{}{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"system":     summarizer.SystemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", core.NewMemoryError("Compress", err)
	}

	url := fmt.Sprintf("%s/v1/messages", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", core.NewMemoryError("Compress", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", core.NewMemoryError("Compress", fmt.Errorf("%w: %v", core.ErrCollaborator, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", core.NewMemoryError("Compress",
			fmt.Errorf("%w: status %d: %s", core.ErrCollaborator, resp.StatusCode, string(body)))
	}

	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", core.NewMemoryError("Compress", fmt.Errorf("%w: %v", core.ErrCollaborator, err))
	}
	if len(response.Content) == 0 {
		return "", core.NewMemoryError("Compress",
			fmt.Errorf("%w: no content returned", core.ErrCollaborator))
	}
	return strings.TrimSpace(response.Content[0].Text), nil
}

// Close releases provider resources.
func (c *Client) Close() error {
	return nil
}

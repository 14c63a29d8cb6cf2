// Package ollama implements the summarizer.Provider contract on a local
// Ollama server. No API key is needed.
package ollama

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

// Client is an Ollama summarization client.
type Client struct {
	client  *http.Client
	model   string
	baseURL string
}

// Config is the Ollama summarizer configuration.
type Config struct {
	// Model is the local model name (default "llama3.1").
	Model string

	// BaseURL is the Ollama server address (default "http://localhost:11434").
	BaseURL string

	// HTTPClient overrides the HTTP client (default 120s timeout).
	HTTPClient *http.Client
}

// NewClient creates a new Ollama summarization client.
func NewClient(cfg *Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	return &Client{
		client:  client,
		model:   model,
		baseURL: baseURL,
	}, nil
}

// Compress rewrites content for the given target phase.
func (c *Client) Compress(ctx context.Context, content string, targetPhase core.Phase) (string, error) {
	prompt, err := summarizer.Prompt(content, targetPhase)
	if err != nil {
		return "", err
	}

	reqBody := map[string]interface{}{
		"model":  c.model,
		"stream": false,
		"messages": []map[string]string{
			{"role": "system", "content": summarizer.SystemPrompt},
			{"role": "user", "content": prompt},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", core.NewMemoryError("Compress", err)
	}

	url := fmt.Sprintf("%s/api/chat", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", core.NewMemoryError("Compress", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", core.NewMemoryError("Compress", fmt.Errorf("%w: %v", core.ErrCollaborator, err))
	}
	if response.Message.Content == "" {
		return "", core.NewMemoryError("Compress",
			fmt.Errorf("%w: empty response", core.ErrCollaborator))
	}
	return strings.TrimSpace(response.Message.Content), nil
}

// Close releases provider resources.
func (c *Client) Close() error {
	return nil
}

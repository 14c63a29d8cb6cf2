// Package openai implements the summarizer.Provider contract on the OpenAI
// Chat Completions API.
package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/summarizer"
)

// Client is an OpenAI summarization client.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// Config is the OpenAI summarizer configuration.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// Model is the chat model name (default "gpt-4o-mini").
	Model string

	// BaseURL overrides the API endpoint, for proxies and compatible servers.
	BaseURL string

	// Temperature for generation (default 0.2; compression wants low variance).
	Temperature float32

	// MaxTokens caps the compressed output length (default 512).
	MaxTokens int
}

// NewClient creates a new OpenAI summarization client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, core.NewMemoryError("NewSummarizer", core.ErrInvalidConfig)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.2
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}

	return &Client{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Compress rewrites content for the given target phase.
func (c *Client) Compress(ctx context.Context, content string, targetPhase core.Phase) (string, error) {
	prompt, err := summarizer.Prompt(content, targetPhase)
	if err != nil {
		return "", err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizer.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", core.NewMemoryError("Compress", fmt.Errorf("%w: %v", core.ErrCollaborator, err))
	}
	if len(resp.Choices) == 0 {
		return "", core.NewMemoryError("Compress",
			fmt.Errorf("%w: no choices returned", core.ErrCollaborator))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Close releases provider resources.
func (c *Client) Close() error {
	return nil
}

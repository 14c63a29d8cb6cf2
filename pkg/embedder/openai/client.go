// Package openai implements the embedder.Provider contract on the OpenAI
// Embeddings API.
package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tiermem/tiermem-go/pkg/core"
)

// Client is an OpenAI embedding client producing core.EmbeddingDims vectors.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the OpenAI embedder configuration.
type Config struct {
	// APIKey is the OpenAI API key (required).
	APIKey string

	// Model is the embedding model name (default "text-embedding-3-small").
	Model string

	// BaseURL overrides the API endpoint, for proxies and compatible servers.
	BaseURL string

	// Dimensions is the expected vector length (default core.EmbeddingDims).
	Dimensions int
}

// NewClient creates a new OpenAI embedding client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, core.NewMemoryError("NewEmbedder", core.ErrInvalidConfig)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.EmbeddingModel("text-embedding-3-small")
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = core.EmbeddingDims
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts one text into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple texts in one request. Every returned vector
// is checked against the configured dimensionality.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, core.NewMemoryError("Embed", fmt.Errorf("%w: %v", core.ErrCollaborator, err))
	}
	if len(resp.Data) != len(texts) {
		return nil, core.NewMemoryError("Embed",
			fmt.Errorf("%w: got %d embeddings for %d texts", core.ErrCollaborator, len(resp.Data), len(texts)))
	}

	embeddings := make([][]float64, len(texts))
	for i, data := range resp.Data {
		if len(data.Embedding) != c.dimensions {
			return nil, core.NewMemoryError("Embed",
				fmt.Errorf("%w: model returned %d dimensions, want %d", core.ErrCollaborator, len(data.Embedding), c.dimensions))
		}
		vec := make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float64(v)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the vector dimensionality.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close releases provider resources. The OpenAI SDK holds no persistent
// connection, so there is nothing to release.
func (c *Client) Close() error {
	return nil
}

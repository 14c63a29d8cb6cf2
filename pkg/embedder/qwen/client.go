// Package qwen implements the embedder.Provider contract on Alibaba's
// DashScope embedding API via its OpenAI-compatible endpoint.
package qwen

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tiermem/tiermem-go/pkg/core"
)

const defaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// Client is a Qwen embedding client producing core.EmbeddingDims vectors.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the Qwen embedder configuration.
type Config struct {
	// APIKey is the DashScope API key (required).
	APIKey string

	// Model is the embedding model name (default "text-embedding-v3").
	Model string

	// BaseURL overrides the DashScope compatible-mode endpoint.
	BaseURL string

	// Dimensions is the expected vector length (default core.EmbeddingDims).
	Dimensions int
}

// NewClient creates a new Qwen embedding client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, core.NewMemoryError("NewEmbedder", core.ErrInvalidConfig)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = defaultBaseURL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.EmbeddingModel("text-embedding-v3")
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

// EmbedBatch converts multiple texts in one request. DashScope caps batches
// at 25 inputs, so larger batches are split transparently.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	const maxBatch = 25

	embeddings := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := c.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, chunk...)
	}
	return embeddings, nil
}

func (c *Client) embedChunk(ctx context.Context, texts []string) ([][]float64, error) {
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

	out := make([][]float64, len(texts))
	for i, data := range resp.Data {
		if len(data.Embedding) != c.dimensions {
			return nil, core.NewMemoryError("Embed",
				fmt.Errorf("%w: model returned %d dimensions, want %d", core.ErrCollaborator, len(data.Embedding), c.dimensions))
		}
		vec := make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the vector dimensionality.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close releases provider resources.
func (c *Client) Close() error {
	return nil
}

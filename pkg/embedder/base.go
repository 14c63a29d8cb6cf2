// Package embedder provides the text embedding collaborator contract.
//
// Every provider must produce vectors of exactly core.EmbeddingDims
// dimensions; anything else is rejected before it reaches storage.
package embedder

import "context"

// Provider is the embedding collaborator. Implementations wrap a remote
// embedding API (OpenAI, Qwen) behind a uniform float64 vector interface.
type Provider interface {
	// Embed converts one text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts in one request. The returned
	// slice matches the input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector dimensionality this provider produces.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}

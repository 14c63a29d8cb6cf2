package tiermem

import (
	"time"

	"github.com/tiermem/tiermem-go/pkg/core"
)

// RememberOption configures Remember operations using the functional
// options pattern.
type RememberOption func(*RememberOptions)

// RememberOptions contains configuration options for Remember operations.
type RememberOptions struct {
	// Importance sets the record's importance in [0.0, 1.0] (default 0.5).
	Importance float64

	// Embedding supplies a precomputed vector, bypassing the embedder.
	Embedding []float64

	// SkipEmbedding stores the record without any vector.
	SkipEmbedding bool
}

// WithImportance sets the importance for Remember operations.
//
// Example:
//
//	rec, _ := client.Remember(ctx, "passed the driving test", tiermem.WithImportance(0.9))
func WithImportance(importance float64) RememberOption {
	return func(opts *RememberOptions) {
		opts.Importance = importance
	}
}

// WithEmbedding supplies a precomputed embedding for Remember operations.
func WithEmbedding(embedding []float64) RememberOption {
	return func(opts *RememberOptions) {
		opts.Embedding = embedding
	}
}

// WithoutEmbedding stores the record with no vector. The record will not
// appear in similarity searches until one is attached.
func WithoutEmbedding() RememberOption {
	return func(opts *RememberOptions) {
		opts.SkipEmbedding = true
	}
}

// ReinforceOption configures Reinforce operations.
type ReinforceOption func(*ReinforceOptions)

// ReinforceOptions contains configuration options for Reinforce operations.
type ReinforceOptions struct {
	// Boost overrides the default reinforcement boost (0.1).
	Boost float64
}

// WithBoost sets a custom boost for Reinforce operations.
func WithBoost(boost float64) ReinforceOption {
	return func(opts *ReinforceOptions) {
		opts.Boost = boost
	}
}

// QueryOption configures QueryMemories operations.
type QueryOption func(*QueryOptions)

// QueryOptions contains configuration options for QueryMemories operations.
type QueryOptions struct {
	// Phases restricts results to the given phases (empty = all non-forgotten).
	Phases []core.Phase

	// MinImportance drops records below this importance.
	MinImportance float64

	// MinStrength drops records below this strength.
	MinStrength float64

	// IncludeForgotten admits forgotten records (administrative callers only).
	IncludeForgotten bool

	// SortBy is one of "created_at", "strength", "importance",
	// "last_decayed_at" (default "created_at").
	SortBy string

	// Limit caps the page size (default 100).
	Limit int

	// Offset skips records for pagination.
	Offset int
}

// WithPhases restricts QueryMemories to the given phases.
//
// Example:
//
//	page, _ := client.QueryMemories(ctx, tiermem.WithPhases(core.PhaseSemantic))
func WithPhases(phases ...core.Phase) QueryOption {
	return func(opts *QueryOptions) {
		opts.Phases = phases
	}
}

// WithMinImportance drops records below the given importance.
func WithMinImportance(min float64) QueryOption {
	return func(opts *QueryOptions) {
		opts.MinImportance = min
	}
}

// WithMinStrength drops records below the given strength.
func WithMinStrength(min float64) QueryOption {
	return func(opts *QueryOptions) {
		opts.MinStrength = min
	}
}

// WithForgotten admits forgotten records. Administrative callers only.
func WithForgotten() QueryOption {
	return func(opts *QueryOptions) {
		opts.IncludeForgotten = true
	}
}

// WithSort sets the sort column for QueryMemories.
func WithSort(column string) QueryOption {
	return func(opts *QueryOptions) {
		opts.SortBy = column
	}
}

// WithPage sets Limit and Offset for QueryMemories.
func WithPage(limit, offset int) QueryOption {
	return func(opts *QueryOptions) {
		opts.Limit = limit
		opts.Offset = offset
	}
}

// SearchOption configures SearchAll operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for SearchAll operations.
type SearchOptions struct {
	// TopK caps the number of hits per domain (default 10).
	TopK int

	// DomainTimeout bounds each domain's search (default 2s).
	DomainTimeout time.Duration

	// MemoryPhases restricts memory-domain hits to the given phases.
	MemoryPhases []core.Phase

	// MemoryMinStrength drops memory-domain hits below this strength.
	MemoryMinStrength float64

	// Since/Until bound sibling-domain hits by creation time.
	Since *time.Time
	Until *time.Time
}

// WithTopK caps the number of hits per domain.
func WithTopK(topK int) SearchOption {
	return func(opts *SearchOptions) {
		opts.TopK = topK
	}
}

// WithDomainTimeout bounds each domain's search.
func WithDomainTimeout(timeout time.Duration) SearchOption {
	return func(opts *SearchOptions) {
		opts.DomainTimeout = timeout
	}
}

// WithMemoryPhases restricts memory-domain hits to the given phases.
func WithMemoryPhases(phases ...core.Phase) SearchOption {
	return func(opts *SearchOptions) {
		opts.MemoryPhases = phases
	}
}

// WithMemoryMinStrength drops memory-domain hits below the given strength.
func WithMemoryMinStrength(min float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MemoryMinStrength = min
	}
}

// WithSince drops sibling-domain hits created before t.
func WithSince(t time.Time) SearchOption {
	return func(opts *SearchOptions) {
		opts.Since = &t
	}
}

// WithUntil drops sibling-domain hits created after t.
func WithUntil(t time.Time) SearchOption {
	return func(opts *SearchOptions) {
		opts.Until = &t
	}
}

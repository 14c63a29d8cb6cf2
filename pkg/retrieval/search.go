// Package retrieval implements cross-tier semantic search: one similarity
// query per embedding-bearing domain issued concurrently (fan-out), results
// merged into a per-domain ranked mapping (fan-in).
package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/observability"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// DomainMemory is the result-map key for the memory domain; sibling domains
// use the storage.Domain* constants.
const DomainMemory = "memories"

// DefaultTopK caps hits per domain when the caller does not say otherwise.
const DefaultTopK = 10

// DefaultDomainTimeout bounds each sub-query so one slow domain cannot
// stall the others' results.
const DefaultDomainTimeout = 2 * time.Second

// MemorySearcher is the memory-domain slice of the repository contract.
type MemorySearcher interface {
	SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.MemorySearchOptions) ([]*core.MemoryRecord, error)
}

// ConversationSearcher is the conversation-domain slice of the contract.
type ConversationSearcher interface {
	SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*core.ConversationTurn, error)
}

// EmotionSearcher is the emotion-domain slice of the contract.
type EmotionSearcher interface {
	SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*core.EmotionalMoment, error)
}

// KnowledgeSearcher is the knowledge-domain slice of the contract.
type KnowledgeSearcher interface {
	SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*core.KnowledgeFact, error)
}

// DocumentSearcher is the document-domain slice of the contract.
type DocumentSearcher interface {
	SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*core.DocumentPassage, error)
}

// Filters bundles the per-domain filter sets for one SearchAll call.
// Nil fields fall back to each domain's defaults (for memory: forgotten
// records excluded).
type Filters struct {
	Memory       *storage.MemorySearchOptions
	Conversation *storage.SearchOptions
	Emotion      *storage.SearchOptions
	Knowledge    *storage.SearchOptions
	Document     *storage.SearchOptions
}

// Hit is one ranked result from one domain. Entity holds the typed record
// (*core.MemoryRecord, *core.ConversationTurn, ...) so callers can weight
// and render domains differently.
type Hit struct {
	Domain     string      `json:"domain"`
	ID         int64       `json:"id"`
	Content    string      `json:"content"`
	Similarity float64     `json:"similarity"`
	CreatedAt  time.Time   `json:"created_at"`
	Entity     interface{} `json:"entity"`
}

// DomainFailure describes a sub-query that did not complete.
type DomainFailure struct {
	Domain   string `json:"domain"`
	TimedOut bool   `json:"timed_out"`
	Message  string `json:"message"`
}

// Result is the fan-in of one cross-tier search: a per-domain mapping (not
// flattened) plus the domains that failed or timed out. Callers always get
// either a complete result or a partial one annotated with what is missing.
type Result struct {
	Domains    map[string][]Hit `json:"domains"`
	Incomplete []DomainFailure  `json:"incomplete,omitempty"`
}

// Engine fans a query embedding out to all five domains concurrently.
// It is read-only and safe for concurrent use.
type Engine struct {
	memories      MemorySearcher
	conversations ConversationSearcher
	emotions      EmotionSearcher
	knowledge     KnowledgeSearcher
	documents     DocumentSearcher

	domainTimeout time.Duration
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

// Options tunes an Engine.
type Options struct {
	// DomainTimeout bounds each sub-query (default DefaultDomainTimeout).
	DomainTimeout time.Duration

	// Logger receives per-domain failure events.
	Logger zerolog.Logger

	// Metrics receives search instrumentation; nil disables it.
	Metrics *observability.Metrics
}

// NewEngine creates a retrieval engine over the five domain searchers.
// Any searcher may be nil; its domain then simply returns no hits.
func NewEngine(
	memories MemorySearcher,
	conversations ConversationSearcher,
	emotions EmotionSearcher,
	knowledge KnowledgeSearcher,
	documents DocumentSearcher,
	opts Options,
) *Engine {
	timeout := opts.DomainTimeout
	if timeout <= 0 {
		timeout = DefaultDomainTimeout
	}
	return &Engine{
		memories:      memories,
		conversations: conversations,
		emotions:      emotions,
		knowledge:     knowledge,
		documents:     documents,
		domainTimeout: timeout,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
	}
}

// WithTimeout returns a copy of the engine with a different per-domain
// timeout, for callers that need to tighten or relax the bound per call.
// Non-positive values keep the engine's current timeout.
func (e *Engine) WithTimeout(timeout time.Duration) *Engine {
	if timeout <= 0 {
		return e
	}
	clone := *e
	clone.domainTimeout = timeout
	return &clone
}

// SearchAll issues one similarity query per domain concurrently and merges
// the results into a per-domain mapping ordered by similarity descending,
// ties broken by most-recently-created first.
//
// The embedding is validated before any domain query is issued. If the
// parent context is cancelled, outstanding sub-queries are abandoned. A
// domain that fails or exceeds the per-domain timeout is reported in
// Result.Incomplete rather than failing the whole call.
func (e *Engine) SearchAll(ctx context.Context, embedding []float64, topK int, filters Filters) (*Result, error) {
	if err := validateQuery(embedding); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	started := time.Now()
	result := &Result{Domains: make(map[string][]Hit)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	run := func(domain string, query func(context.Context) ([]Hit, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subCtx, cancel := context.WithTimeout(ctx, e.domainTimeout)
			defer cancel()

			hits, err := query(subCtx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				timedOut := subCtx.Err() == context.DeadlineExceeded
				cause := "error"
				if timedOut {
					cause = "timeout"
				}
				e.metrics.CountSearchDomainError(domain, cause)
				e.logger.Warn().Err(err).Str("domain", domain).Bool("timed_out", timedOut).
					Msg("cross-tier sub-query incomplete")
				result.Domains[domain] = []Hit{}
				result.Incomplete = append(result.Incomplete, DomainFailure{
					Domain:   domain,
					TimedOut: timedOut,
					Message:  err.Error(),
				})
				return
			}
			result.Domains[domain] = rankHits(hits, topK)
		}()
	}

	run(DomainMemory, func(subCtx context.Context) ([]Hit, error) {
		return e.searchMemories(subCtx, embedding, topK, filters.Memory)
	})
	run(storage.DomainConversation, func(subCtx context.Context) ([]Hit, error) {
		return e.searchConversations(subCtx, embedding, topK, filters.Conversation)
	})
	run(storage.DomainEmotion, func(subCtx context.Context) ([]Hit, error) {
		return e.searchEmotions(subCtx, embedding, topK, filters.Emotion)
	})
	run(storage.DomainKnowledge, func(subCtx context.Context) ([]Hit, error) {
		return e.searchKnowledge(subCtx, embedding, topK, filters.Knowledge)
	})
	run(storage.DomainDocument, func(subCtx context.Context) ([]Hit, error) {
		return e.searchDocuments(subCtx, embedding, topK, filters.Document)
	})

	wg.Wait()

	// Stable reporting order for incomplete domains.
	sort.Slice(result.Incomplete, func(i, j int) bool {
		return result.Incomplete[i].Domain < result.Incomplete[j].Domain
	})

	e.metrics.ObserveSearch(time.Since(started))
	return result, nil
}

// SearchMemories is the single-domain convenience path for callers that
// only need the memory space. Forgotten records are excluded unless the
// options say otherwise.
func (e *Engine) SearchMemories(ctx context.Context, embedding []float64, topK int, opts *storage.MemorySearchOptions) ([]Hit, error) {
	if err := validateQuery(embedding); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	hits, err := e.searchMemories(ctx, embedding, topK, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchMemories", err)
	}
	return rankHits(hits, topK), nil
}

// SearchConversations is the single-domain convenience path for dialogue turns.
func (e *Engine) SearchConversations(ctx context.Context, embedding []float64, topK int, opts *storage.SearchOptions) ([]Hit, error) {
	if err := validateQuery(embedding); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	hits, err := e.searchConversations(ctx, embedding, topK, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchConversations", err)
	}
	return rankHits(hits, topK), nil
}

// SearchKnowledge is the single-domain convenience path for learned facts.
func (e *Engine) SearchKnowledge(ctx context.Context, embedding []float64, topK int, opts *storage.SearchOptions) ([]Hit, error) {
	if err := validateQuery(embedding); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	hits, err := e.searchKnowledge(ctx, embedding, topK, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchKnowledge", err)
	}
	return rankHits(hits, topK), nil
}

// SearchEmotions is the single-domain convenience path for emotional moments.
func (e *Engine) SearchEmotions(ctx context.Context, embedding []float64, topK int, opts *storage.SearchOptions) ([]Hit, error) {
	if err := validateQuery(embedding); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	hits, err := e.searchEmotions(ctx, embedding, topK, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchEmotions", err)
	}
	return rankHits(hits, topK), nil
}

// SearchDocuments is the single-domain convenience path for document passages.
func (e *Engine) SearchDocuments(ctx context.Context, embedding []float64, topK int, opts *storage.SearchOptions) ([]Hit, error) {
	if err := validateQuery(embedding); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	hits, err := e.searchDocuments(ctx, embedding, topK, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchDocuments", err)
	}
	return rankHits(hits, topK), nil
}

func (e *Engine) searchMemories(ctx context.Context, embedding []float64, topK int, opts *storage.MemorySearchOptions) ([]Hit, error) {
	if e.memories == nil {
		return nil, nil
	}
	if opts == nil {
		opts = &storage.MemorySearchOptions{}
	}
	clone := *opts
	if clone.TopK <= 0 {
		clone.TopK = topK
	}
	records, err := e.memories.SearchByEmbedding(ctx, embedding, &clone)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		hits = append(hits, Hit{
			Domain:     DomainMemory,
			ID:         rec.ID,
			Content:    rec.Content,
			Similarity: rec.Score,
			CreatedAt:  rec.CreatedAt,
			Entity:     rec,
		})
	}
	return hits, nil
}

func (e *Engine) searchConversations(ctx context.Context, embedding []float64, topK int, opts *storage.SearchOptions) ([]Hit, error) {
	if e.conversations == nil {
		return nil, nil
	}
	turns, err := e.conversations.SearchByEmbedding(ctx, embedding, domainOpts(opts, topK))
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(turns))
	for _, turn := range turns {
		hits = append(hits, Hit{
			Domain:     storage.DomainConversation,
			ID:         turn.ID,
			Content:    turn.Content,
			Similarity: turn.Score,
			CreatedAt:  turn.CreatedAt,
			Entity:     turn,
		})
	}
	return hits, nil
}

func (e *Engine) searchEmotions(ctx context.Context, embedding []float64, topK int, opts *storage.SearchOptions) ([]Hit, error) {
	if e.emotions == nil {
		return nil, nil
	}
	moments, err := e.emotions.SearchByEmbedding(ctx, embedding, domainOpts(opts, topK))
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(moments))
	for _, m := range moments {
		hits = append(hits, Hit{
			Domain:     storage.DomainEmotion,
			ID:         m.ID,
			Content:    m.Content,
			Similarity: m.Score,
			CreatedAt:  m.CreatedAt,
			Entity:     m,
		})
	}
	return hits, nil
}

func (e *Engine) searchKnowledge(ctx context.Context, embedding []float64, topK int, opts *storage.SearchOptions) ([]Hit, error) {
	if e.knowledge == nil {
		return nil, nil
	}
	facts, err := e.knowledge.SearchByEmbedding(ctx, embedding, domainOpts(opts, topK))
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(facts))
	for _, f := range facts {
		hits = append(hits, Hit{
			Domain:     storage.DomainKnowledge,
			ID:         f.ID,
			Content:    f.Content,
			Similarity: f.Score,
			CreatedAt:  f.CreatedAt,
			Entity:     f,
		})
	}
	return hits, nil
}

func (e *Engine) searchDocuments(ctx context.Context, embedding []float64, topK int, opts *storage.SearchOptions) ([]Hit, error) {
	if e.documents == nil {
		return nil, nil
	}
	passages, err := e.documents.SearchByEmbedding(ctx, embedding, domainOpts(opts, topK))
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(passages))
	for _, p := range passages {
		hits = append(hits, Hit{
			Domain:     storage.DomainDocument,
			ID:         p.ID,
			Content:    p.Content,
			Similarity: p.Score,
			CreatedAt:  p.CreatedAt,
			Entity:     p,
		})
	}
	return hits, nil
}

// domainOpts fills in the TopK default on a copy of the caller's options.
// The caller's struct is never written: filters may be shared across the
// concurrent sub-queries and across calls.
func domainOpts(opts *storage.SearchOptions, topK int) *storage.SearchOptions {
	if opts == nil {
		return &storage.SearchOptions{TopK: topK}
	}
	clone := *opts
	if clone.TopK <= 0 {
		clone.TopK = topK
	}
	return &clone
}

// validateQuery rejects malformed query embeddings before any domain query
// is issued.
func validateQuery(embedding []float64) error {
	if embedding == nil || len(embedding) != core.EmbeddingDims {
		return core.NewMemoryError("SearchAll", core.ErrValidation)
	}
	return nil
}

// rankHits sorts hits by similarity descending, breaking ties by
// most-recently-created first, and truncates to topK. Backends already
// order their hits, but re-ranking here keeps the guarantee independent of
// the storage adapter.
func rankHits(hits []Hit, topK int) []Hit {
	if hits == nil {
		return []Hit{}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

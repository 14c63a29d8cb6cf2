package tiermem

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/embedder"
	embedderopenai "github.com/tiermem/tiermem-go/pkg/embedder/openai"
	embedderqwen "github.com/tiermem/tiermem-go/pkg/embedder/qwen"
	"github.com/tiermem/tiermem-go/pkg/lifecycle"
	"github.com/tiermem/tiermem-go/pkg/observability"
	"github.com/tiermem/tiermem-go/pkg/repository"
	"github.com/tiermem/tiermem-go/pkg/retrieval"
	"github.com/tiermem/tiermem-go/pkg/storage"
	"github.com/tiermem/tiermem-go/pkg/storage/mysql"
	"github.com/tiermem/tiermem-go/pkg/storage/postgres"
	"github.com/tiermem/tiermem-go/pkg/storage/sqlite"
	"github.com/tiermem/tiermem-go/pkg/summarizer"
	summarizeranthropic "github.com/tiermem/tiermem-go/pkg/summarizer/anthropic"
	summarizerollama "github.com/tiermem/tiermem-go/pkg/summarizer/ollama"
	summarizeropenai "github.com/tiermem/tiermem-go/pkg/summarizer/openai"
)

// Client is the main entry point: memory capture, reinforcement,
// consolidation, and cross-tier retrieval behind one facade.
//
// A Client is safe for concurrent use. Consolidation batches must not run
// concurrently with each other over the same store; callers that schedule
// batches from multiple processes own that mutual exclusion.
type Client struct {
	cfg     *Config
	logger  zerolog.Logger
	metrics *observability.Metrics
	node    *snowflake.Node

	memoryStore storage.MemoryStore
	domainStore storage.DomainStore

	memories      *repository.MemoryRepository
	conversations *repository.ConversationRepository
	emotions      *repository.EmotionRepository
	knowledge     *repository.KnowledgeRepository
	documents     *repository.DocumentRepository

	embedder   embedder.Provider
	summarizer summarizer.Provider

	decay        *lifecycle.DecayEngine
	reinforce    *lifecycle.ReinforcementTracker
	consolidator *lifecycle.Consolidator
	search       *retrieval.Engine
}

// MemoryPage is one page of a QueryMemories result plus the unpaginated total.
type MemoryPage struct {
	Items  []*core.MemoryRecord `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// NewClient creates a TierMem client from the given configuration.
//
// Example:
//
//	config, _ := tiermem.LoadConfigFromEnv()
//	client, err := tiermem.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, core.NewMemoryError("NewClient", core.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics("tiermem")

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, core.NewMemoryError("NewClient", err)
	}

	memoryStore, domainStore, err := initStorage(&cfg.Storage)
	if err != nil {
		return nil, err
	}

	embedProvider, err := initEmbedder(&cfg.Embedder)
	if err != nil {
		return nil, err
	}
	summarizeProvider, err := initSummarizer(&cfg.Summarizer)
	if err != nil {
		return nil, err
	}

	client := &Client{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		node:          node,
		memoryStore:   memoryStore,
		domainStore:   domainStore,
		memories:      repository.NewMemoryRepository(memoryStore),
		conversations: repository.NewConversationRepository(domainStore),
		emotions:      repository.NewEmotionRepository(domainStore),
		knowledge:     repository.NewKnowledgeRepository(domainStore),
		documents:     repository.NewDocumentRepository(domainStore),
		embedder:      embedProvider,
		summarizer:    summarizeProvider,
		decay:         lifecycle.NewDecayEngine(),
		reinforce:     lifecycle.NewReinforcementTracker(),
	}

	lifecycleCfg := lifecycle.Config{
		Logger:  logger,
		Metrics: metrics,
	}
	if cfg.Lifecycle != nil {
		lifecycleCfg.MinStrength = cfg.Lifecycle.MinStrength
		lifecycleCfg.CycleWindow = cfg.Lifecycle.CycleWindow()
		lifecycleCfg.Workers = cfg.Lifecycle.Workers
		lifecycleCfg.RetryAttempts = cfg.Lifecycle.RetryAttempts
	}
	client.consolidator = lifecycle.NewConsolidator(client.memories, client.decay, summarizeProvider, lifecycleCfg)

	client.search = retrieval.NewEngine(
		client.memories,
		client.conversations,
		client.emotions,
		client.knowledge,
		client.documents,
		retrieval.Options{
			DomainTimeout: cfg.Retrieval.DomainTimeout(),
			Logger:        logger,
			Metrics:       metrics,
		},
	)

	logger.Info().
		Str("storage", cfg.Storage.Provider).
		Str("embedder", cfg.Embedder.Provider).
		Str("summarizer", cfg.Summarizer.Provider).
		Msg("tiermem client initialized")

	return client, nil
}

// Remember captures a new experience as an episodic memory with strength 1.0
// and a half-life derived from its importance.
//
// An embedding is requested from the configured provider unless the caller
// supplied one or opted out. An embedding failure is not fatal: the memory is
// stored without a vector and a warning is logged. Lifecycle processing does
// not depend on embeddings.
func (c *Client) Remember(ctx context.Context, content string, opts ...RememberOption) (*core.MemoryRecord, error) {
	if strings.TrimSpace(content) == "" {
		return nil, core.NewMemoryError("Remember", core.ErrValidation)
	}

	options := &RememberOptions{Importance: 0.5}
	for _, opt := range opts {
		opt(options)
	}
	if options.Importance < 0 || options.Importance > 1 {
		return nil, core.NewMemoryError("Remember", core.ErrValidation)
	}

	embedding := options.Embedding
	if embedding == nil && !options.SkipEmbedding {
		vec, err := c.embedder.Embed(ctx, content)
		if err != nil {
			c.logger.Warn().Err(err).Msg("embedding failed, storing memory without a vector")
		} else {
			embedding = vec
		}
	}

	now := time.Now().UTC()
	rec := &core.MemoryRecord{
		ID:            c.node.Generate().Int64(),
		Content:       content,
		Embedding:     embedding,
		Importance:    options.Importance,
		Phase:         core.PhaseEpisodic,
		Strength:      1.0,
		HalfLifeDays:  c.decay.HalfLife(options.Importance),
		LastDecayedAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.memories.Insert(ctx, rec); err != nil {
		return nil, err
	}

	c.logger.Debug().Int64("id", rec.ID).Float64("importance", rec.Importance).
		Float64("half_life_days", rec.HalfLifeDays).Msg("memory captured")
	return rec, nil
}

// Get retrieves a memory by ID and counts the access. The access-count
// write is best effort; a persistence failure does not fail the read.
func (c *Client) Get(ctx context.Context, id int64) (*core.MemoryRecord, error) {
	rec, err := c.memories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.AccessCount++
	accessed := time.Now().UTC()
	rec.LastAccessedAt = &accessed
	if err := c.memories.Update(ctx, rec); err != nil {
		c.logger.Warn().Err(err).Int64("id", id).Msg("access count update failed")
	}
	return rec, nil
}

// Reinforce strengthens a memory on access, with diminishing returns over
// repeated reinforcement. The default boost is 0.1; override with WithBoost.
//
// Reinforcing a forgotten record may lift its strength back above the
// forgetting threshold, but never reverts its phase.
func (c *Client) Reinforce(ctx context.Context, id int64, opts ...ReinforceOption) (*core.MemoryRecord, error) {
	options := &ReinforceOptions{}
	for _, opt := range opts {
		opt(options)
	}

	rec, err := c.memories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := c.reinforce.Reinforce(rec, options.Boost, now); err != nil {
		return nil, err
	}
	rec.AccessCount++
	rec.UpdatedAt = now
	if err := c.memories.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Apply marks a memory as put to concrete use, which is the strongest form
// of reinforcement (default boost 0.3). The note records what it was used for.
func (c *Client) Apply(ctx context.Context, id int64, note string, opts ...ReinforceOption) (*core.MemoryRecord, error) {
	options := &ReinforceOptions{}
	for _, opt := range opts {
		opt(options)
	}

	rec, err := c.memories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if options.Boost > 0 {
		_, err = c.reinforce.ApplyBoost(rec, note, options.Boost, now)
	} else {
		_, err = c.reinforce.Apply(rec, note, now)
	}
	if err != nil {
		return nil, err
	}
	rec.AccessCount++
	rec.UpdatedAt = now
	if err := c.memories.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ConsolidateMemory runs the full consolidation rules over one record:
// decay (optional), forgetting, and phase promotion.
func (c *Client) ConsolidateMemory(ctx context.Context, id int64, applyDecay bool) (*lifecycle.Outcome, error) {
	return c.consolidator.ConsolidateOne(ctx, id, applyDecay)
}

// ConsolidateMemories runs one consolidation pass over up to batchSize
// eligible records. Per-record failures are captured in the returned stats;
// they never abort the batch. batchSize <= 0 defaults to 100, minStrength
// <= 0 defaults to the configured promotion floor.
func (c *Client) ConsolidateMemories(ctx context.Context, batchSize int, applyDecay bool, minStrength float64) (*lifecycle.BatchStats, error) {
	return c.consolidator.ConsolidateBatch(ctx, batchSize, applyDecay, minStrength)
}

// QueryMemories lists memory records by lifecycle filters, paginated, plus
// the unpaginated total. Forgotten records are excluded unless WithForgotten
// is given.
func (c *Client) QueryMemories(ctx context.Context, opts ...QueryOption) (*MemoryPage, error) {
	options := &QueryOptions{Limit: 100}
	for _, opt := range opts {
		opt(options)
	}

	phases := make([]string, len(options.Phases))
	for i, p := range options.Phases {
		if !p.Valid() {
			return nil, core.NewMemoryError("QueryMemories", core.ErrValidation)
		}
		phases[i] = string(p)
	}

	queryOpts := &storage.MemoryQueryOptions{
		Phases:           phases,
		MinImportance:    options.MinImportance,
		MinStrength:      options.MinStrength,
		IncludeForgotten: options.IncludeForgotten,
		SortBy:           options.SortBy,
		Limit:            options.Limit,
		Offset:           options.Offset,
	}

	items, err := c.memories.Query(ctx, queryOpts)
	if err != nil {
		return nil, err
	}
	total, err := c.memories.Count(ctx, queryOpts)
	if err != nil {
		return nil, err
	}

	return &MemoryPage{
		Items:  items,
		Total:  total,
		Limit:  options.Limit,
		Offset: options.Offset,
	}, nil
}

// SearchAll fans the query embedding out to all five domains concurrently
// and returns a per-domain ranked mapping. Domains that fail or time out are
// reported in the result's Incomplete list; the others still return hits.
func (c *Client) SearchAll(ctx context.Context, embedding []float64, opts ...SearchOption) (*retrieval.Result, error) {
	options := &SearchOptions{TopK: retrieval.DefaultTopK}
	for _, opt := range opts {
		opt(options)
	}
	return c.search.WithTimeout(options.DomainTimeout).SearchAll(ctx, embedding, options.TopK, c.buildFilters(options))
}

// SearchAllText embeds the query text, then performs SearchAll. Unlike
// Remember, an embedding failure here is fatal: there is nothing to search
// without a query vector.
func (c *Client) SearchAllText(ctx context.Context, query string, opts ...SearchOption) (*retrieval.Result, error) {
	embedding, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.SearchAll(ctx, embedding, opts...)
}

// SearchMemories searches only the memory domain.
func (c *Client) SearchMemories(ctx context.Context, embedding []float64, opts ...SearchOption) ([]retrieval.Hit, error) {
	options := &SearchOptions{TopK: retrieval.DefaultTopK}
	for _, opt := range opts {
		opt(options)
	}
	return c.search.SearchMemories(ctx, embedding, options.TopK, c.buildFilters(options).Memory)
}

func (c *Client) buildFilters(options *SearchOptions) retrieval.Filters {
	memoryPhases := make([]string, len(options.MemoryPhases))
	for i, p := range options.MemoryPhases {
		memoryPhases[i] = string(p)
	}
	// Each domain gets its own options struct: the sub-queries run in
	// parallel goroutines, so they must never share one.
	timeBound := func() *storage.SearchOptions {
		return &storage.SearchOptions{Since: options.Since, Until: options.Until}
	}
	return retrieval.Filters{
		Memory: &storage.MemorySearchOptions{
			Phases:      memoryPhases,
			MinStrength: options.MemoryMinStrength,
		},
		Conversation: timeBound(),
		Emotion:      timeBound(),
		Knowledge:    timeBound(),
		Document:     timeBound(),
	}
}

// RecordConversation stores one dialogue turn in the conversation domain.
func (c *Client) RecordConversation(ctx context.Context, sessionID, speaker, content string) (*core.ConversationTurn, error) {
	turn := &core.ConversationTurn{
		ID:        c.node.Generate().Int64(),
		SessionID: sessionID,
		Speaker:   speaker,
		Content:   content,
		Embedding: c.embedOrNil(ctx, content),
		CreatedAt: time.Now().UTC(),
	}
	if err := c.conversations.Insert(ctx, turn); err != nil {
		return nil, err
	}
	return turn, nil
}

// RecordEmotion stores one emotional moment in the emotion domain.
func (c *Client) RecordEmotion(ctx context.Context, emotion string, valence, arousal float64, content string) (*core.EmotionalMoment, error) {
	moment := &core.EmotionalMoment{
		ID:        c.node.Generate().Int64(),
		Emotion:   emotion,
		Valence:   valence,
		Arousal:   arousal,
		Content:   content,
		Embedding: c.embedOrNil(ctx, content),
		CreatedAt: time.Now().UTC(),
	}
	if err := c.emotions.Insert(ctx, moment); err != nil {
		return nil, err
	}
	return moment, nil
}

// LearnFact stores one knowledge fact in the knowledge domain.
func (c *Client) LearnFact(ctx context.Context, subject, content string, confidence float64) (*core.KnowledgeFact, error) {
	fact := &core.KnowledgeFact{
		ID:         c.node.Generate().Int64(),
		Subject:    subject,
		Content:    content,
		Confidence: confidence,
		Embedding:  c.embedOrNil(ctx, content),
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.knowledge.Insert(ctx, fact); err != nil {
		return nil, err
	}
	return fact, nil
}

// ImportPassage stores one document chunk in the document domain.
func (c *Client) ImportPassage(ctx context.Context, documentID, title, content string) (*core.DocumentPassage, error) {
	passage := &core.DocumentPassage{
		ID:         c.node.Generate().Int64(),
		DocumentID: documentID,
		Title:      title,
		Content:    content,
		Embedding:  c.embedOrNil(ctx, content),
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.documents.Insert(ctx, passage); err != nil {
		return nil, err
	}
	return passage, nil
}

// embedOrNil requests an embedding, logging and returning nil on failure.
// Sibling-domain ingestion mirrors Remember: storage never blocks on the
// embedding collaborator.
func (c *Client) embedOrNil(ctx context.Context, content string) []float64 {
	vec, err := c.embedder.Embed(ctx, content)
	if err != nil {
		c.logger.Warn().Err(err).Msg("embedding failed, storing row without a vector")
		return nil
	}
	return vec
}

// Metrics exposes the client's Prometheus instrument set; serve
// observability.Handler() to scrape them.
func (c *Client) Metrics() *observability.Metrics {
	return c.metrics
}

// Close releases the storage backend and collaborator resources.
func (c *Client) Close() error {
	var firstErr error
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.summarizer != nil {
		if err := c.summarizer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.memoryStore != nil {
		if err := c.memoryStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("component", "tiermem").Logger()
}

// initStorage builds the backend named by the configuration. Every backend
// implements both store contracts on one client, so both returned values
// share the same connection.
func initStorage(cfg *StorageConfig) (storage.MemoryStore, storage.DomainStore, error) {
	switch cfg.Provider {
	case "sqlite":
		client, err := sqlite.NewClient(&sqlite.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			return nil, nil, core.NewMemoryError("NewClient", fmt.Errorf("%w: %v", core.ErrRepository, err))
		}
		return client, client, nil
	case "postgres":
		client, err := postgres.NewClient(&postgres.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
			SSLMode:  cfg.SSLMode,
		})
		if err != nil {
			return nil, nil, core.NewMemoryError("NewClient", fmt.Errorf("%w: %v", core.ErrRepository, err))
		}
		return client, client, nil
	case "mysql":
		client, err := mysql.NewClient(&mysql.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			DBName:   cfg.DBName,
		})
		if err != nil {
			return nil, nil, core.NewMemoryError("NewClient", fmt.Errorf("%w: %v", core.ErrRepository, err))
		}
		return client, client, nil
	default:
		return nil, nil, core.NewMemoryError("NewClient", core.ErrInvalidConfig)
	}
}

func initEmbedder(cfg *EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return embedderopenai.NewClient(&embedderopenai.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "qwen":
		return embedderqwen.NewClient(&embedderqwen.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, core.NewMemoryError("NewClient", core.ErrInvalidConfig)
	}
}

func initSummarizer(cfg *SummarizerConfig) (summarizer.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return summarizeropenai.NewClient(&summarizeropenai.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "anthropic":
		return summarizeranthropic.NewClient(&summarizeranthropic.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "ollama":
		return summarizerollama.NewClient(&summarizerollama.Config{
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, core.NewMemoryError("NewClient", core.ErrInvalidConfig)
	}
}

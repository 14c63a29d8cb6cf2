package retrieval_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/retrieval"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

func queryVector() []float64 {
	return make([]float64, core.EmbeddingDims)
}

type fakeMemorySearcher struct {
	records []*core.MemoryRecord
	err     error
	delay   time.Duration
	calls   int
}

func (s *fakeMemorySearcher) SearchByEmbedding(ctx context.Context, _ []float64, _ *storage.MemorySearchOptions) ([]*core.MemoryRecord, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

type fakeConversationSearcher struct {
	turns   []*core.ConversationTurn
	err     error
	calls   int
	gotOpts *storage.SearchOptions
}

func (s *fakeConversationSearcher) SearchByEmbedding(_ context.Context, _ []float64, opts *storage.SearchOptions) ([]*core.ConversationTurn, error) {
	s.calls++
	s.gotOpts = opts
	return s.turns, s.err
}

type fakeEmotionSearcher struct {
	moments []*core.EmotionalMoment
}

func (s *fakeEmotionSearcher) SearchByEmbedding(context.Context, []float64, *storage.SearchOptions) ([]*core.EmotionalMoment, error) {
	return s.moments, nil
}

type fakeKnowledgeSearcher struct {
	facts []*core.KnowledgeFact
}

func (s *fakeKnowledgeSearcher) SearchByEmbedding(context.Context, []float64, *storage.SearchOptions) ([]*core.KnowledgeFact, error) {
	return s.facts, nil
}

type fakeDocumentSearcher struct {
	passages []*core.DocumentPassage
}

func (s *fakeDocumentSearcher) SearchByEmbedding(context.Context, []float64, *storage.SearchOptions) ([]*core.DocumentPassage, error) {
	return s.passages, nil
}

func newTestEngine(memories *fakeMemorySearcher, conversations *fakeConversationSearcher, opts retrieval.Options) *retrieval.Engine {
	return retrieval.NewEngine(
		memories,
		conversations,
		&fakeEmotionSearcher{},
		&fakeKnowledgeSearcher{},
		&fakeDocumentSearcher{},
		opts,
	)
}

func TestSearchAllRejectsBadEmbeddingBeforeFanOut(t *testing.T) {
	memories := &fakeMemorySearcher{}
	conversations := &fakeConversationSearcher{}
	engine := newTestEngine(memories, conversations, retrieval.Options{})

	_, err := engine.SearchAll(context.Background(), make([]float64, 512), 10, retrieval.Filters{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = engine.SearchAll(context.Background(), nil, 10, retrieval.Filters{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))

	// No domain was queried.
	assert.Equal(t, 0, memories.calls)
	assert.Equal(t, 0, conversations.calls)
}

func TestSearchAllRanksPerDomain(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	memories := &fakeMemorySearcher{records: []*core.MemoryRecord{
		{ID: 1, Content: "low", Score: 0.2, CreatedAt: older},
		{ID: 2, Content: "high", Score: 0.9, CreatedAt: older},
		{ID: 3, Content: "tie-old", Score: 0.5, CreatedAt: older},
		{ID: 4, Content: "tie-new", Score: 0.5, CreatedAt: newer},
	}}
	engine := newTestEngine(memories, &fakeConversationSearcher{}, retrieval.Options{})

	result, err := engine.SearchAll(context.Background(), queryVector(), 10, retrieval.Filters{})
	require.NoError(t, err)
	require.Empty(t, result.Incomplete)

	hits := result.Domains[retrieval.DomainMemory]
	require.Len(t, hits, 4)
	assert.Equal(t, int64(2), hits[0].ID)
	// Equal similarity: the more recently created record wins.
	assert.Equal(t, int64(4), hits[1].ID)
	assert.Equal(t, int64(3), hits[2].ID)
	assert.Equal(t, int64(1), hits[3].ID)
}

func TestSearchAllTruncatesToTopK(t *testing.T) {
	var records []*core.MemoryRecord
	for i := 1; i <= 20; i++ {
		records = append(records, &core.MemoryRecord{
			ID: int64(i), Score: float64(i) / 100, CreatedAt: time.Now(),
		})
	}
	memories := &fakeMemorySearcher{records: records}
	engine := newTestEngine(memories, &fakeConversationSearcher{}, retrieval.Options{})

	result, err := engine.SearchAll(context.Background(), queryVector(), 3, retrieval.Filters{})
	require.NoError(t, err)
	assert.Len(t, result.Domains[retrieval.DomainMemory], 3)
}

func TestSearchAllEmptyDomainsReturnEmptyLists(t *testing.T) {
	// Nil searchers: every domain must still be present in the mapping.
	engine := retrieval.NewEngine(nil, nil, nil, nil, nil, retrieval.Options{})

	result, err := engine.SearchAll(context.Background(), queryVector(), 10, retrieval.Filters{})
	require.NoError(t, err)
	require.Empty(t, result.Incomplete)

	for _, domain := range append(storage.Domains(), retrieval.DomainMemory) {
		hits, ok := result.Domains[domain]
		require.True(t, ok, "domain %s missing from result", domain)
		assert.Empty(t, hits)
	}
}

func TestSearchAllSlowDomainYieldsPartialResult(t *testing.T) {
	memories := &fakeMemorySearcher{delay: time.Second}
	conversations := &fakeConversationSearcher{turns: []*core.ConversationTurn{
		{ID: 7, Content: "hello", Score: 0.8, CreatedAt: time.Now()},
	}}
	engine := newTestEngine(memories, conversations, retrieval.Options{DomainTimeout: 30 * time.Millisecond})

	result, err := engine.SearchAll(context.Background(), queryVector(), 10, retrieval.Filters{})
	require.NoError(t, err)

	// The slow domain is reported, with the timeout flagged.
	require.Len(t, result.Incomplete, 1)
	assert.Equal(t, retrieval.DomainMemory, result.Incomplete[0].Domain)
	assert.True(t, result.Incomplete[0].TimedOut)
	assert.Empty(t, result.Domains[retrieval.DomainMemory])

	// The healthy domains still answered.
	require.Len(t, result.Domains[storage.DomainConversation], 1)
	assert.Equal(t, int64(7), result.Domains[storage.DomainConversation][0].ID)
}

func TestSearchAllFailingDomainYieldsPartialResult(t *testing.T) {
	conversations := &fakeConversationSearcher{err: errors.New("connection refused")}
	memories := &fakeMemorySearcher{records: []*core.MemoryRecord{
		{ID: 1, Score: 0.5, CreatedAt: time.Now()},
	}}
	engine := newTestEngine(memories, conversations, retrieval.Options{})

	result, err := engine.SearchAll(context.Background(), queryVector(), 10, retrieval.Filters{})
	require.NoError(t, err)

	require.Len(t, result.Incomplete, 1)
	assert.Equal(t, storage.DomainConversation, result.Incomplete[0].Domain)
	assert.False(t, result.Incomplete[0].TimedOut)
	assert.Contains(t, result.Incomplete[0].Message, "connection refused")
	assert.Len(t, result.Domains[retrieval.DomainMemory], 1)
}

func TestSearchAllParentCancellation(t *testing.T) {
	memories := &fakeMemorySearcher{delay: time.Second}
	engine := newTestEngine(memories, &fakeConversationSearcher{}, retrieval.Options{DomainTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.SearchAll(ctx, queryVector(), 10, retrieval.Filters{})
	require.NoError(t, err)
	// The delayed domain honored the cancelled parent instead of sleeping.
	var found bool
	for _, failure := range result.Incomplete {
		if failure.Domain == retrieval.DomainMemory {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSearchAllDoesNotMutateSharedFilters(t *testing.T) {
	memories := &fakeMemorySearcher{}
	conversations := &fakeConversationSearcher{}
	engine := newTestEngine(memories, conversations, retrieval.Options{})

	// One options struct handed to all four sibling domains, and one for the
	// memory domain: the concurrent sub-queries must treat both as read-only.
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	shared := &storage.SearchOptions{Since: &since}
	memoryOpts := &storage.MemorySearchOptions{MinStrength: 0.2}

	result, err := engine.SearchAll(context.Background(), queryVector(), 5, retrieval.Filters{
		Memory:       memoryOpts,
		Conversation: shared,
		Emotion:      shared,
		Knowledge:    shared,
		Document:     shared,
	})
	require.NoError(t, err)
	require.Empty(t, result.Incomplete)

	// The TopK default landed on the copy each searcher received, never on
	// the caller-owned structs.
	require.NotNil(t, conversations.gotOpts)
	assert.Equal(t, 5, conversations.gotOpts.TopK)
	assert.Equal(t, 0, shared.TopK)
	assert.Equal(t, 0, memoryOpts.TopK)
	assert.Equal(t, &since, shared.Since)
}

func TestSingleDomainConveniences(t *testing.T) {
	now := time.Now()
	engine := retrieval.NewEngine(
		&fakeMemorySearcher{},
		&fakeConversationSearcher{},
		&fakeEmotionSearcher{moments: []*core.EmotionalMoment{
			{ID: 11, Content: "relieved after the exam", Score: 0.6, CreatedAt: now},
		}},
		&fakeKnowledgeSearcher{},
		&fakeDocumentSearcher{passages: []*core.DocumentPassage{
			{ID: 21, Content: "chapter two", Score: 0.4, CreatedAt: now},
			{ID: 22, Content: "chapter one", Score: 0.8, CreatedAt: now},
		}},
		retrieval.Options{},
	)

	moments, err := engine.SearchEmotions(context.Background(), queryVector(), 10, nil)
	require.NoError(t, err)
	require.Len(t, moments, 1)
	assert.Equal(t, int64(11), moments[0].ID)
	assert.Equal(t, storage.DomainEmotion, moments[0].Domain)

	passages, err := engine.SearchDocuments(context.Background(), queryVector(), 10, nil)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, int64(22), passages[0].ID)

	_, err = engine.SearchDocuments(context.Background(), make([]float64, 12), 10, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestSearchMemoriesSingleDomain(t *testing.T) {
	memories := &fakeMemorySearcher{records: []*core.MemoryRecord{
		{ID: 1, Content: "a", Score: 0.3, CreatedAt: time.Now()},
		{ID: 2, Content: "b", Score: 0.7, CreatedAt: time.Now()},
	}}
	engine := newTestEngine(memories, &fakeConversationSearcher{}, retrieval.Options{})

	hits, err := engine.SearchMemories(context.Background(), queryVector(), 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(2), hits[0].ID)

	_, err = engine.SearchMemories(context.Background(), make([]float64, 10), 10, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

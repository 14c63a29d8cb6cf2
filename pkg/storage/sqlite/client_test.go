package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/storage"
	"github.com/tiermem/tiermem-go/pkg/storage/sqlite"
)

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()
	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "tiermem_test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func memoryRow(id int64, phase string, strength float64, embedding []float64, created time.Time) *storage.MemoryRow {
	return &storage.MemoryRow{
		ID:            id,
		Content:       fmt.Sprintf("memory %d", id),
		Embedding:     embedding,
		Importance:    0.5,
		Phase:         phase,
		Strength:      strength,
		HalfLifeDays:  93.5,
		LastDecayedAt: created,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	row := memoryRow(1, "episodic", 1.0, []float64{0.1, 0.2, 0.3}, created)
	row.PromotedFromPhase = "episodic"
	row.PromotedFromContent = "the uncompressed original"
	require.NoError(t, client.Insert(ctx, row))

	got, err := client.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, row.Content, got.Content)
	assert.Equal(t, row.Embedding, got.Embedding)
	assert.Equal(t, "episodic", got.Phase)
	assert.Equal(t, 1.0, got.Strength)
	assert.Equal(t, 93.5, got.HalfLifeDays)
	assert.Equal(t, "the uncompressed original", got.PromotedFromContent)
	assert.Nil(t, got.LastAccessedAt)
	assert.Nil(t, got.PromotedAt)
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestGetMissingRowReturnsNotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Get(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestUpdateMissingRowReturnsNotFound(t *testing.T) {
	client := newTestClient(t)
	row := memoryRow(404, "episodic", 1.0, nil, time.Now().UTC())

	err := client.Update(context.Background(), row)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestUpdatePersistsMutableFields(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	row := memoryRow(2, "episodic", 1.0, nil, created)
	require.NoError(t, client.Insert(ctx, row))

	promoted := created.Add(48 * time.Hour)
	row.Phase = "compressed_1"
	row.Strength = 0.7
	row.Content = "compressed content"
	row.PromotedAt = &promoted
	row.PromotedFromPhase = "episodic"
	row.PromotedFromContent = "memory 2"
	require.NoError(t, client.Update(ctx, row))

	got, err := client.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "compressed_1", got.Phase)
	assert.Equal(t, 0.7, got.Strength)
	assert.Equal(t, "compressed content", got.Content)
	require.NotNil(t, got.PromotedAt)
	assert.True(t, got.PromotedAt.Equal(promoted))
	assert.Equal(t, "episodic", got.PromotedFromPhase)
}

func TestQueryExcludesForgottenByDefault(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, client.Insert(ctx, memoryRow(1, "episodic", 0.9, nil, now)))
	require.NoError(t, client.Insert(ctx, memoryRow(2, "semantic", 0.6, nil, now)))
	require.NoError(t, client.Insert(ctx, memoryRow(3, "forgotten", 0.05, nil, now)))

	rows, err := client.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, row := range rows {
		assert.NotEqual(t, "forgotten", row.Phase)
	}

	rows, err = client.Query(ctx, &storage.MemoryQueryOptions{IncludeForgotten: true})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// A phase filter admits exactly the named phases.
	rows, err = client.Query(ctx, &storage.MemoryQueryOptions{Phases: []string{"semantic"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)

	count, err := client.Count(ctx, &storage.MemoryQueryOptions{MinStrength: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCountByPhaseAndAverageStrength(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, client.Insert(ctx, memoryRow(1, "episodic", 1.0, nil, now)))
	require.NoError(t, client.Insert(ctx, memoryRow(2, "episodic", 0.5, nil, now)))
	require.NoError(t, client.Insert(ctx, memoryRow(3, "forgotten", 0.05, nil, now)))

	counts, err := client.CountByPhase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["episodic"])
	assert.Equal(t, 1, counts["forgotten"])

	// Forgotten rows do not drag the average down.
	avg, err := client.AverageStrength(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, avg, 1e-9)
}

func TestCandidatesOrderedOldestDecayFirst(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	newest := memoryRow(1, "episodic", 1.0, nil, base)
	newest.LastDecayedAt = base.Add(72 * time.Hour)
	oldest := memoryRow(2, "episodic", 1.0, nil, base)
	oldest.LastDecayedAt = base
	middle := memoryRow(3, "episodic", 1.0, nil, base)
	middle.LastDecayedAt = base.Add(24 * time.Hour)
	gone := memoryRow(4, "forgotten", 0.05, nil, base)
	gone.LastDecayedAt = base

	for _, row := range []*storage.MemoryRow{newest, oldest, middle, gone} {
		require.NoError(t, client.Insert(ctx, row))
	}

	cutoff := base.Add(96 * time.Hour)
	rows, err := client.Candidates(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(2), rows[0].ID)
	assert.Equal(t, int64(3), rows[1].ID)
	assert.Equal(t, int64(1), rows[2].ID)

	// The limit trims the tail, keeping the oldest work first.
	rows, err = client.Candidates(ctx, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ID)

	count, err := client.CandidateCount(ctx, base.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSearchExcludesForgottenByDefault(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alive := memoryRow(1, "episodic", 0.9, []float64{1, 0, 0}, now)
	gone := memoryRow(2, "forgotten", 0.05, []float64{1, 0, 0}, now)
	require.NoError(t, client.Insert(ctx, alive))
	require.NoError(t, client.Insert(ctx, gone))

	hits, err := client.SearchByEmbedding(ctx, []float64{1, 0, 0}, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].ID)

	hits, err = client.SearchByEmbedding(ctx, []float64{1, 0, 0},
		&storage.MemorySearchOptions{IncludeForgotten: true})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchRanksBySimilarityThenRecency(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	far := memoryRow(1, "episodic", 1.0, []float64{0, 1, 0}, older)
	near := memoryRow(2, "episodic", 1.0, []float64{1, 0, 0}, older)
	tieOld := memoryRow(3, "episodic", 1.0, []float64{1, 1, 0}, older)
	tieNew := memoryRow(4, "episodic", 1.0, []float64{1, 1, 0}, newer)
	noVector := memoryRow(5, "episodic", 1.0, nil, newer)

	for _, row := range []*storage.MemoryRow{far, near, tieOld, tieNew, noVector} {
		require.NoError(t, client.Insert(ctx, row))
	}

	hits, err := client.SearchByEmbedding(ctx, []float64{1, 0, 0}, nil)
	require.NoError(t, err)
	require.Len(t, hits, 4)

	// Exact match first, then the identical-similarity pair broken by the
	// more recent creation, orthogonal vector last.
	assert.Equal(t, int64(2), hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, int64(4), hits[1].ID)
	assert.Equal(t, int64(3), hits[2].ID)
	assert.Equal(t, int64(1), hits[3].ID)

	hits, err = client.SearchByEmbedding(ctx, []float64{1, 0, 0},
		&storage.MemorySearchOptions{TopK: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(2), hits[0].ID)
	assert.Equal(t, int64(4), hits[1].ID)
}

func TestPurge(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, memoryRow(1, "episodic", 1.0, nil, time.Now().UTC())))
	require.NoError(t, client.Purge(ctx, 1))

	_, err := client.Get(ctx, 1)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	err = client.Purge(ctx, 1)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestDomainRoundTripAndSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	turnA := &storage.Row{
		ID:        1,
		Content:   "what food should I buy?",
		Embedding: []float64{1, 0, 0},
		Attrs:     map[string]interface{}{"session_id": "s-1", "speaker": "user"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	turnB := &storage.Row{
		ID:        2,
		Content:   "twice a day is plenty",
		Embedding: []float64{0, 1, 0},
		Attrs:     map[string]interface{}{"session_id": "s-2", "speaker": "assistant"},
		CreatedAt: now.Add(time.Hour),
		UpdatedAt: now.Add(time.Hour),
	}
	noVector := &storage.Row{
		ID:        3,
		Content:   "unembedded turn",
		Attrs:     map[string]interface{}{"session_id": "s-1", "speaker": "user"},
		CreatedAt: now.Add(2 * time.Hour),
		UpdatedAt: now.Add(2 * time.Hour),
	}
	for _, row := range []*storage.Row{turnA, turnB, noVector} {
		require.NoError(t, client.InsertDomain(ctx, storage.DomainConversation, row))
	}

	got, err := client.GetDomain(ctx, storage.DomainConversation, 1)
	require.NoError(t, err)
	assert.Equal(t, turnA.Content, got.Content)
	assert.Equal(t, "s-1", got.Attrs["session_id"])

	// Attribute filters narrow the listing; rows come back newest first.
	rows, err := client.QueryDomain(ctx, storage.DomainConversation, &storage.QueryOptions{
		Filters: map[string]interface{}{"session_id": "s-1"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].ID)
	assert.Equal(t, int64(1), rows[1].ID)

	// Similarity search skips rows without a vector.
	hits, err := client.SearchDomainByEmbedding(ctx, storage.DomainConversation, []float64{1, 0, 0}, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(1), hits[0].ID)

	_, err = client.GetDomain(ctx, "sessions", 1)
	require.Error(t, err)
}

package lifecycle_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/lifecycle"
)

// fakeRepo is an in-memory lifecycle.MemoryRepository with fault injection.
type fakeRepo struct {
	mu              sync.Mutex
	records         map[int64]*core.MemoryRecord
	failUpdateFor   map[int64]bool
	candidatesFails int
	updateCalls     []int64
}

func newFakeRepo(records ...*core.MemoryRecord) *fakeRepo {
	repo := &fakeRepo{
		records:       make(map[int64]*core.MemoryRecord),
		failUpdateFor: make(map[int64]bool),
	}
	for _, rec := range records {
		clone := *rec
		repo.records[rec.ID] = &clone
	}
	return repo
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*core.MemoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *fakeRepo) Update(_ context.Context, rec *core.MemoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdateFor[rec.ID] {
		return fmt.Errorf("injected update failure for %d", rec.ID)
	}
	if _, ok := r.records[rec.ID]; !ok {
		return core.ErrNotFound
	}
	clone := *rec
	r.records[rec.ID] = &clone
	r.updateCalls = append(r.updateCalls, rec.ID)
	return nil
}

func (r *fakeRepo) Candidates(_ context.Context, cutoff time.Time, limit int) ([]*core.MemoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.candidatesFails > 0 {
		r.candidatesFails--
		return nil, errors.New("injected candidates failure")
	}

	var out []*core.MemoryRecord
	for _, rec := range r.records {
		if rec.Phase == core.PhaseForgotten || rec.LastDecayedAt.After(cutoff) {
			continue
		}
		clone := *rec
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastDecayedAt.Equal(out[j].LastDecayedAt) {
			return out[i].LastDecayedAt.Before(out[j].LastDecayedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) get(id int64) *core.MemoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

// fakeSummarizer compresses by prefixing, or fails on demand.
type fakeSummarizer struct {
	fail bool
}

func (s *fakeSummarizer) Compress(_ context.Context, content string, targetPhase core.Phase) (string, error) {
	if s.fail {
		return "", errors.New("injected compression failure")
	}
	return fmt.Sprintf("[%s] %s", targetPhase, content), nil
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

// eligibleRecord is old enough and far enough past its last decay to be
// picked up and promoted out of the episodic phase.
func eligibleRecord(id int64, strength float64, now time.Time) *core.MemoryRecord {
	created := now.Add(-48 * time.Hour)
	return &core.MemoryRecord{
		ID:            id,
		Content:       fmt.Sprintf("memory %d", id),
		Importance:    0.5,
		Phase:         core.PhaseEpisodic,
		Strength:      strength,
		HalfLifeDays:  93.5,
		LastDecayedAt: created,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestConsolidateOnePromotesWithCompression(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(eligibleRecord(1, 0.9, now))
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now)})

	outcome, err := c.ConsolidateOne(context.Background(), 1, true)
	require.NoError(t, err)

	assert.True(t, outcome.Promoted)
	assert.True(t, outcome.Decayed)
	assert.False(t, outcome.Forgotten)
	assert.Equal(t, core.PhaseCompressed1, outcome.Phase)

	stored := repo.get(1)
	assert.Equal(t, core.PhaseCompressed1, stored.Phase)
	assert.Equal(t, "[compressed_1] memory 1", stored.Content)
	require.NotNil(t, stored.PromotedFrom)
	assert.Equal(t, core.PhaseEpisodic, stored.PromotedFrom.Phase)
	assert.Equal(t, "memory 1", stored.PromotedFrom.Content)
	require.NotNil(t, stored.PromotedAt)
	assert.Equal(t, now, *stored.PromotedAt)
}

func TestConsolidateOneForgetsBeforePromoting(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	// Old enough to promote, but too weak to survive: forgetting wins.
	rec := eligibleRecord(1, 0.05, now)
	repo := newFakeRepo(rec)
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now)})

	outcome, err := c.ConsolidateOne(context.Background(), 1, true)
	require.NoError(t, err)

	assert.True(t, outcome.Forgotten)
	assert.False(t, outcome.Promoted)
	assert.Equal(t, core.PhaseForgotten, repo.get(1).Phase)
}

func TestConsolidateOneTooYoungStaysPut(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := eligibleRecord(1, 0.9, now)
	created := now.Add(-2 * time.Hour)
	rec.CreatedAt = created
	rec.LastDecayedAt = created
	repo := newFakeRepo(rec)
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now)})

	outcome, err := c.ConsolidateOne(context.Background(), 1, false)
	require.NoError(t, err)
	assert.False(t, outcome.Promoted)
	assert.Equal(t, core.PhaseEpisodic, repo.get(1).Phase)
}

func TestConsolidateOneNotFound(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now)})

	_, err := c.ConsolidateOne(context.Background(), 404, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestConsolidateOneSummarizerFailurePersistsDecay(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := eligibleRecord(1, 0.9, now)
	repo := newFakeRepo(rec)
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{fail: true},
		lifecycle.Config{Clock: fixedClock(now)})

	outcome, err := c.ConsolidateOne(context.Background(), 1, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCollaborator))
	assert.False(t, outcome.Promoted)

	// Promotion was skipped, but the decayed strength reached the store.
	stored := repo.get(1)
	assert.Equal(t, core.PhaseEpisodic, stored.Phase)
	assert.Less(t, stored.Strength, 0.9)
	assert.Equal(t, now, stored.LastDecayedAt)
}

func TestBatchIsolatesPerRecordFailures(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(
		eligibleRecord(1, 0.9, now),
		eligibleRecord(2, 0.9, now),
		eligibleRecord(3, 0.9, now),
		eligibleRecord(4, 0.9, now),
		eligibleRecord(5, 0.9, now),
	)
	repo.failUpdateFor[3] = true
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now)})

	stats, err := c.ConsolidateBatch(context.Background(), 10, true, 0)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.ProcessedCount)
	assert.Equal(t, 4, stats.ConsolidatedCount)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, int64(3), stats.Errors[0].RecordID)
	assert.Equal(t, "repository", stats.Errors[0].Kind)

	// The other four reached the next phase.
	for _, id := range []int64{1, 2, 4, 5} {
		assert.Equal(t, core.PhaseCompressed1, repo.get(id).Phase, "record %d", id)
	}
	assert.Equal(t, core.PhaseEpisodic, repo.get(3).Phase)
}

func TestBatchRespectsBatchSize(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	// Distinct last-decay times so candidate order is fixed: 1 oldest.
	recs := make([]*core.MemoryRecord, 0, 5)
	for id := int64(1); id <= 5; id++ {
		rec := eligibleRecord(id, 0.9, now)
		rec.LastDecayedAt = now.Add(-time.Duration(100-id) * time.Hour)
		recs = append(recs, rec)
	}
	repo := newFakeRepo(recs...)
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now)})

	stats, err := c.ConsolidateBatch(context.Background(), 2, true, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.ProcessedCount)
	// The two oldest were taken, the other three are untouched.
	assert.Equal(t, now, repo.get(1).LastDecayedAt)
	assert.Equal(t, now, repo.get(2).LastDecayedAt)
	for _, id := range []int64{3, 4, 5} {
		assert.True(t, repo.get(id).LastDecayedAt.Before(now), "record %d should be untouched", id)
	}
}

func TestBatchSecondRunFindsNoWork(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(
		eligibleRecord(1, 0.9, now),
		eligibleRecord(2, 0.9, now),
	)
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now)})

	first, err := c.ConsolidateBatch(context.Background(), 10, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, first.ProcessedCount)

	// Everything was just decayed; the cycle window keeps it ineligible.
	second, err := c.ConsolidateBatch(context.Background(), 10, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, second.ProcessedCount)
	assert.Empty(t, second.Errors)
}

func TestBatchSummarizerFailureCapturedPerRecord(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(eligibleRecord(1, 0.9, now))
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{fail: true},
		lifecycle.Config{Clock: fixedClock(now)})

	stats, err := c.ConsolidateBatch(context.Background(), 10, true, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ProcessedCount)
	assert.Equal(t, 0, stats.ConsolidatedCount)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, "collaborator", stats.Errors[0].Kind)
	// Decay persisted even though promotion failed.
	assert.Equal(t, now, repo.get(1).LastDecayedAt)
}

func TestBatchRetriesCandidatePull(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(eligibleRecord(1, 0.9, now))
	repo.candidatesFails = 2
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now), RetryAttempts: 3, RetryBackoff: time.Millisecond})

	stats, err := c.ConsolidateBatch(context.Background(), 10, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ProcessedCount)
}

func TestBatchCandidatePullExhaustsRetries(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeRepo(eligibleRecord(1, 0.9, now))
	repo.candidatesFails = 5
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now), RetryAttempts: 3, RetryBackoff: time.Millisecond})

	_, err := c.ConsolidateBatch(context.Background(), 10, true, 0)
	require.Error(t, err)
}

func TestForgottenRecordsAreTerminal(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := eligibleRecord(1, 0.9, now)
	rec.Phase = core.PhaseForgotten
	repo := newFakeRepo(rec)
	c := lifecycle.NewConsolidator(repo, lifecycle.NewDecayEngine(), &fakeSummarizer{},
		lifecycle.Config{Clock: fixedClock(now)})

	outcome, err := c.ConsolidateOne(context.Background(), 1, true)
	require.NoError(t, err)
	assert.False(t, outcome.Promoted)
	assert.False(t, outcome.Forgotten)
	assert.Equal(t, core.PhaseForgotten, repo.get(1).Phase)
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/observability"
)

// MemoryRepository is the slice of the memory repository contract the
// consolidator needs. The full typed repository in pkg/repository satisfies it.
type MemoryRepository interface {
	// GetByID returns the record or core.ErrNotFound.
	GetByID(ctx context.Context, id int64) (*core.MemoryRecord, error)

	// Update persists the record's mutable fields.
	Update(ctx context.Context, rec *core.MemoryRecord) error

	// Candidates returns up to limit non-forgotten records whose last decay
	// is at or before cutoff, ordered oldest-LastDecayedAt-first.
	Candidates(ctx context.Context, cutoff time.Time, limit int) ([]*core.MemoryRecord, error)
}

// Summarizer is the external collaborator that compresses content when a
// record is promoted into a compression tier. Failure aborts only that
// record's promotion for the current cycle.
type Summarizer interface {
	Compress(ctx context.Context, content string, targetPhase core.Phase) (string, error)
}

// Config tunes a Consolidator. Zero values fall back to the defaults
// documented on each field.
type Config struct {
	// MinStrength is the default post-decay strength a record must keep to
	// be promoted (default 0.3). Batch callers may override it per run.
	MinStrength float64

	// ForgetBelow is the strength under which a record is moved to the
	// forgotten phase regardless of phase age (default ForgetThreshold).
	ForgetBelow float64

	// CycleWindow bounds candidate eligibility: records decayed within the
	// window are not picked up again, which makes back-to-back batch runs
	// idempotent (default 20h).
	CycleWindow time.Duration

	// PhaseMinAge is the minimum time a record must survive in its current
	// phase before it may be promoted out of it.
	PhaseMinAge map[core.Phase]time.Duration

	// Workers is the per-batch parallelism (default 4). Records never touch
	// each other's state, so per-record processing is safe to parallelize.
	Workers int

	// RetryAttempts and RetryBackoff govern the batch-boundary retry of the
	// candidate pull when the repository is unreachable (defaults 3, 250ms).
	RetryAttempts int
	RetryBackoff  time.Duration

	// Logger receives structured progress events.
	Logger zerolog.Logger

	// Metrics receives batch counters; nil disables instrumentation.
	Metrics *observability.Metrics

	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

// DefaultPhaseMinAge returns the standard minimum phase residency before
// promotion: memories climb quickly out of the episodic tier and ever more
// slowly toward the intuitive one.
func DefaultPhaseMinAge() map[core.Phase]time.Duration {
	return map[core.Phase]time.Duration{
		core.PhaseEpisodic:    24 * time.Hour,
		core.PhaseCompressed1: 7 * 24 * time.Hour,
		core.PhaseCompressed2: 30 * 24 * time.Hour,
		core.PhaseSemantic:    90 * 24 * time.Hour,
		core.PhasePattern:     180 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	if c.MinStrength <= 0 {
		c.MinStrength = 0.3
	}
	if c.ForgetBelow <= 0 {
		c.ForgetBelow = ForgetThreshold
	}
	if c.CycleWindow <= 0 {
		c.CycleWindow = 20 * time.Hour
	}
	if c.PhaseMinAge == nil {
		c.PhaseMinAge = DefaultPhaseMinAge()
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Outcome is the result of consolidating a single record.
type Outcome struct {
	ID        int64      `json:"id"`
	Phase     core.Phase `json:"phase"`
	Strength  float64    `json:"strength"`
	Decayed   bool       `json:"decayed"`
	Promoted  bool       `json:"promoted"`
	Forgotten bool       `json:"forgotten"`
}

// BatchError is one captured per-record failure inside a batch.
type BatchError struct {
	RecordID int64  `json:"record_id"`
	Kind     string `json:"error_kind"`
	Message  string `json:"message"`
}

// BatchStats aggregates one consolidation pass.
type BatchStats struct {
	RunID             string        `json:"run_id"`
	ProcessedCount    int           `json:"processed_count"`
	ConsolidatedCount int           `json:"consolidated_count"`
	DecayedCount      int           `json:"decayed_count"`
	ForgottenCount    int           `json:"forgotten_count"`
	Errors            []BatchError  `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration"`
}

// Consolidator drives consolidation passes over eligible memory records:
// decay, phase promotion, forgetting, and aggregate statistics.
//
// One batch must not run concurrently with another over the same store; the
// caller owns that mutual exclusion (e.g. a lease acquired before invoking
// ConsolidateBatch). Within a batch, records are processed in parallel.
type Consolidator struct {
	memories   MemoryRepository
	decay      *DecayEngine
	summarizer Summarizer
	cfg        Config
}

// NewConsolidator creates a consolidator over the given repository.
// summarizer may be nil; promotions into compression tiers are then skipped.
func NewConsolidator(memories MemoryRepository, decay *DecayEngine, summarizer Summarizer, cfg Config) *Consolidator {
	return &Consolidator{
		memories:   memories,
		decay:      decay,
		summarizer: summarizer,
		cfg:        cfg.withDefaults(),
	}
}

// ConsolidateOne runs the consolidation rules over a single record.
//
// Unlike batch processing, errors propagate directly to the caller:
// core.ErrNotFound for unknown ids, core.ErrCollaborator when the
// summarizer fails (decay is still persisted in that case), and
// core.ErrRepository when persistence fails.
func (c *Consolidator) ConsolidateOne(ctx context.Context, id int64, applyDecay bool) (*Outcome, error) {
	rec, err := c.memories.GetByID(ctx, id)
	if err != nil {
		return nil, core.NewMemoryError("ConsolidateOne", err)
	}

	outcome, err := c.process(ctx, rec, applyDecay, c.cfg.MinStrength)
	if err != nil {
		return outcome, core.NewMemoryError("ConsolidateOne", err)
	}
	return outcome, nil
}

// ConsolidateBatch pulls up to batchSize eligible records and processes each
// independently. One record's failure never aborts the batch: failures are
// captured in the returned stats and processing continues.
//
// batchSize <= 0 defaults to 100; minStrength <= 0 defaults to the
// configured promotion floor. Candidate order (oldest-LastDecayedAt-first)
// is stable, so repeated runs over an unchanged eligible set are
// reproducible; records decayed within the cycle window are not eligible
// again, so an immediate second run finds no new work.
func (c *Consolidator) ConsolidateBatch(ctx context.Context, batchSize int, applyDecay bool, minStrength float64) (*BatchStats, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if minStrength <= 0 {
		minStrength = c.cfg.MinStrength
	}

	now := c.cfg.Clock()
	started := now
	stats := &BatchStats{RunID: uuid.NewString()}

	cutoff := now.Add(-c.cfg.CycleWindow)
	candidates, err := c.pullCandidates(ctx, cutoff, batchSize)
	if err != nil {
		return nil, core.NewMemoryError("ConsolidateBatch", err)
	}

	c.cfg.Logger.Info().
		Str("run_id", stats.RunID).
		Int("candidates", len(candidates)).
		Bool("apply_decay", applyDecay).
		Float64("min_strength", minStrength).
		Msg("consolidation batch started")

	type result struct {
		outcome *Outcome
		err     error
	}
	results := make([]result, len(candidates))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := c.cfg.Workers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcome, err := c.process(ctx, candidates[i], applyDecay, minStrength)
				results[i] = result{outcome: outcome, err: err}
			}
		}()
	}
	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// Fold results in candidate order so stats and error lists are
	// deterministic regardless of worker interleaving.
	for i, res := range results {
		stats.ProcessedCount++
		if res.outcome != nil {
			if res.outcome.Decayed {
				stats.DecayedCount++
			}
			if res.outcome.Promoted {
				stats.ConsolidatedCount++
			}
			if res.outcome.Forgotten {
				stats.ForgottenCount++
			}
		}
		if res.err != nil {
			kind := classifyKind(res.err)
			stats.Errors = append(stats.Errors, BatchError{
				RecordID: candidates[i].ID,
				Kind:     kind,
				Message:  res.err.Error(),
			})
			c.cfg.Metrics.CountBatchError(kind)
		}
	}

	stats.Duration = time.Since(started)
	c.cfg.Metrics.ObserveBatch(stats.ConsolidatedCount, stats.ForgottenCount, stats.DecayedCount, stats.Duration)

	c.cfg.Logger.Info().
		Str("run_id", stats.RunID).
		Int("processed", stats.ProcessedCount).
		Int("consolidated", stats.ConsolidatedCount).
		Int("forgotten", stats.ForgottenCount).
		Int("errors", len(stats.Errors)).
		Dur("duration", stats.Duration).
		Msg("consolidation batch finished")

	return stats, nil
}

// pullCandidates fetches the batch's working set, retrying with backoff at
// the batch boundary when the repository is unreachable.
func (c *Consolidator) pullCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*core.MemoryRecord, error) {
	var lastErr error
	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		candidates, err := c.memories.Candidates(ctx, cutoff, limit)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
		c.cfg.Logger.Warn().Err(err).Int("attempt", attempt+1).Msg("candidate pull failed")
	}
	return nil, lastErr
}

// process applies decay, the forgetting rule, and the promotion rule to one
// record, then persists it. The forgetting condition is checked before
// promotion: a record that qualifies for both in the same cycle is forgotten.
//
// A summarizer failure skips only the promotion; the decayed strength is
// still persisted and the collaborator error is returned alongside the
// outcome so batch callers can record it.
func (c *Consolidator) process(ctx context.Context, rec *core.MemoryRecord, applyDecay bool, minStrength float64) (*Outcome, error) {
	now := c.cfg.Clock()
	outcome := &Outcome{ID: rec.ID}

	if applyDecay {
		before := rec.Strength
		c.decay.Decay(rec, now)
		outcome.Decayed = rec.Strength < before
	}

	var promotionErr error
	switch {
	case rec.Phase == core.PhaseForgotten:
		// Terminal. Only the decay bookkeeping above applies.

	case rec.Strength < c.cfg.ForgetBelow:
		rec.Phase = core.PhaseForgotten
		outcome.Forgotten = true

	default:
		promotionErr = c.maybePromote(ctx, rec, minStrength, now, outcome)
	}

	rec.UpdatedAt = now
	if err := c.memories.Update(ctx, rec); err != nil {
		// Nothing reached the store, so no outcome is reported; counting a
		// promotion that was never persisted would overstate the batch.
		return nil, fmt.Errorf("%w: %v", core.ErrRepository, err)
	}

	outcome.Phase = rec.Phase
	outcome.Strength = rec.Strength
	return outcome, promotionErr
}

// maybePromote advances rec one phase if it is ready for consolidation:
// old enough in its current phase and still at or above the strength floor.
func (c *Consolidator) maybePromote(ctx context.Context, rec *core.MemoryRecord, minStrength float64, now time.Time, outcome *Outcome) error {
	next, ok := rec.Phase.Next()
	if !ok {
		return nil
	}
	minAge, ok := c.cfg.PhaseMinAge[rec.Phase]
	if !ok || rec.PhaseAge(now) < minAge || rec.Strength < minStrength {
		return nil
	}

	content := rec.Content
	if next.Compressed() {
		if c.summarizer == nil {
			c.cfg.Logger.Debug().Int64("id", rec.ID).Msg("no summarizer configured, promotion skipped")
			return nil
		}
		compressed, err := c.summarizer.Compress(ctx, rec.Content, next)
		if err != nil {
			c.cfg.Logger.Warn().Err(err).Int64("id", rec.ID).Str("target_phase", string(next)).
				Msg("compression failed, promotion skipped")
			return fmt.Errorf("%w: compress for %s: %v", core.ErrCollaborator, next, err)
		}
		content = compressed
	}

	rec.PromotedFrom = &core.PromotedFrom{Phase: rec.Phase, Content: rec.Content}
	rec.Content = content
	rec.Phase = next
	promoted := now
	rec.PromotedAt = &promoted
	outcome.Promoted = true
	return nil
}

// classifyKind maps an error onto the batch error taxonomy.
func classifyKind(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation):
		return "validation"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrCollaborator):
		return "collaborator"
	case errors.Is(err, core.ErrRepository):
		return "repository"
	default:
		return "internal"
	}
}

package tiermem

import (
	"context"
	"time"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/lifecycle"
)

// Health is an aggregate, read-only snapshot of the memory store.
type Health struct {
	// TotalRecords counts every record, forgotten included.
	TotalRecords int `json:"total_records"`

	// CountByPhase breaks the total down per phase.
	CountByPhase map[core.Phase]int `json:"count_by_phase"`

	// AverageStrength is the mean strength across non-forgotten records.
	AverageStrength float64 `json:"average_strength"`

	// ForgottenRatio is forgotten records over the total, in [0, 1].
	ForgottenRatio float64 `json:"forgotten_ratio"`

	// ConsolidationBacklog counts records currently due for a pass.
	ConsolidationBacklog int `json:"consolidation_backlog"`

	// Score grades the store from 0 (neglected) to 100 (healthy).
	Score int `json:"score"`

	// Recommendations suggests operator actions, worst problem first.
	Recommendations []string `json:"recommendations,omitempty"`

	// GeneratedAt is when the snapshot was taken.
	GeneratedAt time.Time `json:"generated_at"`
}

// MemoryHealth computes a health snapshot of the memory store: phase
// distribution, average strength, forgotten ratio, consolidation backlog,
// and an overall score with recommendations.
//
// The snapshot is a pure read; it never mutates any record.
func (c *Client) MemoryHealth(ctx context.Context) (*Health, error) {
	counts, err := c.memories.CountByPhase(ctx)
	if err != nil {
		return nil, err
	}
	avgStrength, err := c.memories.AverageStrength(ctx)
	if err != nil {
		return nil, err
	}

	cycleWindow := 20 * time.Hour
	if c.cfg.Lifecycle != nil && c.cfg.Lifecycle.CycleWindow() > 0 {
		cycleWindow = c.cfg.Lifecycle.CycleWindow()
	}
	backlog, err := c.memories.CandidateCount(ctx, time.Now().UTC().Add(-cycleWindow))
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	forgottenRatio := 0.0
	if total > 0 {
		forgottenRatio = float64(counts[core.PhaseForgotten]) / float64(total)
	}

	health := &Health{
		TotalRecords:         total,
		CountByPhase:         counts,
		AverageStrength:      avgStrength,
		ForgottenRatio:       forgottenRatio,
		ConsolidationBacklog: backlog,
		GeneratedAt:          time.Now().UTC(),
	}
	health.Score, health.Recommendations = gradeHealth(health)
	return health, nil
}

// gradeHealth turns the raw snapshot into a 0-100 score and a list of
// recommendations. An empty store is healthy by definition.
func gradeHealth(h *Health) (int, []string) {
	if h.TotalRecords == 0 {
		return 100, nil
	}

	score := 100.0
	var recommendations []string

	// Weak average strength dominates the grade: it means the store is
	// aging without reinforcement.
	strengthPenalty := (1.0 - h.AverageStrength) * 40.0
	score -= strengthPenalty
	if h.AverageStrength < lifecycle.ForgetThreshold*3 {
		recommendations = append(recommendations,
			"average strength is critically low; reinforce memories that still matter or expect mass forgetting")
	} else if h.AverageStrength < 0.5 {
		recommendations = append(recommendations,
			"average strength is below 0.5; consider reinforcing frequently used memories")
	}

	score -= h.ForgottenRatio * 30.0
	if h.ForgottenRatio > 0.5 {
		recommendations = append(recommendations,
			"more than half of all records are forgotten; review importance scoring at capture time")
	}

	backlogRatio := float64(h.ConsolidationBacklog) / float64(h.TotalRecords)
	if backlogRatio > 1 {
		backlogRatio = 1
	}
	score -= backlogRatio * 30.0
	if backlogRatio > 0.5 {
		recommendations = append(recommendations,
			"consolidation backlog exceeds half the store; schedule consolidation runs more often")
	}

	if score < 0 {
		score = 0
	}
	return int(score + 0.5), recommendations
}

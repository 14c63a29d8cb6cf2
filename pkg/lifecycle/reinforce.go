package lifecycle

import (
	"time"

	"github.com/tiermem/tiermem-go/pkg/core"
)

// Default boosts. Application counts as the strongest reinforcement, so its
// default boost is larger than the plain access boost.
const (
	DefaultReinforceBoost = 0.1
	DefaultApplyBoost     = 0.3
)

// dampingFactor controls how quickly repeated reinforcement loses effect.
const dampingFactor = 0.1

// ReinforcementTracker computes strength boosts on access and application
// with diminishing returns:
//
//	effective_boost = boost / (1 + reinforcement_count * 0.1)
//
// Repeated exposure has declining marginal benefit, which models a realistic
// learning curve and keeps trivial repeated touches from inflating strength
// without bound.
type ReinforcementTracker struct {
	reinforceBoost float64
	applyBoost     float64
}

// NewReinforcementTracker creates a tracker with the default boosts.
func NewReinforcementTracker() *ReinforcementTracker {
	return &ReinforcementTracker{
		reinforceBoost: DefaultReinforceBoost,
		applyBoost:     DefaultApplyBoost,
	}
}

// EffectiveBoost returns the boost that the next reinforcement of rec would
// actually contribute, after diminishing returns.
func (t *ReinforcementTracker) EffectiveBoost(rec *core.MemoryRecord, boost float64) float64 {
	return boost / (1.0 + float64(rec.ReinforcementCount)*dampingFactor)
}

// Reinforce strengthens a record by the given boost, capped at 1.0, and
// stamps the access. A boost of zero uses the default.
//
// Negative boosts are rejected with a validation error. Reinforcing a
// forgotten record is permitted: it may lift the strength back above the
// forgetting threshold, but the phase is never auto-reverted here.
func (t *ReinforcementTracker) Reinforce(rec *core.MemoryRecord, boost float64, now time.Time) (float64, error) {
	if boost < 0 {
		return rec.Strength, core.NewMemoryError("Reinforce", core.ErrValidation)
	}
	if boost == 0 {
		boost = t.reinforceBoost
	}

	newStrength := rec.Strength + t.EffectiveBoost(rec, boost)
	if newStrength > 1.0 {
		newStrength = 1.0
	}

	rec.Strength = newStrength
	rec.ReinforcementCount++
	accessed := now
	rec.LastAccessedAt = &accessed
	return newStrength, nil
}

// Apply records that the memory was put to concrete use: it reinforces with
// the default apply boost, marks the record applied, and keeps the
// caller-supplied note.
func (t *ReinforcementTracker) Apply(rec *core.MemoryRecord, note string, now time.Time) (float64, error) {
	return t.ApplyBoost(rec, note, t.applyBoost, now)
}

// ApplyBoost is Apply with a caller-overridden boost.
func (t *ReinforcementTracker) ApplyBoost(rec *core.MemoryRecord, note string, boost float64, now time.Time) (float64, error) {
	newStrength, err := t.Reinforce(rec, boost, now)
	if err != nil {
		return newStrength, core.NewMemoryError("Apply", core.ErrValidation)
	}
	rec.Applied = true
	rec.ApplicationNote = note
	return newStrength, nil
}

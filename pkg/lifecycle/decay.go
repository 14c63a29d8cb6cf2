// Package lifecycle implements the memory aging model: half-life decay,
// reinforcement with diminishing returns, and the consolidation pass that
// promotes durable memories through the phase progression.
package lifecycle

import (
	"math"
	"time"

	"github.com/tiermem/tiermem-go/pkg/core"
)

// Half-life bounds, in days. The mapping from importance is linear, so the
// documented reference point holds exactly: importance 0.5 yields a
// half-life of 93.5 days.
const (
	MinHalfLifeDays = 7.0
	MaxHalfLifeDays = 180.0
)

// ForgetThreshold is the strength below which a record transitions to the
// forgotten phase during consolidation, regardless of phase age.
const ForgetThreshold = 0.1

// DecayEngine computes strength attenuation over elapsed time using an
// exponential half-life model:
//
//	new_strength = strength * 0.5^(elapsed_days / half_life_days)
//
// Decay is a pure, total function over valid records: it never increases
// strength, and zero elapsed time leaves the strength untouched exactly.
type DecayEngine struct {
	minHalfLife float64
	maxHalfLife float64
}

// NewDecayEngine creates a decay engine with the standard half-life bounds
// (7 days at importance 0, 180 days at importance 1).
func NewDecayEngine() *DecayEngine {
	return &DecayEngine{
		minHalfLife: MinHalfLifeDays,
		maxHalfLife: MaxHalfLifeDays,
	}
}

// HalfLife derives the half-life in days for a given importance.
//
// The mapping is linear and monotonically increasing: more important
// memories decay slower. Importance 0.5 maps to 93.5 days.
func (e *DecayEngine) HalfLife(importance float64) float64 {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	return e.minHalfLife + (e.maxHalfLife-e.minHalfLife)*importance
}

// Decay attenuates the record's strength for the time elapsed since its
// last decay and advances LastDecayedAt to asOf.
//
// If asOf is not after LastDecayedAt, the record is returned unchanged
// (idempotence under zero elapsed time). The result is clamped to
// [0, current strength]: decay never increases strength.
func (e *DecayEngine) Decay(rec *core.MemoryRecord, asOf time.Time) float64 {
	elapsed := asOf.Sub(rec.LastDecayedAt)
	if elapsed <= 0 {
		return rec.Strength
	}

	elapsedDays := elapsed.Hours() / 24.0
	newStrength := rec.Strength * math.Pow(0.5, elapsedDays/rec.HalfLifeDays)

	if newStrength < 0 {
		newStrength = 0
	}
	if newStrength > rec.Strength {
		newStrength = rec.Strength
	}

	rec.Strength = newStrength
	rec.LastDecayedAt = asOf
	return newStrength
}

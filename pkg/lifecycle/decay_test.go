package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/lifecycle"
)

func newRecord(importance, strength float64, lastDecayed time.Time) *core.MemoryRecord {
	engine := lifecycle.NewDecayEngine()
	return &core.MemoryRecord{
		ID:            1,
		Content:       "test memory",
		Importance:    importance,
		Phase:         core.PhaseEpisodic,
		Strength:      strength,
		HalfLifeDays:  engine.HalfLife(importance),
		LastDecayedAt: lastDecayed,
		CreatedAt:     lastDecayed,
		UpdatedAt:     lastDecayed,
	}
}

func TestHalfLifeMapping(t *testing.T) {
	engine := lifecycle.NewDecayEngine()

	assert.InDelta(t, 7.0, engine.HalfLife(0.0), 1e-9)
	assert.InDelta(t, 180.0, engine.HalfLife(1.0), 1e-9)

	// The documented reference point: importance 0.5 maps to 93.5 days.
	assert.InDelta(t, 93.5, engine.HalfLife(0.5), 1e-9)

	// Monotonically increasing.
	assert.Less(t, engine.HalfLife(0.2), engine.HalfLife(0.8))

	// Out-of-range importance clamps to the bounds.
	assert.InDelta(t, 7.0, engine.HalfLife(-1.0), 1e-9)
	assert.InDelta(t, 180.0, engine.HalfLife(2.0), 1e-9)
}

func TestDecayHalvesAtHalfLife(t *testing.T) {
	engine := lifecycle.NewDecayEngine()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := newRecord(0.5, 1.0, start)
	halfLife := time.Duration(rec.HalfLifeDays * 24 * float64(time.Hour))

	got := engine.Decay(rec, start.Add(halfLife))
	assert.InDelta(t, 0.5, got, 1e-9)
	assert.Equal(t, start.Add(halfLife), rec.LastDecayedAt)
}

func TestDecayZeroElapsedIsIdempotent(t *testing.T) {
	engine := lifecycle.NewDecayEngine()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := newRecord(0.5, 0.8, start)
	got := engine.Decay(rec, start)
	assert.Equal(t, 0.8, got)
	assert.Equal(t, start, rec.LastDecayedAt)

	// A clock that ran backwards must not change anything either.
	got = engine.Decay(rec, start.Add(-time.Hour))
	assert.Equal(t, 0.8, got)
	assert.Equal(t, start, rec.LastDecayedAt)
}

func TestDecayNeverIncreasesStrength(t *testing.T) {
	engine := lifecycle.NewDecayEngine()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, days := range []int{1, 7, 30, 365} {
		rec := newRecord(0.9, 0.6, start)
		got := engine.Decay(rec, start.AddDate(0, 0, days))
		assert.LessOrEqual(t, got, 0.6)
		assert.GreaterOrEqual(t, got, 0.0)
	}
}

func TestDecayMonotonicOverTime(t *testing.T) {
	engine := lifecycle.NewDecayEngine()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	prev := 1.0
	for _, days := range []int{1, 10, 50, 200, 1000} {
		rec := newRecord(0.3, 1.0, start)
		got := engine.Decay(rec, start.AddDate(0, 0, days))
		assert.Less(t, got, prev, "strength after %d days should be below the previous checkpoint", days)
		prev = got
	}
}

func TestDecayImportantMemoriesDecaySlower(t *testing.T) {
	engine := lifecycle.NewDecayEngine()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, 0, 30)

	trivial := newRecord(0.1, 1.0, start)
	important := newRecord(0.9, 1.0, start)

	engine.Decay(trivial, asOf)
	engine.Decay(important, asOf)
	assert.Less(t, trivial.Strength, important.Strength)
}

func TestDecayIncrementalEqualsSingleStep(t *testing.T) {
	engine := lifecycle.NewDecayEngine()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Exponential decay composes: decaying day by day for 10 days must land
	// where one 10-day decay lands.
	stepwise := newRecord(0.5, 1.0, start)
	for day := 1; day <= 10; day++ {
		engine.Decay(stepwise, start.AddDate(0, 0, day))
	}
	oneShot := newRecord(0.5, 1.0, start)
	engine.Decay(oneShot, start.AddDate(0, 0, 10))

	assert.InDelta(t, oneShot.Strength, stepwise.Strength, 1e-9)
}

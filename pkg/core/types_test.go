package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiermem/tiermem-go/pkg/core"
)

func TestPhaseProgression(t *testing.T) {
	want := []core.Phase{
		core.PhaseEpisodic,
		core.PhaseCompressed1,
		core.PhaseCompressed2,
		core.PhaseSemantic,
		core.PhasePattern,
		core.PhaseIntuitive,
	}
	assert.Equal(t, want, core.Phases())

	// Each phase advances to exactly the next one.
	for i := 0; i < len(want)-1; i++ {
		next, ok := want[i].Next()
		require.True(t, ok, "phase %s should advance", want[i])
		assert.Equal(t, want[i+1], next)
	}

	// The progression's end and the forgotten phase are terminal.
	_, ok := core.PhaseIntuitive.Next()
	assert.False(t, ok)
	_, ok = core.PhaseForgotten.Next()
	assert.False(t, ok)
	assert.True(t, core.PhaseIntuitive.Terminal())
	assert.True(t, core.PhaseForgotten.Terminal())
	assert.False(t, core.PhaseEpisodic.Terminal())
}

func TestPhaseValidity(t *testing.T) {
	for _, phase := range core.Phases() {
		assert.True(t, phase.Valid(), "phase %s", phase)
	}
	assert.True(t, core.PhaseForgotten.Valid())
	assert.False(t, core.Phase("working").Valid())
	assert.False(t, core.Phase("").Valid())
}

func TestPhaseCompressed(t *testing.T) {
	assert.False(t, core.PhaseEpisodic.Compressed())
	assert.True(t, core.PhaseCompressed1.Compressed())
	assert.True(t, core.PhaseCompressed2.Compressed())
	assert.True(t, core.PhaseSemantic.Compressed())
	assert.False(t, core.PhasePattern.Compressed())
	assert.False(t, core.PhaseIntuitive.Compressed())
}

func TestPhaseAge(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(72 * time.Hour)

	rec := &core.MemoryRecord{CreatedAt: created}
	assert.Equal(t, 72*time.Hour, rec.PhaseAge(now))

	// After a promotion, age is measured from the promotion.
	promoted := created.Add(48 * time.Hour)
	rec.PromotedAt = &promoted
	assert.Equal(t, 24*time.Hour, rec.PhaseAge(now))
}

func TestValidate(t *testing.T) {
	valid := func() *core.MemoryRecord {
		return &core.MemoryRecord{
			ID:           1,
			Content:      "x",
			Importance:   0.5,
			Phase:        core.PhaseEpisodic,
			Strength:     1.0,
			HalfLifeDays: 93.5,
		}
	}
	require.NoError(t, valid().Validate())

	cases := []struct {
		name   string
		mutate func(*core.MemoryRecord)
	}{
		{"importance above one", func(r *core.MemoryRecord) { r.Importance = 1.5 }},
		{"importance negative", func(r *core.MemoryRecord) { r.Importance = -0.1 }},
		{"strength above one", func(r *core.MemoryRecord) { r.Strength = 1.1 }},
		{"strength negative", func(r *core.MemoryRecord) { r.Strength = -0.5 }},
		{"unknown phase", func(r *core.MemoryRecord) { r.Phase = "limbo" }},
		{"zero half-life", func(r *core.MemoryRecord) { r.HalfLifeDays = 0 }},
		{"short embedding", func(r *core.MemoryRecord) { r.Embedding = make([]float64, 64) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := valid()
			tc.mutate(rec)
			err := rec.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrValidation))
		})
	}
}

func TestValidateEmbedding(t *testing.T) {
	assert.NoError(t, core.ValidateEmbedding(nil))
	assert.NoError(t, core.ValidateEmbedding(make([]float64, core.EmbeddingDims)))

	err := core.ValidateEmbedding(make([]float64, 512))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))

	err = core.ValidateEmbedding([]float64{})
	require.Error(t, err)
}

func TestMemoryErrorWrapping(t *testing.T) {
	err := core.NewMemoryError("Remember", core.ErrValidation)
	assert.True(t, errors.Is(err, core.ErrValidation))
	assert.Contains(t, err.Error(), "Remember")

	assert.Nil(t, core.NewMemoryError("Op", nil))
}

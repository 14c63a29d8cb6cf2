// Package core defines the memory lifecycle entities, the sibling-domain
// entities, and the shared error taxonomy. It has no dependencies on the
// storage or engine packages.
package core

import "time"

// EmbeddingDims is the fixed dimensionality of every embedding vector in
// the system. A vector of any other length is rejected at construction time.
const EmbeddingDims = 768

// Phase is a discrete stage in a memory's progression from raw episodic
// detail toward abstracted, pattern-level knowledge.
//
// The ordering is strict:
//
//	episodic -> compressed_1 -> compressed_2 -> semantic -> pattern -> intuitive
//
// PhaseForgotten sits outside the progression: it is reachable from any
// non-terminal phase and is terminal. A forgotten record is a soft-delete,
// excluded from retrieval but never physically removed by the engine.
type Phase string

const (
	// PhaseEpisodic is the entry phase for every newly captured experience.
	PhaseEpisodic Phase = "episodic"

	// PhaseCompressed1 is the first compression tier.
	PhaseCompressed1 Phase = "compressed_1"

	// PhaseCompressed2 is the second compression tier.
	PhaseCompressed2 Phase = "compressed_2"

	// PhaseSemantic holds memories abstracted into durable facts.
	PhaseSemantic Phase = "semantic"

	// PhasePattern holds recurring regularities distilled from semantic memories.
	PhasePattern Phase = "pattern"

	// PhaseIntuitive is the highest tier; records here no longer advance.
	PhaseIntuitive Phase = "intuitive"

	// PhaseForgotten is the terminal soft-delete phase.
	PhaseForgotten Phase = "forgotten"
)

// phaseOrder is the forward progression, excluding forgotten.
var phaseOrder = []Phase{
	PhaseEpisodic,
	PhaseCompressed1,
	PhaseCompressed2,
	PhaseSemantic,
	PhasePattern,
	PhaseIntuitive,
}

// Phases returns the forward phase progression in order, excluding forgotten.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Valid reports whether p is one of the defined phases (including forgotten).
func (p Phase) Valid() bool {
	if p == PhaseForgotten {
		return true
	}
	return p.index() >= 0
}

// Terminal reports whether a record in this phase can never advance again.
func (p Phase) Terminal() bool {
	return p == PhaseForgotten || p == PhaseIntuitive
}

// Next returns the phase that follows p in the progression.
// It returns p itself with ok=false when p is terminal or unknown.
func (p Phase) Next() (Phase, bool) {
	i := p.index()
	if i < 0 || i == len(phaseOrder)-1 {
		return p, false
	}
	return phaseOrder[i+1], true
}

// Compressed reports whether promotion into this phase rewrites the content
// through the summarization collaborator.
func (p Phase) Compressed() bool {
	return p == PhaseCompressed1 || p == PhaseCompressed2 || p == PhaseSemantic
}

func (p Phase) index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// PromotedFrom is the audit back-reference kept when a consolidation event
// advances a record: the prior phase and content before compression, not an
// ownership relationship.
type PromotedFrom struct {
	// Phase is the phase the record held before promotion.
	Phase Phase `json:"phase"`

	// Content is the content the record carried before promotion.
	Content string `json:"content"`
}

// MemoryRecord is the unit of storage: one discrete experience aging through
// the tier progression.
//
// Records are created at phase episodic with strength 1.0 and are mutated
// only by the decay engine (strength down), the reinforcement tracker
// (strength up), and the consolidation scheduler (phase forward).
type MemoryRecord struct {
	// ID is the opaque, immutable identifier of the record.
	ID int64 `json:"id"`

	// Content is the text payload. Compression across phases is delegated
	// to the summarization collaborator.
	Content string `json:"content"`

	// Embedding is the 768-dimensional vector, or nil when no embedding is
	// available. Any other length is a validation error.
	Embedding []float64 `json:"embedding,omitempty"`

	// Importance is in [0.0, 1.0]. Set at creation, revised only explicitly.
	Importance float64 `json:"importance"`

	// Phase is the record's current lifecycle tier.
	Phase Phase `json:"phase"`

	// Strength is the current retrievability in [0.0, 1.0].
	Strength float64 `json:"strength"`

	// HalfLifeDays is derived from Importance at creation and fixed
	// thereafter; decay changes Strength, never the half-life.
	HalfLifeDays float64 `json:"half_life_days"`

	// AccessCount counts retrieval hits.
	AccessCount int `json:"access_count"`

	// ReinforcementCount counts explicit reinforcements and applications.
	ReinforcementCount int `json:"reinforcement_count"`

	// Applied marks that the memory was used for something concrete.
	Applied bool `json:"applied,omitempty"`

	// ApplicationNote is the caller-supplied note from the last Apply.
	ApplicationNote string `json:"application_note,omitempty"`

	// LastAccessedAt is when the record was last retrieved or reinforced.
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// LastDecayedAt anchors the next decay computation.
	LastDecayedAt time.Time `json:"last_decayed_at"`

	// PromotedAt is when the record last advanced a phase (nil if never).
	PromotedAt *time.Time `json:"promoted_at,omitempty"`

	// PromotedFrom is the audit trail of the most recent promotion.
	PromotedFrom *PromotedFrom `json:"promoted_from,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last persisted.
	UpdatedAt time.Time `json:"updated_at"`

	// Score is the similarity score attached by search operations.
	Score float64 `json:"score,omitempty"`
}

// PhaseAge returns how long the record has survived in its current phase
// as of now. Never-promoted records age from creation.
func (r *MemoryRecord) PhaseAge(now time.Time) time.Duration {
	anchor := r.CreatedAt
	if r.PromotedAt != nil {
		anchor = *r.PromotedAt
	}
	return now.Sub(anchor)
}

// Validate checks the record invariants: importance and strength ranges,
// phase validity, embedding dimensionality, positive half-life.
func (r *MemoryRecord) Validate() error {
	if r.Importance < 0.0 || r.Importance > 1.0 {
		return NewMemoryError("Validate", ErrValidation)
	}
	if r.Strength < 0.0 || r.Strength > 1.0 {
		return NewMemoryError("Validate", ErrValidation)
	}
	if !r.Phase.Valid() {
		return NewMemoryError("Validate", ErrValidation)
	}
	if r.HalfLifeDays <= 0 {
		return NewMemoryError("Validate", ErrValidation)
	}
	return ValidateEmbedding(r.Embedding)
}

// ValidateEmbedding rejects any non-nil vector that is not exactly
// EmbeddingDims long. A nil vector means "no embedding available" and is fine.
func ValidateEmbedding(embedding []float64) error {
	if embedding == nil {
		return nil
	}
	if len(embedding) != EmbeddingDims {
		return NewMemoryError("ValidateEmbedding", ErrValidation)
	}
	return nil
}

// ConversationTurn is one dialogue turn in the conversation domain.
type ConversationTurn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score,omitempty"`
}

// EmotionalMoment is one emotional reaction in the emotion domain.
type EmotionalMoment struct {
	ID        int64     `json:"id"`
	Emotion   string    `json:"emotion"`
	Valence   float64   `json:"valence"`
	Arousal   float64   `json:"arousal"`
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score,omitempty"`
}

// KnowledgeFact is one learned fact in the knowledge domain.
type KnowledgeFact struct {
	ID         int64     `json:"id"`
	Subject    string    `json:"subject"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Embedding  []float64 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Score      float64   `json:"score,omitempty"`
}

// DocumentPassage is one imported document chunk in the document domain.
type DocumentPassage struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content"`
	Embedding  []float64 `json:"embedding,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Score      float64   `json:"score,omitempty"`
}

// Package storage provides the repository contracts consumed by the memory
// lifecycle engine and the cross-tier retrieval engine.
//
// It defines two interfaces all backends (SQLite, PostgreSQL, MySQL) must
// satisfy: MemoryStore for the lifecycle-bearing memory domain, and
// DomainStore for the sibling embedding-bearing domains (conversations,
// emotions, knowledge facts, document passages). Types live here to avoid
// circular dependencies with the core package.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist or was
// filtered out by access conditions.
var ErrNotFound = errors.New("storage: row not found")

// Sibling domain names. Each maps to one table/collection in the backend.
const (
	DomainConversation = "conversations"
	DomainEmotion      = "emotions"
	DomainKnowledge    = "knowledge_facts"
	DomainDocument     = "document_passages"
)

// Domains lists the sibling domains in their canonical fan-out order.
func Domains() []string {
	return []string{DomainConversation, DomainEmotion, DomainKnowledge, DomainDocument}
}

// MemoryRow is the persisted shape of a memory record.
//
// It mirrors core.MemoryRecord field-for-field; the core package owns
// validation, this package owns persistence.
type MemoryRow struct {
	ID                  int64
	Content             string
	Embedding           []float64
	Importance          float64
	Phase               string
	Strength            float64
	HalfLifeDays        float64
	AccessCount         int
	ReinforcementCount  int
	Applied             bool
	ApplicationNote     string
	LastAccessedAt      *time.Time
	LastDecayedAt       time.Time
	PromotedAt          *time.Time
	PromotedFromPhase   string
	PromotedFromContent string
	CreatedAt           time.Time
	UpdatedAt           time.Time

	// Score is the similarity attached by SearchByEmbedding; not persisted.
	Score float64
}

// Row is the persisted shape of a sibling-domain entity.
//
// Domain-specific fields (speaker, emotion, subject, document id) travel in
// Attrs; the typed repositories in pkg/repository map them back onto entity
// structs.
type Row struct {
	ID        int64
	Content   string
	Embedding []float64
	Attrs     map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time

	// Score is the similarity attached by SearchByEmbedding; not persisted.
	Score float64
}

// MemoryQueryOptions filters and paginates memory queries.
type MemoryQueryOptions struct {
	// Phases restricts results to the given phases (empty = all).
	Phases []string

	// MinImportance drops rows below this importance.
	MinImportance float64

	// MinStrength drops rows below this strength.
	MinStrength float64

	// IncludeForgotten admits rows in the forgotten phase. Off by default:
	// forgotten records are visible only to administrative callers.
	IncludeForgotten bool

	// SortBy is one of "created_at", "strength", "importance",
	// "last_decayed_at" (default "created_at", descending).
	SortBy string

	// Limit caps the number of rows returned (0 = backend default).
	Limit int

	// Offset skips rows for pagination.
	Offset int
}

// MemorySearchOptions filters memory similarity searches.
type MemorySearchOptions struct {
	// TopK caps the number of hits returned.
	TopK int

	// Phases restricts hits to the given phases (empty = all non-forgotten).
	Phases []string

	// MinImportance drops hits below this importance.
	MinImportance float64

	// MinStrength drops hits below this strength.
	MinStrength float64

	// IncludeForgotten admits forgotten rows (administrative searches only).
	IncludeForgotten bool
}

// QueryOptions filters and paginates sibling-domain queries.
type QueryOptions struct {
	// Filters matches Attrs fields by equality (e.g. "speaker": "user").
	Filters map[string]interface{}

	// Since/Until bound CreatedAt (nil = unbounded).
	Since *time.Time
	Until *time.Time

	// Limit caps the number of rows returned (0 = backend default).
	Limit int

	// Offset skips rows for pagination.
	Offset int
}

// SearchOptions filters sibling-domain similarity searches.
type SearchOptions struct {
	// TopK caps the number of hits returned.
	TopK int

	// Filters matches Attrs fields by equality.
	Filters map[string]interface{}

	// Since/Until bound CreatedAt (nil = unbounded).
	Since *time.Time
	Until *time.Time
}

// MemoryStore is the persistence contract for the memory domain.
//
// Implementations must return hits from SearchByEmbedding ordered by
// similarity descending with ties broken by CreatedAt descending, and
// must return candidates from Candidates ordered by LastDecayedAt
// ascending (oldest first) so batch processing is reproducible.
type MemoryStore interface {
	// Insert persists a new memory row.
	Insert(ctx context.Context, row *MemoryRow) error

	// Get retrieves a row by ID. Returns ErrNotFound if the id is unknown.
	Get(ctx context.Context, id int64) (*MemoryRow, error)

	// Update persists the mutable fields of an existing row.
	// Returns ErrNotFound if the id is unknown.
	Update(ctx context.Context, row *MemoryRow) error

	// Query returns rows matching the filter, sorted and paginated.
	Query(ctx context.Context, opts *MemoryQueryOptions) ([]*MemoryRow, error)

	// Count returns the total number of rows matching the filter,
	// ignoring Limit and Offset.
	Count(ctx context.Context, opts *MemoryQueryOptions) (int, error)

	// CountByPhase returns the number of rows per phase, including forgotten.
	CountByPhase(ctx context.Context) (map[string]int, error)

	// AverageStrength returns the mean strength across non-forgotten rows,
	// or 0 when there are none.
	AverageStrength(ctx context.Context) (float64, error)

	// CandidateCount returns how many rows are currently due for a
	// consolidation pass (the backlog feeding the health read-model).
	CandidateCount(ctx context.Context, cutoff time.Time) (int, error)

	// Candidates returns up to limit rows due for a consolidation pass:
	// rows whose LastDecayedAt is at or before cutoff and whose phase is
	// not terminal-forgotten, ordered oldest-LastDecayedAt-first.
	Candidates(ctx context.Context, cutoff time.Time, limit int) ([]*MemoryRow, error)

	// SearchByEmbedding performs vector similarity search where
	// similarity = 1 - cosine_distance. Rows without an embedding are
	// skipped, never an error.
	SearchByEmbedding(ctx context.Context, embedding []float64, opts *MemorySearchOptions) ([]*MemoryRow, error)

	// Purge physically deletes a row. Administrative use only; the
	// lifecycle engine soft-deletes by moving rows to the forgotten phase.
	Purge(ctx context.Context, id int64) error

	// Close releases backend resources.
	Close() error
}

// DomainStore is the persistence contract for sibling embedding-bearing
// domains. The domain argument is one of the Domain* constants and selects
// the backing table. Backends implement DomainStore and MemoryStore on the
// same client, hence the Domain-suffixed method names.
//
// SearchDomainByEmbedding ordering matches MemoryStore: similarity
// descending, ties broken by CreatedAt descending.
type DomainStore interface {
	// InsertDomain persists a new row into the given domain.
	InsertDomain(ctx context.Context, domain string, row *Row) error

	// GetDomain retrieves a row by ID. Returns ErrNotFound if the id is unknown.
	GetDomain(ctx context.Context, domain string, id int64) (*Row, error)

	// QueryDomain returns rows matching the filter, newest first.
	QueryDomain(ctx context.Context, domain string, opts *QueryOptions) ([]*Row, error)

	// SearchDomainByEmbedding performs vector similarity search within a
	// domain. A domain with zero embedding-bearing rows returns an empty
	// slice, never an error.
	SearchDomainByEmbedding(ctx context.Context, domain string, embedding []float64, opts *SearchOptions) ([]*Row, error)

	// Close releases backend resources.
	Close() error
}

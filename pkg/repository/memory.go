// Package repository adapts the storage layer to the typed entity contracts
// consumed by the lifecycle and retrieval engines.
//
// Each repository maps between core entities and storage rows, and maps
// storage.ErrNotFound onto core.ErrNotFound so callers only ever see the
// core error taxonomy.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// MemoryRepository is the typed repository for the memory domain. It
// satisfies both lifecycle.MemoryRepository and retrieval.MemorySearcher.
type MemoryRepository struct {
	store storage.MemoryStore
}

// NewMemoryRepository wraps a storage backend.
func NewMemoryRepository(store storage.MemoryStore) *MemoryRepository {
	return &MemoryRepository{store: store}
}

// Insert validates and persists a new record.
func (r *MemoryRepository) Insert(ctx context.Context, rec *core.MemoryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := r.store.Insert(ctx, memoryToRow(rec)); err != nil {
		return core.NewMemoryError("Insert", wrapStoreErr(err))
	}
	return nil
}

// GetByID returns the record or core.ErrNotFound.
func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*core.MemoryRecord, error) {
	row, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, core.NewMemoryError("GetByID", wrapStoreErr(err))
	}
	return memoryFromRow(row), nil
}

// Update persists the record's mutable fields.
func (r *MemoryRepository) Update(ctx context.Context, rec *core.MemoryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := r.store.Update(ctx, memoryToRow(rec)); err != nil {
		return core.NewMemoryError("Update", wrapStoreErr(err))
	}
	return nil
}

// Query returns records matching the filter, sorted and paginated.
func (r *MemoryRepository) Query(ctx context.Context, opts *storage.MemoryQueryOptions) ([]*core.MemoryRecord, error) {
	rows, err := r.store.Query(ctx, opts)
	if err != nil {
		return nil, core.NewMemoryError("Query", wrapStoreErr(err))
	}
	return memoriesFromRows(rows), nil
}

// Count returns the total number of records matching the filter.
func (r *MemoryRepository) Count(ctx context.Context, opts *storage.MemoryQueryOptions) (int, error) {
	count, err := r.store.Count(ctx, opts)
	if err != nil {
		return 0, core.NewMemoryError("Count", wrapStoreErr(err))
	}
	return count, nil
}

// CountByPhase returns the number of records per phase, including forgotten.
func (r *MemoryRepository) CountByPhase(ctx context.Context) (map[core.Phase]int, error) {
	counts, err := r.store.CountByPhase(ctx)
	if err != nil {
		return nil, core.NewMemoryError("CountByPhase", wrapStoreErr(err))
	}
	out := make(map[core.Phase]int, len(counts))
	for phase, count := range counts {
		out[core.Phase(phase)] = count
	}
	return out, nil
}

// AverageStrength returns the mean strength across non-forgotten records.
func (r *MemoryRepository) AverageStrength(ctx context.Context) (float64, error) {
	avg, err := r.store.AverageStrength(ctx)
	if err != nil {
		return 0, core.NewMemoryError("AverageStrength", wrapStoreErr(err))
	}
	return avg, nil
}

// CandidateCount returns how many records are due for a consolidation pass.
func (r *MemoryRepository) CandidateCount(ctx context.Context, cutoff time.Time) (int, error) {
	count, err := r.store.CandidateCount(ctx, cutoff)
	if err != nil {
		return 0, core.NewMemoryError("CandidateCount", wrapStoreErr(err))
	}
	return count, nil
}

// Candidates returns records due for consolidation, oldest-last-decayed first.
func (r *MemoryRepository) Candidates(ctx context.Context, cutoff time.Time, limit int) ([]*core.MemoryRecord, error) {
	rows, err := r.store.Candidates(ctx, cutoff, limit)
	if err != nil {
		return nil, core.NewMemoryError("Candidates", wrapStoreErr(err))
	}
	return memoriesFromRows(rows), nil
}

// SearchByEmbedding performs vector similarity search over the memory domain.
func (r *MemoryRepository) SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.MemorySearchOptions) ([]*core.MemoryRecord, error) {
	if err := core.ValidateEmbedding(embedding); err != nil {
		return nil, err
	}
	rows, err := r.store.SearchByEmbedding(ctx, embedding, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchByEmbedding", wrapStoreErr(err))
	}
	return memoriesFromRows(rows), nil
}

// Purge physically deletes a record. Administrative use only.
func (r *MemoryRepository) Purge(ctx context.Context, id int64) error {
	if err := r.store.Purge(ctx, id); err != nil {
		return core.NewMemoryError("Purge", wrapStoreErr(err))
	}
	return nil
}

// wrapStoreErr maps storage sentinels onto the core taxonomy.
func wrapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return core.ErrNotFound
	}
	return fmt.Errorf("%w: %v", core.ErrRepository, err)
}

func memoryToRow(rec *core.MemoryRecord) *storage.MemoryRow {
	row := &storage.MemoryRow{
		ID:                 rec.ID,
		Content:            rec.Content,
		Embedding:          rec.Embedding,
		Importance:         rec.Importance,
		Phase:              string(rec.Phase),
		Strength:           rec.Strength,
		HalfLifeDays:       rec.HalfLifeDays,
		AccessCount:        rec.AccessCount,
		ReinforcementCount: rec.ReinforcementCount,
		Applied:            rec.Applied,
		ApplicationNote:    rec.ApplicationNote,
		LastAccessedAt:     rec.LastAccessedAt,
		LastDecayedAt:      rec.LastDecayedAt,
		PromotedAt:         rec.PromotedAt,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
	if rec.PromotedFrom != nil {
		row.PromotedFromPhase = string(rec.PromotedFrom.Phase)
		row.PromotedFromContent = rec.PromotedFrom.Content
	}
	return row
}

func memoryFromRow(row *storage.MemoryRow) *core.MemoryRecord {
	rec := &core.MemoryRecord{
		ID:                 row.ID,
		Content:            row.Content,
		Embedding:          row.Embedding,
		Importance:         row.Importance,
		Phase:              core.Phase(row.Phase),
		Strength:           row.Strength,
		HalfLifeDays:       row.HalfLifeDays,
		AccessCount:        row.AccessCount,
		ReinforcementCount: row.ReinforcementCount,
		Applied:            row.Applied,
		ApplicationNote:    row.ApplicationNote,
		LastAccessedAt:     row.LastAccessedAt,
		LastDecayedAt:      row.LastDecayedAt,
		PromotedAt:         row.PromotedAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		Score:              row.Score,
	}
	if row.PromotedFromPhase != "" {
		rec.PromotedFrom = &core.PromotedFrom{
			Phase:   core.Phase(row.PromotedFromPhase),
			Content: row.PromotedFromContent,
		}
	}
	return rec
}

func memoriesFromRows(rows []*storage.MemoryRow) []*core.MemoryRecord {
	out := make([]*core.MemoryRecord, len(rows))
	for i, row := range rows {
		out[i] = memoryFromRow(row)
	}
	return out
}

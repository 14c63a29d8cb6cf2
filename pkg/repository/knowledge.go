package repository

import (
	"context"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// KnowledgeRepository is the typed repository for the knowledge domain.
// It satisfies retrieval.KnowledgeSearcher.
type KnowledgeRepository struct {
	store storage.DomainStore
}

// NewKnowledgeRepository wraps a storage backend.
func NewKnowledgeRepository(store storage.DomainStore) *KnowledgeRepository {
	return &KnowledgeRepository{store: store}
}

// Insert persists a new knowledge fact.
func (r *KnowledgeRepository) Insert(ctx context.Context, fact *core.KnowledgeFact) error {
	if err := core.ValidateEmbedding(fact.Embedding); err != nil {
		return err
	}
	row := &storage.Row{
		ID:        fact.ID,
		Content:   fact.Content,
		Embedding: fact.Embedding,
		Attrs: map[string]interface{}{
			attrSubject:    fact.Subject,
			attrConfidence: fact.Confidence,
		},
		CreatedAt: fact.CreatedAt,
		UpdatedAt: fact.CreatedAt,
	}
	if err := r.store.InsertDomain(ctx, storage.DomainKnowledge, row); err != nil {
		return core.NewMemoryError("InsertKnowledge", wrapStoreErr(err))
	}
	return nil
}

// GetByID returns the fact or core.ErrNotFound.
func (r *KnowledgeRepository) GetByID(ctx context.Context, id int64) (*core.KnowledgeFact, error) {
	row, err := r.store.GetDomain(ctx, storage.DomainKnowledge, id)
	if err != nil {
		return nil, core.NewMemoryError("GetKnowledge", wrapStoreErr(err))
	}
	return knowledgeFromRow(row), nil
}

// Query returns facts matching the filter, newest first.
func (r *KnowledgeRepository) Query(ctx context.Context, opts *storage.QueryOptions) ([]*core.KnowledgeFact, error) {
	rows, err := r.store.QueryDomain(ctx, storage.DomainKnowledge, opts)
	if err != nil {
		return nil, core.NewMemoryError("QueryKnowledge", wrapStoreErr(err))
	}
	out := make([]*core.KnowledgeFact, len(rows))
	for i, row := range rows {
		out[i] = knowledgeFromRow(row)
	}
	return out, nil
}

// SearchByEmbedding performs vector similarity search over knowledge facts.
func (r *KnowledgeRepository) SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*core.KnowledgeFact, error) {
	if err := core.ValidateEmbedding(embedding); err != nil {
		return nil, err
	}
	rows, err := r.store.SearchDomainByEmbedding(ctx, storage.DomainKnowledge, embedding, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchKnowledge", wrapStoreErr(err))
	}
	out := make([]*core.KnowledgeFact, len(rows))
	for i, row := range rows {
		out[i] = knowledgeFromRow(row)
	}
	return out, nil
}

func knowledgeFromRow(row *storage.Row) *core.KnowledgeFact {
	return &core.KnowledgeFact{
		ID:         row.ID,
		Subject:    attrString(row.Attrs, attrSubject),
		Content:    row.Content,
		Confidence: attrFloat(row.Attrs, attrConfidence),
		Embedding:  row.Embedding,
		CreatedAt:  row.CreatedAt,
		Score:      row.Score,
	}
}

package repository

import (
	"context"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// DocumentRepository is the typed repository for the document domain.
// It satisfies retrieval.DocumentSearcher.
type DocumentRepository struct {
	store storage.DomainStore
}

// NewDocumentRepository wraps a storage backend.
func NewDocumentRepository(store storage.DomainStore) *DocumentRepository {
	return &DocumentRepository{store: store}
}

// Insert persists a new document passage.
func (r *DocumentRepository) Insert(ctx context.Context, passage *core.DocumentPassage) error {
	if err := core.ValidateEmbedding(passage.Embedding); err != nil {
		return err
	}
	row := &storage.Row{
		ID:        passage.ID,
		Content:   passage.Content,
		Embedding: passage.Embedding,
		Attrs: map[string]interface{}{
			attrDocumentID: passage.DocumentID,
			attrTitle:      passage.Title,
		},
		CreatedAt: passage.CreatedAt,
		UpdatedAt: passage.CreatedAt,
	}
	if err := r.store.InsertDomain(ctx, storage.DomainDocument, row); err != nil {
		return core.NewMemoryError("InsertDocument", wrapStoreErr(err))
	}
	return nil
}

// GetByID returns the passage or core.ErrNotFound.
func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*core.DocumentPassage, error) {
	row, err := r.store.GetDomain(ctx, storage.DomainDocument, id)
	if err != nil {
		return nil, core.NewMemoryError("GetDocument", wrapStoreErr(err))
	}
	return documentFromRow(row), nil
}

// Query returns passages matching the filter, newest first.
func (r *DocumentRepository) Query(ctx context.Context, opts *storage.QueryOptions) ([]*core.DocumentPassage, error) {
	rows, err := r.store.QueryDomain(ctx, storage.DomainDocument, opts)
	if err != nil {
		return nil, core.NewMemoryError("QueryDocuments", wrapStoreErr(err))
	}
	out := make([]*core.DocumentPassage, len(rows))
	for i, row := range rows {
		out[i] = documentFromRow(row)
	}
	return out, nil
}

// SearchByEmbedding performs vector similarity search over document passages.
func (r *DocumentRepository) SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*core.DocumentPassage, error) {
	if err := core.ValidateEmbedding(embedding); err != nil {
		return nil, err
	}
	rows, err := r.store.SearchDomainByEmbedding(ctx, storage.DomainDocument, embedding, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchDocuments", wrapStoreErr(err))
	}
	out := make([]*core.DocumentPassage, len(rows))
	for i, row := range rows {
		out[i] = documentFromRow(row)
	}
	return out, nil
}

func documentFromRow(row *storage.Row) *core.DocumentPassage {
	return &core.DocumentPassage{
		ID:         row.ID,
		DocumentID: attrString(row.Attrs, attrDocumentID),
		Title:      attrString(row.Attrs, attrTitle),
		Content:    row.Content,
		Embedding:  row.Embedding,
		CreatedAt:  row.CreatedAt,
		Score:      row.Score,
	}
}

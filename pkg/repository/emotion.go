package repository

import (
	"context"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// EmotionRepository is the typed repository for the emotion domain.
// It satisfies retrieval.EmotionSearcher.
type EmotionRepository struct {
	store storage.DomainStore
}

// NewEmotionRepository wraps a storage backend.
func NewEmotionRepository(store storage.DomainStore) *EmotionRepository {
	return &EmotionRepository{store: store}
}

// Insert persists a new emotional moment.
func (r *EmotionRepository) Insert(ctx context.Context, moment *core.EmotionalMoment) error {
	if err := core.ValidateEmbedding(moment.Embedding); err != nil {
		return err
	}
	row := &storage.Row{
		ID:        moment.ID,
		Content:   moment.Content,
		Embedding: moment.Embedding,
		Attrs: map[string]interface{}{
			attrEmotion: moment.Emotion,
			attrValence: moment.Valence,
			attrArousal: moment.Arousal,
		},
		CreatedAt: moment.CreatedAt,
		UpdatedAt: moment.CreatedAt,
	}
	if err := r.store.InsertDomain(ctx, storage.DomainEmotion, row); err != nil {
		return core.NewMemoryError("InsertEmotion", wrapStoreErr(err))
	}
	return nil
}

// GetByID returns the moment or core.ErrNotFound.
func (r *EmotionRepository) GetByID(ctx context.Context, id int64) (*core.EmotionalMoment, error) {
	row, err := r.store.GetDomain(ctx, storage.DomainEmotion, id)
	if err != nil {
		return nil, core.NewMemoryError("GetEmotion", wrapStoreErr(err))
	}
	return emotionFromRow(row), nil
}

// Query returns moments matching the filter, newest first.
func (r *EmotionRepository) Query(ctx context.Context, opts *storage.QueryOptions) ([]*core.EmotionalMoment, error) {
	rows, err := r.store.QueryDomain(ctx, storage.DomainEmotion, opts)
	if err != nil {
		return nil, core.NewMemoryError("QueryEmotions", wrapStoreErr(err))
	}
	out := make([]*core.EmotionalMoment, len(rows))
	for i, row := range rows {
		out[i] = emotionFromRow(row)
	}
	return out, nil
}

// SearchByEmbedding performs vector similarity search over emotional moments.
func (r *EmotionRepository) SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*core.EmotionalMoment, error) {
	if err := core.ValidateEmbedding(embedding); err != nil {
		return nil, err
	}
	rows, err := r.store.SearchDomainByEmbedding(ctx, storage.DomainEmotion, embedding, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchEmotions", wrapStoreErr(err))
	}
	out := make([]*core.EmotionalMoment, len(rows))
	for i, row := range rows {
		out[i] = emotionFromRow(row)
	}
	return out, nil
}

func emotionFromRow(row *storage.Row) *core.EmotionalMoment {
	return &core.EmotionalMoment{
		ID:        row.ID,
		Emotion:   attrString(row.Attrs, attrEmotion),
		Valence:   attrFloat(row.Attrs, attrValence),
		Arousal:   attrFloat(row.Attrs, attrArousal),
		Content:   row.Content,
		Embedding: row.Embedding,
		CreatedAt: row.CreatedAt,
		Score:     row.Score,
	}
}

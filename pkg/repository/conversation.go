package repository

import (
	"context"

	"github.com/tiermem/tiermem-go/pkg/core"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// ConversationRepository is the typed repository for the conversation domain.
// It satisfies retrieval.ConversationSearcher.
type ConversationRepository struct {
	store storage.DomainStore
}

// NewConversationRepository wraps a storage backend.
func NewConversationRepository(store storage.DomainStore) *ConversationRepository {
	return &ConversationRepository{store: store}
}

// Insert persists a new conversation turn.
func (r *ConversationRepository) Insert(ctx context.Context, turn *core.ConversationTurn) error {
	if err := core.ValidateEmbedding(turn.Embedding); err != nil {
		return err
	}
	row := &storage.Row{
		ID:        turn.ID,
		Content:   turn.Content,
		Embedding: turn.Embedding,
		Attrs: map[string]interface{}{
			attrSessionID: turn.SessionID,
			attrSpeaker:   turn.Speaker,
		},
		CreatedAt: turn.CreatedAt,
		UpdatedAt: turn.CreatedAt,
	}
	if err := r.store.InsertDomain(ctx, storage.DomainConversation, row); err != nil {
		return core.NewMemoryError("InsertConversation", wrapStoreErr(err))
	}
	return nil
}

// GetByID returns the turn or core.ErrNotFound.
func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*core.ConversationTurn, error) {
	row, err := r.store.GetDomain(ctx, storage.DomainConversation, id)
	if err != nil {
		return nil, core.NewMemoryError("GetConversation", wrapStoreErr(err))
	}
	return conversationFromRow(row), nil
}

// Query returns turns matching the filter, newest first.
func (r *ConversationRepository) Query(ctx context.Context, opts *storage.QueryOptions) ([]*core.ConversationTurn, error) {
	rows, err := r.store.QueryDomain(ctx, storage.DomainConversation, opts)
	if err != nil {
		return nil, core.NewMemoryError("QueryConversations", wrapStoreErr(err))
	}
	out := make([]*core.ConversationTurn, len(rows))
	for i, row := range rows {
		out[i] = conversationFromRow(row)
	}
	return out, nil
}

// SearchByEmbedding performs vector similarity search over conversation turns.
func (r *ConversationRepository) SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.SearchOptions) ([]*core.ConversationTurn, error) {
	if err := core.ValidateEmbedding(embedding); err != nil {
		return nil, err
	}
	rows, err := r.store.SearchDomainByEmbedding(ctx, storage.DomainConversation, embedding, opts)
	if err != nil {
		return nil, core.NewMemoryError("SearchConversations", wrapStoreErr(err))
	}
	out := make([]*core.ConversationTurn, len(rows))
	for i, row := range rows {
		out[i] = conversationFromRow(row)
	}
	return out, nil
}

func conversationFromRow(row *storage.Row) *core.ConversationTurn {
	return &core.ConversationTurn{
		ID:        row.ID,
		SessionID: attrString(row.Attrs, attrSessionID),
		Speaker:   attrString(row.Attrs, attrSpeaker),
		Content:   row.Content,
		Embedding: row.Embedding,
		CreatedAt: row.CreatedAt,
		Score:     row.Score,
	}
}

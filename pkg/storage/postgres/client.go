// Package postgres provides the PostgreSQL + pgvector storage adapter.
//
// Embeddings live in a vector(768) column and similarity search uses
// pgvector's cosine distance operator, so ranking happens in the database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// Client implements storage.MemoryStore and storage.DomainStore on
// PostgreSQL with the pgvector extension.
type Client struct {
	db         *sql.DB
	dimensions int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	EmbeddingModelDims int
	SSLMode            string
}

// NewClient connects, enables pgvector, and initializes the memory table
// plus one table per sibling domain.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dims := cfg.EmbeddingModelDims
	if dims <= 0 {
		dims = 768
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	client := &Client{db: db, dimensions: dims}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	memoryTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memories (
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			phase VARCHAR(32) NOT NULL DEFAULT 'episodic',
			strength DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			half_life_days DOUBLE PRECISION NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			reinforcement_count INTEGER NOT NULL DEFAULT 0,
			applied BOOLEAN NOT NULL DEFAULT FALSE,
			application_note TEXT NOT NULL DEFAULT '',
			last_accessed_at TIMESTAMP,
			last_decayed_at TIMESTAMP NOT NULL,
			promoted_at TIMESTAMP,
			promoted_from_phase VARCHAR(32) NOT NULL DEFAULT '',
			promoted_from_content TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`, c.dimensions)
	if _, err := c.db.ExecContext(ctx, memoryTable); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_memories_phase ON memories(phase)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_last_decayed ON memories(last_decayed_at)`,
	}
	for _, idx := range indexes {
		if _, err := c.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("initTables: create index: %w", err)
		}
	}

	for _, domain := range storage.Domains() {
		domainTable := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				content TEXT NOT NULL,
				embedding vector(%d),
				attrs JSONB,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)
		`, domain, c.dimensions)
		if _, err := c.db.ExecContext(ctx, domainTable); err != nil {
			return fmt.Errorf("initTables: create table: %w", err)
		}
	}
	return nil
}

const memoryColumns = `id, content, embedding::text, importance, phase, strength, half_life_days,
	access_count, reinforcement_count, applied, application_note,
	last_accessed_at, last_decayed_at, promoted_at,
	promoted_from_phase, promoted_from_content, created_at, updated_at`

// Insert persists a new memory row.
func (c *Client) Insert(ctx context.Context, row *storage.MemoryRow) error {
	query := fmt.Sprintf(`
		INSERT INTO memories (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, `id, content, embedding, importance, phase, strength, half_life_days,
		access_count, reinforcement_count, applied, application_note,
		last_accessed_at, last_decayed_at, promoted_at,
		promoted_from_phase, promoted_from_content, created_at, updated_at`)

	_, err := c.db.ExecContext(ctx, query,
		row.ID, row.Content, vectorParam(row.Embedding), row.Importance, row.Phase,
		row.Strength, row.HalfLifeDays, row.AccessCount, row.ReinforcementCount,
		row.Applied, row.ApplicationNote, nullTime(row.LastAccessedAt),
		row.LastDecayedAt, nullTime(row.PromotedAt), row.PromotedFromPhase,
		row.PromotedFromContent, row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Get retrieves a memory row by ID.
func (c *Client) Get(ctx context.Context, id int64) (*storage.MemoryRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE id = $1`, memoryColumns)
	row, err := scanMemory(c.db.QueryRowContext(ctx, query, id), false)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return row, nil
}

// Update persists the mutable fields of an existing memory row.
func (c *Client) Update(ctx context.Context, row *storage.MemoryRow) error {
	query := `
		UPDATE memories SET
			content = $1, embedding = $2, importance = $3, phase = $4, strength = $5,
			access_count = $6, reinforcement_count = $7, applied = $8, application_note = $9,
			last_accessed_at = $10, last_decayed_at = $11, promoted_at = $12,
			promoted_from_phase = $13, promoted_from_content = $14, updated_at = $15
		WHERE id = $16
	`
	result, err := c.db.ExecContext(ctx, query,
		row.Content, vectorParam(row.Embedding), row.Importance, row.Phase, row.Strength,
		row.AccessCount, row.ReinforcementCount, row.Applied, row.ApplicationNote,
		nullTime(row.LastAccessedAt), row.LastDecayedAt, nullTime(row.PromotedAt),
		row.PromotedFromPhase, row.PromotedFromContent, row.UpdatedAt, row.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Query returns memory rows matching the filter, sorted and paginated.
func (c *Client) Query(ctx context.Context, opts *storage.MemoryQueryOptions) ([]*storage.MemoryRow, error) {
	if opts == nil {
		opts = &storage.MemoryQueryOptions{}
	}
	whereClause, args := memoryWhere(opts, 1)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM memories %s ORDER BY %s DESC, id DESC LIMIT $%d OFFSET $%d`,
		memoryColumns, whereClause, memorySortColumn(opts.SortBy), len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows, false)
}

// Count returns the total number of rows matching the filter.
func (c *Client) Count(ctx context.Context, opts *storage.MemoryQueryOptions) (int, error) {
	if opts == nil {
		opts = &storage.MemoryQueryOptions{}
	}
	whereClause, args := memoryWhere(opts, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM memories %s`, whereClause)

	var count int
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return count, nil
}

// CountByPhase returns the number of rows per phase, including forgotten.
func (c *Client) CountByPhase(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT phase, COUNT(*) FROM memories GROUP BY phase`)
	if err != nil {
		return nil, fmt.Errorf("CountByPhase: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var phase string
		var count int
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, fmt.Errorf("CountByPhase: %w", err)
		}
		counts[phase] = count
	}
	return counts, rows.Err()
}

// AverageStrength returns the mean strength across non-forgotten rows.
func (c *Client) AverageStrength(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := c.db.QueryRowContext(ctx,
		`SELECT AVG(strength) FROM memories WHERE phase != 'forgotten'`).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("AverageStrength: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// CandidateCount returns the consolidation backlog size.
func (c *Client) CandidateCount(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE phase != 'forgotten' AND last_decayed_at <= $1`,
		cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("CandidateCount: %w", err)
	}
	return count, nil
}

// Candidates returns rows due for consolidation, oldest-last-decayed first.
func (c *Client) Candidates(ctx context.Context, cutoff time.Time, limit int) ([]*storage.MemoryRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE phase != 'forgotten' AND last_decayed_at <= $1
		ORDER BY last_decayed_at ASC, id ASC
		LIMIT $2
	`, memoryColumns)

	rows, err := c.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("Candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows, false)
}

// SearchByEmbedding performs vector search using pgvector's cosine distance;
// similarity = 1 - (embedding <=> query).
func (c *Client) SearchByEmbedding(ctx context.Context, embedding []float64, opts *storage.MemorySearchOptions) ([]*storage.MemoryRow, error) {
	if opts == nil {
		opts = &storage.MemorySearchOptions{}
	}
	queryOpts := &storage.MemoryQueryOptions{
		Phases:           opts.Phases,
		MinImportance:    opts.MinImportance,
		MinStrength:      opts.MinStrength,
		IncludeForgotten: opts.IncludeForgotten,
	}
	whereClause, args := memoryWhere(queryOpts, 2)
	if whereClause == "" {
		whereClause = "WHERE embedding IS NOT NULL"
	} else {
		whereClause += " AND embedding IS NOT NULL"
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	query := fmt.Sprintf(`
		SELECT %s, 1 - (embedding <=> $1) AS similarity
		FROM memories
		%s
		ORDER BY embedding <=> $1, created_at DESC
		LIMIT $%d
	`, memoryColumns, whereClause, len(args)+2)

	allArgs := append([]interface{}{vectorToString(embedding)}, args...)
	allArgs = append(allArgs, topK)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("SearchByEmbedding: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows, true)
}

// Purge physically deletes a memory row. Administrative use only.
func (c *Client) Purge(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("Purge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Purge: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// InsertDomain persists a sibling-domain row.
func (c *Client) InsertDomain(ctx context.Context, domain string, row *storage.Row) error {
	table, err := domainTable(domain)
	if err != nil {
		return err
	}
	attrsJSON, err := json.Marshal(row.Attrs)
	if err != nil {
		return fmt.Errorf("InsertDomain: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, content, embedding, attrs, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`, table)
	_, err = c.db.ExecContext(ctx, query, row.ID, row.Content, vectorParam(row.Embedding), string(attrsJSON), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("InsertDomain: %w", err)
	}
	return nil
}

// GetDomain retrieves a sibling-domain row by ID.
func (c *Client) GetDomain(ctx context.Context, domain string, id int64) (*storage.Row, error) {
	table, err := domainTable(domain)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, content, embedding::text, attrs, created_at, updated_at FROM %s WHERE id = $1`, table)
	row, err := scanDomainRow(c.db.QueryRowContext(ctx, query, id), false)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetDomain: %w", err)
	}
	return row, nil
}

// QueryDomain returns sibling-domain rows matching the filter, newest first.
func (c *Client) QueryDomain(ctx context.Context, domain string, opts *storage.QueryOptions) ([]*storage.Row, error) {
	if opts == nil {
		opts = &storage.QueryOptions{}
	}
	table, err := domainTable(domain)
	if err != nil {
		return nil, err
	}
	whereClause, args := domainWhere(opts.Filters, opts.Since, opts.Until, 1)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, content, embedding::text, attrs, created_at, updated_at FROM %s
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, table, whereClause, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryDomain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDomainRows(rows, false)
}

// SearchDomainByEmbedding performs pgvector similarity search within one
// sibling domain.
func (c *Client) SearchDomainByEmbedding(ctx context.Context, domain string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Row, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	table, err := domainTable(domain)
	if err != nil {
		return nil, err
	}
	whereClause, args := domainWhere(opts.Filters, opts.Since, opts.Until, 2)
	if whereClause == "" {
		whereClause = "WHERE embedding IS NOT NULL"
	} else {
		whereClause += " AND embedding IS NOT NULL"
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	query := fmt.Sprintf(`
		SELECT id, content, embedding::text, attrs, created_at, updated_at,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY embedding <=> $1, created_at DESC
		LIMIT $%d
	`, table, whereClause, len(args)+2)

	allArgs := append([]interface{}{vectorToString(embedding)}, args...)
	allArgs = append(allArgs, topK)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("SearchDomainByEmbedding: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectDomainRows(rows, true)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func collectMemories(rows *sql.Rows, withScore bool) ([]*storage.MemoryRow, error) {
	var out []*storage.MemoryRow
	for rows.Next() {
		row, err := scanMemory(rows, withScore)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func collectDomainRows(rows *sql.Rows, withScore bool) ([]*storage.Row, error) {
	var out []*storage.Row
	for rows.Next() {
		row, err := scanDomainRow(rows, withScore)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

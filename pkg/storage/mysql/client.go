// Package mysql provides the MySQL storage adapter.
//
// MySQL has no native vector type, so embeddings are stored as JSON arrays
// and similarity is computed in Go, the same strategy as the SQLite adapter.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/tiermem/tiermem-go/pkg/storage"
)

// Client implements storage.MemoryStore and storage.DomainStore on MySQL.
type Client struct {
	db *sql.DB
}

// Config contains MySQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// NewClient connects to MySQL and initializes the memory table plus one
// table per sibling domain.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	client := &Client{db: db}
	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	memoryTable := `
		CREATE TABLE IF NOT EXISTS memories (
			id BIGINT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding JSON,
			importance DOUBLE NOT NULL DEFAULT 0.5,
			phase VARCHAR(32) NOT NULL DEFAULT 'episodic',
			strength DOUBLE NOT NULL DEFAULT 1.0,
			half_life_days DOUBLE NOT NULL,
			access_count INT NOT NULL DEFAULT 0,
			reinforcement_count INT NOT NULL DEFAULT 0,
			applied TINYINT(1) NOT NULL DEFAULT 0,
			application_note TEXT,
			last_accessed_at DATETIME(6),
			last_decayed_at DATETIME(6) NOT NULL,
			promoted_at DATETIME(6),
			promoted_from_phase VARCHAR(32) NOT NULL DEFAULT '',
			promoted_from_content TEXT,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_memories_phase (phase),
			INDEX idx_memories_last_decayed (last_decayed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := c.db.ExecContext(ctx, memoryTable); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	for _, domain := range storage.Domains() {
		domainTableSQL := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGINT PRIMARY KEY,
				content TEXT NOT NULL,
				embedding JSON,
				attrs JSON,
				created_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				INDEX idx_%s_created (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
		`, domain, domain)
		if _, err := c.db.ExecContext(ctx, domainTableSQL); err != nil {
			return fmt.Errorf("initTables: create table: %w", err)
		}
	}
	return nil
}

const memoryColumns = `id, content, embedding, importance, phase, strength, half_life_days,
	access_count, reinforcement_count, applied, application_note,
	last_accessed_at, last_decayed_at, promoted_at,
	promoted_from_phase, promoted_from_content, created_at, updated_at`

// Insert persists a new memory row.
func (c *Client) Insert(ctx context.Context, row *storage.MemoryRow) error {
	embeddingJSON, err := marshalEmbedding(row.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO memories (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, memoryColumns)

	_, err = c.db.ExecContext(ctx, query,
		row.ID, row.Content, embeddingJSON, row.Importance, row.Phase,
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
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE id = ?`, memoryColumns)
	row, err := scanMemory(c.db.QueryRowContext(ctx, query, id))
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
	embeddingJSON, err := marshalEmbedding(row.Embedding)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	query := `
		UPDATE memories SET
			content = ?, embedding = ?, importance = ?, phase = ?, strength = ?,
			access_count = ?, reinforcement_count = ?, applied = ?, application_note = ?,
			last_accessed_at = ?, last_decayed_at = ?, promoted_at = ?,
			promoted_from_phase = ?, promoted_from_content = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := c.db.ExecContext(ctx, query,
		row.Content, embeddingJSON, row.Importance, row.Phase, row.Strength,
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
		// RowsAffected is 0 both for a missing id and for a no-op write,
		// so confirm existence before reporting not-found.
		var exists int
		if err := c.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, row.ID).Scan(&exists); err == sql.ErrNoRows {
			return storage.ErrNotFound
		} else if err != nil {
			return fmt.Errorf("Update: %w", err)
		}
	}
	return nil
}

// Query returns memory rows matching the filter, sorted and paginated.
func (c *Client) Query(ctx context.Context, opts *storage.MemoryQueryOptions) ([]*storage.MemoryRow, error) {
	if opts == nil {
		opts = &storage.MemoryQueryOptions{}
	}
	whereClause, args := memoryWhere(opts)

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM memories %s ORDER BY %s DESC, id DESC LIMIT ? OFFSET ?`,
		memoryColumns, whereClause, memorySortColumn(opts.SortBy))
	args = append(args, limit, opts.Offset)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

// Count returns the total number of rows matching the filter.
func (c *Client) Count(ctx context.Context, opts *storage.MemoryQueryOptions) (int, error) {
	if opts == nil {
		opts = &storage.MemoryQueryOptions{}
	}
	whereClause, args := memoryWhere(opts)
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
		`SELECT COUNT(*) FROM memories WHERE phase != 'forgotten' AND last_decayed_at <= ?`,
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
		WHERE phase != 'forgotten' AND last_decayed_at <= ?
		ORDER BY last_decayed_at ASC, id ASC
		LIMIT ?
	`, memoryColumns)

	rows, err := c.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("Candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectMemories(rows)
}

// SearchByEmbedding loads candidate rows and ranks them by cosine similarity
// in Go.
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
	whereClause, args := memoryWhere(queryOpts)
	if whereClause == "" {
		whereClause = "WHERE embedding IS NOT NULL"
	} else {
		whereClause += " AND embedding IS NOT NULL"
	}

	query := fmt.Sprintf(`SELECT %s FROM memories %s ORDER BY id`, memoryColumns, whereClause)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("SearchByEmbedding: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*storage.MemoryRow
	for rows.Next() {
		row, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("SearchByEmbedding: %w", err)
		}
		if row.Embedding == nil {
			continue
		}
		row.Score = cosineSimilarity(embedding, row.Embedding)
		hits = append(hits, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if opts.TopK > 0 && len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

// Purge physically deletes a memory row. Administrative use only.
func (c *Client) Purge(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
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
	embeddingJSON, err := marshalEmbedding(row.Embedding)
	if err != nil {
		return fmt.Errorf("InsertDomain: %w", err)
	}
	attrsJSON, err := json.Marshal(row.Attrs)
	if err != nil {
		return fmt.Errorf("InsertDomain: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, content, embedding, attrs, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`, table)
	_, err = c.db.ExecContext(ctx, query, row.ID, row.Content, embeddingJSON, string(attrsJSON), row.CreatedAt, row.UpdatedAt)
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
	query := fmt.Sprintf(`SELECT id, content, embedding, attrs, created_at, updated_at FROM %s WHERE id = ?`, table)
	row, err := scanDomainRow(c.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetDomain: %w", err)
	}
	return row, nil
}

// QueryDomain returns sibling-domain rows matching the filter, newest first.
// Attribute filters are applied in Go after the time-bounded scan.
func (c *Client) QueryDomain(ctx context.Context, domain string, opts *storage.QueryOptions) ([]*storage.Row, error) {
	if opts == nil {
		opts = &storage.QueryOptions{}
	}
	table, err := domainTable(domain)
	if err != nil {
		return nil, err
	}
	whereClause, args := timeWhere(opts.Since, opts.Until)

	query := fmt.Sprintf(`SELECT id, content, embedding, attrs, created_at, updated_at FROM %s %s ORDER BY created_at DESC, id DESC`, table, whereClause)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryDomain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*storage.Row
	for rows.Next() {
		row, err := scanDomainRow(rows)
		if err != nil {
			return nil, fmt.Errorf("QueryDomain: %w", err)
		}
		if !matchAttrs(row.Attrs, opts.Filters) {
			continue
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// SearchDomainByEmbedding loads candidate rows and ranks them by cosine
// similarity in Go.
func (c *Client) SearchDomainByEmbedding(ctx context.Context, domain string, embedding []float64, opts *storage.SearchOptions) ([]*storage.Row, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	table, err := domainTable(domain)
	if err != nil {
		return nil, err
	}
	whereClause, args := timeWhere(opts.Since, opts.Until)
	if whereClause == "" {
		whereClause = "WHERE embedding IS NOT NULL"
	} else {
		whereClause += " AND embedding IS NOT NULL"
	}

	query := fmt.Sprintf(`SELECT id, content, embedding, attrs, created_at, updated_at FROM %s %s ORDER BY id`, table, whereClause)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("SearchDomainByEmbedding: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*storage.Row
	for rows.Next() {
		row, err := scanDomainRow(rows)
		if err != nil {
			return nil, fmt.Errorf("SearchDomainByEmbedding: %w", err)
		}
		if row.Embedding == nil || !matchAttrs(row.Attrs, opts.Filters) {
			continue
		}
		row.Score = cosineSimilarity(embedding, row.Embedding)
		hits = append(hits, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func collectMemories(rows *sql.Rows) ([]*storage.MemoryRow, error) {
	var out []*storage.MemoryRow
	for rows.Next() {
		row, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func memoryWhere(opts *storage.MemoryQueryOptions) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if len(opts.Phases) > 0 {
		placeholders := make([]string, len(opts.Phases))
		for i, phase := range opts.Phases {
			placeholders[i] = "?"
			args = append(args, phase)
		}
		conditions = append(conditions, fmt.Sprintf("phase IN (%s)", strings.Join(placeholders, ", ")))
	} else if !opts.IncludeForgotten {
		conditions = append(conditions, "phase != 'forgotten'")
	}
	if opts.MinImportance > 0 {
		conditions = append(conditions, "importance >= ?")
		args = append(args, opts.MinImportance)
	}
	if opts.MinStrength > 0 {
		conditions = append(conditions, "strength >= ?")
		args = append(args, opts.MinStrength)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func memorySortColumn(sortBy string) string {
	switch sortBy {
	case "strength", "importance", "last_decayed_at", "created_at":
		return sortBy
	default:
		return "created_at"
	}
}

func timeWhere(since, until *time.Time) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if since != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *since)
	}
	if until != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *until)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func domainTable(domain string) (string, error) {
	for _, known := range storage.Domains() {
		if domain == known {
			return domain, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", domain)
}

func matchAttrs(attrs map[string]interface{}, filters map[string]interface{}) bool {
	for key, want := range filters {
		got, ok := attrs[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func marshalEmbedding(embedding []float64) (interface{}, error) {
	if embedding == nil {
		return nil, nil
	}
	data, err := json.Marshal(embedding)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(s scanner) (*storage.MemoryRow, error) {
	var row storage.MemoryRow
	var embeddingStr sql.NullString
	var lastAccessedAt, promotedAt sql.NullTime

	err := s.Scan(
		&row.ID, &row.Content, &embeddingStr, &row.Importance, &row.Phase,
		&row.Strength, &row.HalfLifeDays, &row.AccessCount, &row.ReinforcementCount,
		&row.Applied, &row.ApplicationNote, &lastAccessedAt, &row.LastDecayedAt,
		&promotedAt, &row.PromotedFromPhase, &row.PromotedFromContent,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if embeddingStr.Valid && embeddingStr.String != "" {
		if err := json.Unmarshal([]byte(embeddingStr.String), &row.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	if lastAccessedAt.Valid {
		row.LastAccessedAt = &lastAccessedAt.Time
	}
	if promotedAt.Valid {
		row.PromotedAt = &promotedAt.Time
	}
	return &row, nil
}

func scanDomainRow(s scanner) (*storage.Row, error) {
	var row storage.Row
	var embeddingStr, attrsStr sql.NullString

	if err := s.Scan(&row.ID, &row.Content, &embeddingStr, &attrsStr, &row.CreatedAt, &row.UpdatedAt); err != nil {
		return nil, err
	}
	if embeddingStr.Valid && embeddingStr.String != "" {
		if err := json.Unmarshal([]byte(embeddingStr.String), &row.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	row.Attrs = make(map[string]interface{})
	if attrsStr.Valid && attrsStr.String != "" {
		if err := json.Unmarshal([]byte(attrsStr.String), &row.Attrs); err != nil {
			return nil, fmt.Errorf("parse attrs: %w", err)
		}
	}
	return &row, nil
}

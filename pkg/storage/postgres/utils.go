package postgres

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tiermem/tiermem-go/pkg/storage"
)

// vectorToString renders a vector in pgvector's text format: [0.1,0.2,...].
func vectorToString(embedding []float64) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// vectorParam converts an embedding into an insertable value, preserving NULL.
func vectorParam(embedding []float64) interface{} {
	if embedding == nil {
		return nil
	}
	return vectorToString(embedding)
}

// parseVector parses pgvector's text format back into a float slice.
func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		out[i] = v
	}
	return out, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// memoryWhere builds the WHERE clause for memory queries using positional
// placeholders starting at startIdx.
func memoryWhere(opts *storage.MemoryQueryOptions, startIdx int) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	idx := startIdx

	if len(opts.Phases) > 0 {
		placeholders := make([]string, len(opts.Phases))
		for i, phase := range opts.Phases {
			placeholders[i] = fmt.Sprintf("$%d", idx)
			args = append(args, phase)
			idx++
		}
		conditions = append(conditions, fmt.Sprintf("phase IN (%s)", strings.Join(placeholders, ", ")))
	} else if !opts.IncludeForgotten {
		conditions = append(conditions, "phase != 'forgotten'")
	}
	if opts.MinImportance > 0 {
		conditions = append(conditions, fmt.Sprintf("importance >= $%d", idx))
		args = append(args, opts.MinImportance)
		idx++
	}
	if opts.MinStrength > 0 {
		conditions = append(conditions, fmt.Sprintf("strength >= $%d", idx))
		args = append(args, opts.MinStrength)
		idx++
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

// domainWhere builds the WHERE clause for sibling-domain queries. Attribute
// filters compare as text via the JSONB ->> operator.
func domainWhere(filters map[string]interface{}, since, until *time.Time, startIdx int) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	idx := startIdx

	keys := make([]string, 0, len(filters))
	for key := range filters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		conditions = append(conditions, fmt.Sprintf("attrs->>'%s' = $%d", sanitizeKey(key), idx))
		args = append(args, fmt.Sprint(filters[key]))
		idx++
	}
	if since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, *since)
		idx++
	}
	if until != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, *until)
		idx++
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// sanitizeKey strips characters that would break out of the quoted JSONB key.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r == '\'' || r == '"' || r == '\\' {
			return -1
		}
		return r
	}, key)
}

func domainTable(domain string) (string, error) {
	for _, known := range storage.Domains() {
		if domain == known {
			return domain, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", domain)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(s scanner, withScore bool) (*storage.MemoryRow, error) {
	var row storage.MemoryRow
	var embeddingStr *string
	var lastAccessedAt, promotedAt *time.Time

	dest := []interface{}{
		&row.ID, &row.Content, &embeddingStr, &row.Importance, &row.Phase,
		&row.Strength, &row.HalfLifeDays, &row.AccessCount, &row.ReinforcementCount,
		&row.Applied, &row.ApplicationNote, &lastAccessedAt, &row.LastDecayedAt,
		&promotedAt, &row.PromotedFromPhase, &row.PromotedFromContent,
		&row.CreatedAt, &row.UpdatedAt,
	}
	if withScore {
		dest = append(dest, &row.Score)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if embeddingStr != nil && *embeddingStr != "" {
		embedding, err := parseVector(*embeddingStr)
		if err != nil {
			return nil, err
		}
		row.Embedding = embedding
	}
	row.LastAccessedAt = lastAccessedAt
	row.PromotedAt = promotedAt
	return &row, nil
}

func scanDomainRow(s scanner, withScore bool) (*storage.Row, error) {
	var row storage.Row
	var embeddingStr, attrsStr *string

	dest := []interface{}{&row.ID, &row.Content, &embeddingStr, &attrsStr, &row.CreatedAt, &row.UpdatedAt}
	if withScore {
		dest = append(dest, &row.Score)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if embeddingStr != nil && *embeddingStr != "" {
		embedding, err := parseVector(*embeddingStr)
		if err != nil {
			return nil, err
		}
		row.Embedding = embedding
	}
	row.Attrs = make(map[string]interface{})
	if attrsStr != nil && *attrsStr != "" {
		if err := json.Unmarshal([]byte(*attrsStr), &row.Attrs); err != nil {
			return nil, fmt.Errorf("parse attrs: %w", err)
		}
	}
	return &row, nil
}

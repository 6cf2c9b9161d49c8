package store

import (
	"fmt"
	"strings"
)

// LexicalHit is one ranked full-text match.
type LexicalHit struct {
	RowID     int64
	BM25      float64 // raw FTS5 bm25() score; lower (more negative) is better
	CreatedAt int64
}

// SearchLexical runs an FTS5 query over content/summary/tags for records
// matching the filter, ordered by relevance, best first. The query is
// sanitized before reaching FTS5; a query that sanitizes to nothing
// returns no hits.
func (db *DB) SearchLexical(query string, filter Filter, limit int) ([]LexicalHit, error) {
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	where, args := filter.whereClause("m")
	sqlStr := fmt.Sprintf(`
		SELECT m.id, bm25(memories_fts), m.created_at
		FROM memories_fts f
		JOIN memories m ON m.id = f.record_id
		WHERE memories_fts MATCH ? AND %s
		ORDER BY bm25(memories_fts)
		LIMIT ?
	`, where)

	queryArgs := append([]any{ftsQuery}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := db.Query(sqlStr, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.RowID, &h.BM25, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// sanitizeFTS neutralizes FTS5 operator syntax by quoting each term.
// "fix OR auth*" -> `"fix" "OR" "auth"`
func sanitizeFTS(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '"', '*', '(', ')', '^', ':', '-', '+':
			return ' '
		}
		return r
	}, query)

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return ""
	}
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}

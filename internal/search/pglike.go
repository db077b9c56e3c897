package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgLike implements Searcher using a PostgreSQL ILIKE scan as a fallback.
type PgLike struct {
	db *sql.DB
}

// NewPgLike creates a PostgreSQL fallback searcher.
func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search matches the query text against title and content of the accessible
// documents, newest first.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.AccessibleIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + escapeLike(q.Text) + "%"
	ctx := context.Background()

	var total int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM documents
		WHERE id = ANY($2::uuid[])
		  AND (title ILIKE $1 OR content ILIKE $1)
	`, pattern, q.AccessibleIDs).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title, LEFT(COALESCE(content, ''), 500), owner_id
		FROM documents
		WHERE id = ANY($2::uuid[])
		  AND (title ILIKE $1 OR content ILIKE $1)
		ORDER BY updated_at DESC
		LIMIT %d OFFSET %d
	`, limit, offset), pattern, q.AccessibleIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var window string
		if err := rows.Scan(&r.ID, &r.Title, &window, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pglike scan: %w", err)
		}
		r.Snippet = snippetAround(window, q.Text)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all documents for full reindexing.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(content, ''), owner_id
		FROM documents
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.OwnerID); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}

func escapeLike(text string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(text)
}

// snippetAround clips a short window of text centered on the first match,
// falling back to the head of the content.
func snippetAround(content, query string) string {
	const width = 120
	if content == "" {
		return ""
	}
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		idx = 0
	}
	start := idx - width/3
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(content) {
		end = len(content)
	}
	snippet := content[start:end]
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(content) {
		snippet += "…"
	}
	return snippet
}

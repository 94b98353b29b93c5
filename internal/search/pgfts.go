package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher over the generated tsvector column of messages.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres there is no store to read
// the hits from either.
func (p *PgFTS) Healthy() bool {
	return true
}

const searchable = `m.private = FALSE AND m.encrypted = FALSE AND m.type IN ('post', 'blog')`

// Search ranks public posts and blogs with plainto_tsquery and ts_rank, using
// ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := "m.fts @@ " + tsQuery + " AND " + searchable
	if q.Author != "" {
		where += " AND m.author = $2"
		args = append(args, q.Author)
	}

	var total int
	countSQL := "SELECT count(*) FROM messages m WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT m.id, m.author, m.type, coalesce(m.content->>'title', ''),
			ts_headline('english', coalesce(m.content->>'text', ''), %s, 'MaxFragments=1,MaxWords=30')
		FROM messages m
		WHERE %s
		ORDER BY ts_rank(m.fts, %s) DESC, m.asserted_at DESC
		LIMIT %d OFFSET %d`, tsQuery, where, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Author, &r.Type, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable message for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.author, m.type, coalesce(m.content->>'title', ''),
			coalesce(m.content->>'text', ''), m.asserted_at
		FROM messages m
		WHERE `+searchable)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	records := make([]MessageRecord, 0)
	for rows.Next() {
		var r MessageRecord
		var assertedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Author, &r.Type, &r.Title, &r.Text, &assertedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if assertedAt.Valid {
			r.Timestamp = assertedAt.Time.UnixMilli()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return records, nil
}

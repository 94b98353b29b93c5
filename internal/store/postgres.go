package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const messageColumns = `m.id, m.author, m.sequence, m.asserted_at, m.content, m.private, m.encrypted`

func (s *PostgresStore) GetByID(ctx context.Context, id string, opts GetOptions) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.id=$1
	`, id)
	item, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, unavailable("get message", err)
	}
	if item.Private && !opts.IncludePrivate {
		return Message{}, ErrNotFound
	}
	if !opts.IncludeMeta {
		item.Private = false
		item.Encrypted = false
	}
	return item, nil
}

func (s *PostgresStore) ReverseReferences(ctx context.Context, target string, q RefQuery) (Stream, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM message_links l
		JOIN messages m ON m.id = l.source_id
		WHERE l.target_id = $1`
	args := []any{target}
	if len(q.Types) > 0 {
		query += ` AND m.type = ANY($2)`
		args = append(args, q.Types)
	}
	query += ` GROUP BY m.id ORDER BY m.asserted_at ASC, m.id ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("reverse references", err)
	}
	return &rowsStream{rows: rows, op: "reverse references"}, nil
}

func (s *PostgresStore) ByAuthor(ctx context.Context, author string, q AuthorQuery) (Stream, error) {
	order := "ASC"
	if q.Reverse {
		order = "DESC"
	}
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.author = $1 AND m.private = FALSE`
	args := []any{author}
	if !q.Since.IsZero() {
		query += ` AND m.asserted_at >= $2`
		args = append(args, q.Since)
	}
	query += fmt.Sprintf(` ORDER BY m.sequence %s`, order)
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("messages by author", err)
	}
	return &rowsStream{rows: rows, op: "messages by author"}, nil
}

func (s *PostgresStore) ByTimeRangeAndType(ctx context.Context, q RangeQuery) (Stream, error) {
	var where []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if len(q.Types) > 0 {
		add("m.type = ANY($%d)", q.Types)
	}
	if !q.Since.IsZero() {
		add("m.asserted_at >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		add("m.asserted_at < $%d", q.Until)
	}
	if q.PublicOnly {
		where = append(where, "m.private = FALSE", "m.encrypted = FALSE")
	}
	query := `SELECT ` + messageColumns + ` FROM messages m`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// Newest first, the natural order feeds are read in.
	query += ` ORDER BY m.asserted_at DESC, m.id ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("messages by time range", err)
	}
	return &rowsStream{rows: rows, op: "messages by time range"}, nil
}

func (s *PostgresStore) FriendGraph(ctx context.Context, viewer string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dest, weight FROM friends WHERE source=$1`, viewer)
	if err != nil {
		return nil, unavailable("friend graph", err)
	}
	defer rows.Close()

	graph := make(map[string]float64)
	for rows.Next() {
		var peer string
		var weight float64
		if err := rows.Scan(&peer, &weight); err != nil {
			return nil, unavailable("scan friend", err)
		}
		graph[peer] = weight
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate friends", err)
	}
	return graph, nil
}

// Profiles folds every self-describing about message into one profile per
// author. Later fields overwrite earlier ones.
func (s *PostgresStore) Profiles(ctx context.Context) (map[string]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.type = 'about' AND m.private = FALSE AND m.content->>'about' = m.author
		ORDER BY m.asserted_at ASC
	`)
	if err != nil {
		return nil, unavailable("list profiles", err)
	}
	stream := &rowsStream{rows: rows, op: "list profiles"}
	defer stream.Close()

	profiles := make(map[string]Profile)
	for stream.Next() {
		FoldProfile(profiles, stream.Message())
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// FoldProfile applies one about message to the profile set.
func FoldProfile(profiles map[string]Profile, item Message) {
	if item.Content.Type != TypeAbout || item.Content.About != item.Author {
		return
	}
	profile := profiles[item.Author]
	profile.ID = item.Author
	if item.Content.Name != "" {
		profile.Name = item.Content.Name
	}
	if item.Content.Image != "" {
		profile.Image = item.Content.Image
	}
	if item.Content.Description != "" {
		profile.Description = item.Content.Description
	}
	if item.Content.PublicWeb != nil {
		profile.PublicWeb = *item.Content.PublicWeb
	}
	profiles[item.Author] = profile
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (Message, error) {
	var item Message
	var content []byte
	var assertedAt time.Time
	if err := row.Scan(&item.ID, &item.Author, &item.Sequence, &assertedAt, &content, &item.Private, &item.Encrypted); err != nil {
		return Message{}, err
	}
	item.Timestamp = assertedAt
	if len(content) == 0 || item.Encrypted {
		return item, nil
	}
	decoded, err := DecodeContent(content)
	if err != nil {
		return Message{}, fmt.Errorf("decode content of %s: %w", item.ID, err)
	}
	item.Content = decoded
	return item, nil
}

type rowsStream struct {
	rows    *sql.Rows
	op      string
	current Message
	err     error
}

func (s *rowsStream) Next() bool {
	if s.err != nil || !s.rows.Next() {
		return false
	}
	item, err := scanMessage(s.rows)
	if err != nil {
		s.err = unavailable("scan "+s.op, err)
		return false
	}
	s.current = item
	return true
}

func (s *rowsStream) Message() Message {
	return s.current
}

func (s *rowsStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return unavailable("iterate "+s.op, s.rows.Err())
}

func (s *rowsStream) Close() error {
	return s.rows.Close()
}

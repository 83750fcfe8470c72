package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

// SQLite is a Store backed by a SQLite FTS5 index. Records survive
// restarts and rank by FTS5 relevance. The pure-Go driver ships FTS5
// built in.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a full-text knowledge index at path
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge index: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) initSchema() error {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			record_id UNINDEXED,
			content,
			record_type UNINDEXED,
			project UNINDEXED,
			tags,
			created_at UNINDEXED
		);
	`)
	if err != nil {
		return fmt.Errorf("creating records_fts table: %w", err)
	}
	return nil
}

// CreateRecord appends a durable record and returns its id
func (s *SQLite) CreateRecord(ctx context.Context, content string, recordType RecordType, project string, tags []string) (string, error) {
	id := "rec-" + uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records_fts (record_id, content, record_type, project, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, content, string(recordType), project, strings.Join(tags, " "), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("inserting record: %w", err)
	}
	return id, nil
}

// Search runs an FTS5 match over record content and tags, filtered by
// project and type, best matches first
func (s *SQLite) Search(ctx context.Context, query, project string, recordType RecordType, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, content, record_type, rank
		FROM records_fts
		WHERE records_fts MATCH ?
		  AND project = ?
		  AND (? = '' OR record_type = ?)
		ORDER BY rank
		LIMIT ?
	`, match, project, string(recordType), string(recordType), limit)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		var rank float64
		if err := rows.Scan(&r.ID, &r.Content, &typ, &rank); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		r.Type = RecordType(typ)
		// FTS5 rank is negative; flip it so higher means better.
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery turns free text into a safe FTS5 query: each term quoted,
// joined with OR so partial matches still rank
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, "")
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
    id        TEXT PRIMARY KEY,
    document  TEXT NOT NULL,
    page      INTEGER NOT NULL,
    content   TEXT NOT NULL,
    embedding BLOB
);
`

// Record is one embedded chunk of a document.
type Record struct {
	ID         string
	Document   string
	PageNumber int
	Text       string
	Embedding  []float32
}

// Match is a Record returned by SimilaritySearch with its cosine score.
type Match struct {
	Record
	Score float64
}

// Store keeps chunk text and embeddings in a SQLite database and ranks them
// with the vec_cosine SQL function.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*Store, error) {
	registerFunctions()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %s: %w", path, err)
	}
	// :memory: databases exist per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorstore: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// AddRecords inserts or replaces records in a single transaction.
func (s *Store) AddRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks(id, document, page, content, embedding) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vectorstore: record ID must be set")
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Document, r.PageNumber, r.Text, EncodeEmbedding(r.Embedding)); err != nil {
			return fmt.Errorf("vectorstore: insert %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// SimilaritySearch returns up to k records ordered by cosine similarity to
// query, best first.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, k int) ([]Match, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, document, page, content, vec_cosine(embedding, ?) AS score
FROM chunks
WHERE embedding IS NOT NULL
ORDER BY score DESC
LIMIT ?`, EncodeEmbedding(query), k)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var score sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.Document, &m.PageNumber, &m.Text, &score); err != nil {
			return nil, err
		}
		m.Score = score.Float64
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns the records with the given IDs, skipping unknown ones.
// Embeddings are not loaded.
func (s *Store) Get(ctx context.Context, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		var r Record
		err := s.db.QueryRowContext(ctx, `SELECT id, document, page, content FROM chunks WHERE id = ?`, id).
			Scan(&r.ID, &r.Document, &r.PageNumber, &r.Text)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = r
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

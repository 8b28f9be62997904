package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// Store persists embedded chunks in SQLite. Embeddings are serialized as
// JSON float arrays and scored in process at query time.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenStore opens (or creates) the chunk store at path. Use ":memory:" for
// an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_doc TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		section TEXT,
		topics TEXT,
		text TEXT NOT NULL,
		embedding TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_doc, ordinal)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_doc);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize chunk schema: %w", err)
	}
	return nil
}

// Put inserts or replaces a batch of chunks.
func (s *Store) Put(ctx context.Context, chunks []support.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (source_doc, ordinal, section, topics, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range chunks {
		topicsJSON, _ := json.Marshal(ch.Topics)
		embJSON, err := json.Marshal(ch.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ch.SourceDoc, ch.Ordinal, ch.Section, string(topicsJSON), ch.Text, string(embJSON)); err != nil {
			return fmt.Errorf("failed to store chunk %s/%d: %w", ch.SourceDoc, ch.Ordinal, err)
		}
	}
	return tx.Commit()
}

// All returns every chunk with an embedding, in insertion-independent
// (source_doc, ordinal) order.
func (s *Store) All(ctx context.Context) ([]support.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_doc, ordinal, section, topics, text, embedding
		FROM chunks WHERE embedding IS NOT NULL
		ORDER BY source_doc, ordinal`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []support.Chunk
	for rows.Next() {
		var ch support.Chunk
		var topicsJSON, embJSON sql.NullString
		if err := rows.Scan(&ch.ID, &ch.SourceDoc, &ch.Ordinal, &ch.Section, &topicsJSON, &ch.Text, &embJSON); err != nil {
			return nil, err
		}
		if topicsJSON.Valid && topicsJSON.String != "" {
			json.Unmarshal([]byte(topicsJSON.String), &ch.Topics)
		}
		if embJSON.Valid && embJSON.String != "" {
			if err := json.Unmarshal([]byte(embJSON.String), &ch.Embedding); err != nil {
				continue
			}
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// DeleteDoc removes every chunk belonging to a document, so re-ingest
// replaces rather than appends.
func (s *Store) DeleteDoc(ctx context.Context, sourceDoc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE source_doc = ?", sourceDoc)
	return err
}

// Stats reports corpus-level counts for the stats command.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&total); err != nil {
		return nil, err
	}
	stats["chunks"] = total

	var docs int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT source_doc) FROM chunks").Scan(&docs); err != nil {
		return nil, err
	}
	stats["documents"] = docs

	return stats, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

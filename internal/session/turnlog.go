package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// TurnLog persists every completed turn so a conversation survives process
// restarts and can be audited after the fact.
type TurnLog struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenTurnLog opens (or creates) the turn log at path.
func OpenTurnLog(path string) (*TurnLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open turn log: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		turn_no INTEGER NOT NULL,
		utterance TEXT NOT NULL,
		reply TEXT,
		metadata TEXT,
		at DATETIME NOT NULL,
		PRIMARY KEY (session_id, turn_no)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize turn log schema: %w", err)
	}
	return &TurnLog{db: db}, nil
}

// Append writes one turn record.
func (l *TurnLog) Append(ctx context.Context, sessionID string, turnNo int, turn support.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	metaJSON, err := json.Marshal(turn.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize turn metadata: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO turns (session_id, turn_no, utterance, reply, metadata, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, turnNo, turn.Utterance, turn.Reply, string(metaJSON), turn.At)
	return err
}

// History returns a session's logged turns in order.
func (l *TurnLog) History(ctx context.Context, sessionID string) ([]support.Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT turn_no, utterance, reply, metadata, at FROM turns
		WHERE session_id = ? ORDER BY turn_no`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []support.Turn
	for rows.Next() {
		var t support.Turn
		var turnNo int
		var metaJSON sql.NullString
		if err := rows.Scan(&turnNo, &t.Utterance, &t.Reply, &metaJSON, &t.At); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt metadata for session %s turn %d: %w", sessionID, turnNo, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *TurnLog) Close() error {
	return l.db.Close()
}

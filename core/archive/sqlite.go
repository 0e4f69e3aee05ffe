// Package archive persists finished call sessions to SQLite so their
// history survives eviction from the in-memory store.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/villagehq/village-core/core/session"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("archive store is closed")

// SQLiteStore persists terminal call sessions to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite session archive.
// The path should be a file path (e.g., "./archive.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT NOT NULL PRIMARY KEY,
			elder_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			summary TEXT,
			document BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_elder_id
		ON sessions(elder_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ArchiveSession stores one terminal session, replacing any earlier
// archive of the same session.
func (s *SQLiteStore) ArchiveSession(ctx context.Context, sess session.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	document, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, elder_id, status, started_at, ended_at, summary, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at,
			summary = excluded.summary,
			document = excluded.document
	`, sess.ID, sess.ElderID, string(sess.Status),
		sess.StartedAt.UTC().Format(time.RFC3339Nano), endedAt, sess.Summary, document)
	if err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	return nil
}

// Load retrieves one archived session by id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (session.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return session.CallSession{}, ErrStoreClosed
	}

	var document []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM sessions WHERE id = ?`, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return session.CallSession{}, fmt.Errorf("session %s not archived", id)
	}
	if err != nil {
		return session.CallSession{}, fmt.Errorf("load session: %w", err)
	}

	var sess session.CallSession
	if err := json.Unmarshal(document, &sess); err != nil {
		return session.CallSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

// ListByElder returns the ids of archived sessions for one elder, most
// recent first.
func (s *SQLiteStore) ListByElder(ctx context.Context, elderID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE elder_id = ? ORDER BY started_at DESC`, elderID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Package session persists finalized conversation turns to SQLite so a
// restarted assistant can show history and the doctor can report on it.
package session

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one persisted conversation line.
type Entry struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // user, assistant, system, tool
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id, id);
`

// Store handles conversation persistence. One Store per database file; the
// schema is created on open.
type Store struct {
	db        *sql.DB
	sessionID string
}

// Open opens (or creates) the database and starts a fresh session row.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session schema: %w", err)
	}

	id := uuid.New().String()
	if _, err := db.Exec(`INSERT INTO sessions (id, started_at) VALUES (?, ?)`,
		id, time.Now().Unix()); err != nil {
		db.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Store{db: db, sessionID: id}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SessionID returns the identifier of the session opened by Open.
func (s *Store) SessionID() string { return s.sessionID }

// Append records one conversation line in the current session.
func (s *Store) Append(role, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO entries (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		s.sessionID, role, content, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// List returns the current session's entries in insertion order.
func (s *Store) List() ([]Entry, error) {
	return s.ListSession(s.sessionID)
}

// ListSession returns a past session's entries in insertion order.
func (s *Store) ListSession(sessionID string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at FROM entries WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions returns all session ids, oldest first.
func (s *Store) Sessions() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM sessions ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Reset deletes the current session's entries.
func (s *Store) Reset() error {
	_, err := s.db.Exec(`DELETE FROM entries WHERE session_id = ?`, s.sessionID)
	return err
}

// Prune removes sessions (and their entries) older than the retention
// window. Days ≤ 0 disables pruning.
func (s *Store) Prune(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	res, err := s.db.Exec(
		`DELETE FROM entries WHERE session_id IN (SELECT id FROM sessions WHERE started_at < ?)`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE started_at < ? AND id != ?`,
		cutoff, s.sessionID); err != nil {
		return n, err
	}
	return n, nil
}

// Healthy runs a cheap integrity probe for doctor reporting.
func (s *Store) Healthy() error {
	var n int
	return s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
}

// Probe checks a session database without opening a session of its own.
// Used by the doctor command.
func Probe(dbPath string) (sessions, entries int, err error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return 0, 0, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&entries); err != nil {
		return sessions, 0, err
	}
	return sessions, entries, nil
}

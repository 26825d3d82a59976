// Package store persists hub history (main-chat lines and presence events)
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded alongside chat history.
const (
	EventJoin = "join"
	EventQuit = "quit"
)

// Store persists hub history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database and runs migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	st := &Store{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("history store opened", "path", path)
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	nick TEXT NOT NULL,
	message TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	nick TEXT NOT NULL,
	kind TEXT NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("run sqlite migrations: %w", err)
	}
	return nil
}

// MessageRow is one persisted main-chat line.
type MessageRow struct {
	ID      int64
	Nick    string
	Message string
	TS      time.Time
}

// InsertMessage persists one main-chat line.
func (s *Store) InsertMessage(ctx context.Context, nick, message string, ts time.Time) error {
	const q = `INSERT INTO messages (nick, message, ts) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, nick, message, ts.UnixMilli()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// InsertEvent persists one presence event (join or quit).
func (s *Store) InsertEvent(ctx context.Context, nick, kind string, ts time.Time) error {
	const q = `INSERT INTO events (nick, kind, ts) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, nick, kind, ts.UnixMilli()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecentMessages returns the most recent chat lines, ordered oldest first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]MessageRow, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, nick, message, ts
FROM messages
ORDER BY ts DESC, id DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []MessageRow
	for rows.Next() {
		var m MessageRow
		var ts int64
		if err := rows.Scan(&m.ID, &m.Nick, &m.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.TS = time.UnixMilli(ts).UTC()
		msgs = append(msgs, m)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}

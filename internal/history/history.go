// Package history persists chat sessions and their messages.
//
// The SQLite store is the normal backend; Memory is used when the database
// cannot be opened so the assistant keeps working without persistence.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/alice-go/internal/logger"
)

// Store is the session/message repository.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context) ([]Session, error)
	// DeleteSession removes the session and all of its messages.
	DeleteSession(ctx context.Context, id string) error
	AddMessage(ctx context.Context, m Message) error
	// ListMessages returns the messages of a session in insertion order.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
`

// SQLite is a Store backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the pragmas (and an in-memory database) shared by
	// every query.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.L.Info("sqlite history DB initialized", "path", path)
	return &SQLite{db: db}, nil
}

// OpenOrMemory opens the SQLite store at path and falls back to an in-memory
// store when that fails.
func OpenOrMemory(path string) Store {
	s, err := Open(path)
	if err != nil {
		logger.L.Warn("sqlite open failed; using in-memory history", "path", path, "error", err)
		return NewMemory()
	}
	return s
}

func (s *SQLite) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at) VALUES (?, ?, ?);`,
		sess.ID, sess.Title, sess.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLite) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess    Session
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM sessions WHERE id = ?;`, id).
		Scan(&sess.ID, &sess.Title, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(created)
	return sess, nil
}

func (s *SQLite) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM sessions ORDER BY created_at DESC, rowid DESC;`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess    Session
			created int64
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &created); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(created)
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLite) AddMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?);`,
		m.ID, m.SessionID, m.Role, m.Content, m.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLite) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, timestamp FROM messages WHERE session_id = ? ORDER BY seq ASC;`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m  Message
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

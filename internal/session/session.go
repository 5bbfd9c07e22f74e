// Package session persists the authenticated session across console runs.
package session

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Provider supplies the current bearer credential, if any. Components that
// need authentication depend on this interface rather than reading ambient
// storage.
type Provider interface {
	Credential() (token string, ok bool)
}

// Session is the stored authentication state.
type Session struct {
	Token     string
	Email     string
	CreatedAt time.Time
}

// Store keeps the session in a local sqlite database so the credential
// survives restarts.
type Store struct {
	db *sql.DB
}

// New opens (and if needed initializes) the session database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping session database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	// Single-row table: the console holds at most one session.
	query := `CREATE TABLE IF NOT EXISTS session (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		token TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to init session schema: %w", err)
	}
	return nil
}

// Save replaces the stored session with the given credential.
func (s *Store) Save(token, email string) error {
	query := `INSERT INTO session (id, token, email, created_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token, email = excluded.email, created_at = excluded.created_at`
	if _, err := s.db.Exec(query, token, email, time.Now()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Current returns the stored session, or nil if none exists.
func (s *Store) Current() (*Session, error) {
	query := `SELECT token, email, created_at FROM session WHERE id = 1`
	var sess Session
	err := s.db.QueryRow(query).Scan(&sess.Token, &sess.Email, &sess.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// Credential implements Provider.
func (s *Store) Credential() (string, bool) {
	sess, err := s.Current()
	if err != nil || sess == nil || sess.Token == "" {
		return "", false
	}
	return sess.Token, true
}

// Clear removes the stored session.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Package archive keeps a local copy of webhook records captured during live
// watch sessions, so traffic observed in the console survives restarts.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	"hookscope/internal/httpcontract"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

type Store struct {
	db *sql.DB
}

// New opens the archive database, creating the schema when missing.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
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
	queries := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path_id TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_records_path_id ON records(path_id);`,
		`CREATE INDEX IF NOT EXISTS idx_records_received_at ON records(received_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to init archive schema (query: %s): %w", q, err)
		}
	}
	return nil
}

// Append stores one captured record.
func (s *Store) Append(rec httpcontract.WebhookRecord) error {
	query := `INSERT INTO records (path_id, received_at, content_type, ip_address, payload) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, rec.PathID, rec.ReceivedAt, rec.ContentType, rec.IPAddress, string(rec.Payload))
	if err != nil {
		return fmt.Errorf("failed to archive record: %w", err)
	}
	return nil
}

// List returns archived records for a path, newest first.
func (s *Store) List(pathID string, limit int) ([]httpcontract.WebhookRecord, error) {
	query := `SELECT path_id, received_at, content_type, ip_address, payload
		FROM records WHERE path_id = ? ORDER BY received_at DESC LIMIT ?`
	rows, err := s.db.Query(query, pathID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived records: %w", err)
	}
	defer rows.Close()

	var records []httpcontract.WebhookRecord
	for rows.Next() {
		var rec httpcontract.WebhookRecord
		var payload string
		if err := rows.Scan(&rec.PathID, &rec.ReceivedAt, &rec.ContentType, &rec.IPAddress, &payload); err != nil {
			return nil, err
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of archived records for a path.
func (s *Store) Count(pathID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE path_id = ?`, pathID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count archived records: %w", err)
	}
	return n, nil
}

// Prune deletes archived records received before the cutoff and reports how
// many were removed.
func (s *Store) Prune(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM records WHERE received_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune archive: %w", err)
	}
	return res.RowsAffected()
}

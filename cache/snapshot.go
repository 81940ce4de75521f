package cache

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteSnapshot persists cache entries to an SQLite database,
// so that a restarted proxy can start with a warm cache.
type SQLiteSnapshot struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteSnapshot opens (or creates) the snapshot db with the given filename.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteSnapshot(filename string) (*SQLiteSnapshot, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		recency INTEGER,
		payload BLOB
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}
	return &SQLiteSnapshot{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Save replaces the stored snapshot with the given entries.
func (s *SQLiteSnapshot) Save(entries []Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return err
	}
	for _, e := range entries {
		_, err := tx.Exec("INSERT OR REPLACE INTO entries (key, recency, payload) VALUES (?, ?, ?)",
			e.Key, int64(e.Recency), e.Payload)
		if err != nil {
			return fmt.Errorf("insert %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// Load returns the stored entries, oldest first.
func (s *SQLiteSnapshot) Load() ([]Entry, error) {
	rows, err := s.db.Query("SELECT key, recency, payload FROM entries ORDER BY recency ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var recency int64
		if err := rows.Scan(&e.Key, &recency, &e.Payload); err != nil {
			return entries, err
		}
		e.Recency = uint64(recency)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying db.
func (s *SQLiteSnapshot) Close() error {
	return s.db.Close()
}

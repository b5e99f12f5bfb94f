// Package state persists playback positions so video sources can resume
// where they stopped.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    key TEXT PRIMARY KEY,
    position_ms INTEGER NOT NULL,
    updated_at INTEGER NOT NULL      -- unix seconds
);
`

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("state store closed")

// Store is a sqlite-backed playback position table.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(2000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect state db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Position returns the stored position for key.
func (s *Store) Position(key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, false, ErrClosed
	}
	var ms int64
	err := s.db.QueryRow(`SELECT position_ms FROM positions WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read position: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// SetPosition records pos for key.
func (s *Store) SetPosition(key string, pos time.Duration) error {
	if pos < 0 {
		pos = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	_, err := s.db.Exec(`
		INSERT INTO positions (key, position_ms, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET position_ms = excluded.position_ms, updated_at = excluded.updated_at`,
		key, pos.Milliseconds(), s.now().Unix())
	if err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	return nil
}

// Forget deletes the stored position for key.
func (s *Store) Forget(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	if _, err := s.db.Exec(`DELETE FROM positions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// Prune removes records not updated since before.
func (s *Store) Prune(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.Exec(`DELETE FROM positions WHERE updated_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune positions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

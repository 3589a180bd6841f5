// Package store persists forward configurations per destination in a
// SQLite database under ~/.sshfwd, so a forward set up for a host comes
// back as paused on the next session against that host.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sshfwd/pkg/logging"

	_ "modernc.org/sqlite"
)

// PersistedForward is one saved forward for a destination.
type PersistedForward struct {
	RemotePort uint16
	LocalPort  uint16
}

// Store manages persisted forwards, keyed by destination string.
type Store struct {
	db    *sql.DB
	mutex sync.Mutex
}

// Open opens the database at the default location (~/.sshfwd/sshfwd.db),
// creating the directory and schema as needed.
func Open() (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".sshfwd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	return OpenAt(filepath.Join(dir, "sshfwd.db"))
}

// OpenAt opens or creates the database at an explicit path.
func OpenAt(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.LogDebug("store opened at %s", dbPath)
	return s, nil
}

func (s *Store) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS forwards (
		destination TEXT NOT NULL,
		remote_port INTEGER NOT NULL,
		local_port  INTEGER NOT NULL,
		PRIMARY KEY (destination, remote_port)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Load returns all saved forwards for a destination, ordered by remote
// port. A destination never seen before yields an empty slice.
func (s *Store) Load(destination string) ([]PersistedForward, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rows, err := s.db.Query(
		`SELECT remote_port, local_port FROM forwards WHERE destination = ? ORDER BY remote_port`,
		destination)
	if err != nil {
		return nil, fmt.Errorf("failed to query forwards: %w", err)
	}
	defer rows.Close()

	var forwards []PersistedForward
	for rows.Next() {
		var f PersistedForward
		if err := rows.Scan(&f.RemotePort, &f.LocalPort); err != nil {
			return nil, fmt.Errorf("failed to scan forward row: %w", err)
		}
		forwards = append(forwards, f)
	}
	return forwards, rows.Err()
}

// Save replaces the destination's saved forwards wholesale. Writing the
// full set in one transaction keeps the database matching the session
// state even across removals.
func (s *Store) Save(destination string, forwards []PersistedForward) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM forwards WHERE destination = ?`, destination); err != nil {
		return fmt.Errorf("failed to clear forwards: %w", err)
	}
	for _, f := range forwards {
		_, err := tx.Exec(
			`INSERT INTO forwards (destination, remote_port, local_port) VALUES (?, ?, ?)`,
			destination, f.RemotePort, f.LocalPort)
		if err != nil {
			return fmt.Errorf("failed to insert forward: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logging.LogDebug("saved %d forwards for %s", len(forwards), destination)
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

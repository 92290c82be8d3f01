// Package db implements the persistence layer for fragline: a SQLite
// wrapper, the session audit log and operator alerts.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// pragmas applied to every connection. journal_mode is persistent, the
// others are per connection, which is fine with a single open conn.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Database is a SQLite handle with serialized writes.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewDatabase opens or creates the SQLite file at dbPath.
func NewDatabase(dbPath string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// SQLite has a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			log.Warn().Err(err).Str("pragma", p).Msg("failed to apply pragma")
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("database opened")
	return &Database{db: conn, path: dbPath}, nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate applies the steps past the stored user_version, each in its own
// transaction, and returns the resulting version.
func (d *Database) Migrate(steps []string) (int, error) {
	var version int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > len(steps) {
		return version, fmt.Errorf("database schema version %d is newer than this build (%d)", version, len(steps))
	}

	for i := version; i < len(steps); i++ {
		next := i + 1
		err := d.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(steps[i]); err != nil {
				return err
			}
			// PRAGMA does not take bind parameters
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", next))
			return err
		})
		if err != nil {
			return i, fmt.Errorf("failed to apply schema step %d: %w", next, err)
		}
		log.Debug().Int("version", next).Msg("database schema migrated")
	}
	return len(steps), nil
}

// Exec executes a statement that returns no rows.
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query executes a query that returns rows.
func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

// QueryRow executes a query that returns a single row.
func (d *Database) QueryRow(query string, args ...interface{}) *sql.Row {
	return d.db.QueryRow(query, args...)
}

// Transaction runs fn in a transaction, rolling back when it fails.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Vacuum rebuilds the file to return freed pages to the filesystem.
func (d *Database) Vacuum() error {
	_, err := d.Exec("VACUUM")
	return err
}

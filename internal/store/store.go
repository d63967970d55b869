package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/syncmap/internal/syncmap"
)

//go:embed schema.sql
var schemaSQL string

// migrations[i] upgrades a database at user_version i. The base schema in
// schema.sql is always applied first, so each step only adds to it.
var migrations = []string{
	// 1: list journal rows by outcome for inspect --journal.
	`CREATE INDEX IF NOT EXISTS idx_journal_state ON journal(state, seq)`,
}

// connParams are go-sqlite3 DSN options applied to every connection. WAL
// lets inspect read a database while a scenario run is writing the journal.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
}

var (
	_ syncmap.Cache   = (*Store)(nil)
	_ syncmap.Journal = (*Store)(nil)
)

// Store is the persisted local cache and action journal.
// It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the cache database at path (":memory:" for a
// throwaway one) and brings its schema up to date. Reopening an existing
// database is safe.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for ; version < len(migrations); version++ {
		if _, err := db.Exec(migrations[version]); err != nil {
			return fmt.Errorf("migrate to v%d: %w", version+1, err)
		}
		// PRAGMA does not take bind parameters.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			return fmt.Errorf("set user_version %d: %w", version+1, err)
		}
	}
	return nil
}

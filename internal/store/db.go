// Package store is the runtime plane: an embedded SQLite database holding
// agents, leases, messages, and the event log, opened with a journaling mode
// that allows concurrent readers alongside one writer.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/lodestar-dev/lodestar/internal/migrate"
)

// Open opens (creating if needed) the SQLite database at path, enables
// foreign keys and WAL journaling, and applies any pending migrations.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := migrate.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

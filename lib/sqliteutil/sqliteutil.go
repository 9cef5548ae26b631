package sqliteutil

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenDB opens (or creates) a sqlite database at `path` and applies the
// given schema. The schema must be idempotent (CREATE TABLE IF NOT EXISTS).
func OpenDB(schema, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// one writer at a time, long runs should not fail on a momentary lock
	_, err = db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

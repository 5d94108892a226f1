// Package storage opens the shared sqlite database used by the engine.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the engine database at path with the
// pragmas every service expects. The returned handle is shared by all
// services; each service applies its own schema on construction. The engine
// does not assume exclusive ownership of the database file; it only ever
// touches tables it created itself.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open engine db: %w", err)
	}
	return db, nil
}

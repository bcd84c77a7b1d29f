package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT NOT NULL PRIMARY KEY,
			name TEXT NOT NULL,
			document TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			workflow_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			blocked_by TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			result TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id, started_at)",
		"CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)",
	},
	upsertWorkflow: `
		INSERT INTO workflows (id, name, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			document = excluded.document,
			updated_at = excluded.updated_at`,
	upsertRun: `
		INSERT INTO runs (run_id, workflow_id, status, blocked_by, started_at, duration_ms, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			status = excluded.status,
			blocked_by = excluded.blocked_by,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			result = excluded.result`,
}

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps workflows and run history in a single-file database, which makes
// it the zero-setup choice for the server and for local development. The
// database runs in WAL mode so readers never wait on the single writer.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens or creates the database at path. ":memory:" gives a
// throwaway database.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./agentflow.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	core, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: core, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

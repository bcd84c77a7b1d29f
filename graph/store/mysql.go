package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			document LONGTEXT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			updated_at VARCHAR(64) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS runs (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			workflow_id VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			blocked_by VARCHAR(255) NOT NULL DEFAULT '',
			started_at BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL,
			result LONGTEXT NOT NULL,
			UNIQUE KEY unique_run_id (run_id),
			INDEX idx_runs_workflow (workflow_id, started_at),
			INDEX idx_runs_started (started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertWorkflow: `
		INSERT INTO workflows (id, name, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			document = VALUES(document),
			updated_at = VALUES(updated_at)`,
	upsertRun: `
		INSERT INTO runs (run_id, workflow_id, status, blocked_by, started_at, duration_ms, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			workflow_id = VALUES(workflow_id),
			status = VALUES(status),
			blocked_by = VALUES(blocked_by),
			started_at = VALUES(started_at),
			duration_ms = VALUES(duration_ms),
			result = VALUES(result)`,
}

// MySQLStore is a MySQL/MariaDB implementation of Store, for deployments
// where several server instances share workflows and run history.
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore connects using a go-sql-driver DSN:
//
//	user:password@tcp(localhost:3306)/agentflow
//
// NEVER hardcode credentials; read the DSN from the environment or the
// config file's ${VAR} expansion.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql store requires a DSN")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	core, err := newSQLStore(ctx, db, mysqlDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore{sqlStore: core}, nil
}

// Stats returns connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	return m.db.Stats()
}

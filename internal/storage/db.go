package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenOptions configures the database connection pool.
type OpenOptions struct {
	Driver          string // "sqlite" or "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, opts OpenOptions) (*sql.DB, error) {
	var driverName string
	switch opts.Driver {
	case "sqlite":
		driverName = "sqlite3"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", opts.Driver)
	}

	db, err := sql.Open(driverName, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// schema uses only type names valid on both SQLite and Postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		id TEXT PRIMARY KEY,
		zone TEXT NOT NULL,
		development TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		normalized_query TEXT NOT NULL,
		original_query TEXT NOT NULL,
		answer TEXT NOT NULL,
		sources TEXT NOT NULL DEFAULT '[]',
		usage_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_scope
		ON cache_entries (zone, development, content_type)`,
	`CREATE TABLE IF NOT EXISTS learned_responses (
		id TEXT PRIMARY KEY,
		zone TEXT NOT NULL,
		development TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		normalized_query TEXT NOT NULL,
		answer TEXT NOT NULL,
		score DOUBLE PRECISION NOT NULL DEFAULT 0,
		sources TEXT NOT NULL DEFAULT '[]',
		usage_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (zone, development, content_type, normalized_query)
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		query_log_id TEXT NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
		zone TEXT NOT NULL,
		development TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		normalized_query TEXT NOT NULL,
		answer TEXT NOT NULL,
		rating INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feedback_scope_query
		ON feedback (zone, development, content_type, normalized_query, created_at)`,
	`CREATE TABLE IF NOT EXISTS query_logs (
		id TEXT PRIMARY KEY,
		zone TEXT NOT NULL,
		development TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		original_query TEXT NOT NULL,
		augmented_query TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		answer TEXT NOT NULL,
		sources TEXT NOT NULL DEFAULT '[]',
		chunk_ids TEXT NOT NULL DEFAULT '[]',
		similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_logs_created
		ON query_logs (created_at)`,
}

// EnsureSchema creates the required tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

package sink

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var sqliteDialect = dialect{
	name: "sqlite3",
	upsertSchema: `INSERT INTO submission_schema (id, header, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET header = excluded.header, updated_at = excluded.updated_at`,
	insert:    `INSERT OR IGNORE INTO submissions (submission_id, user_id, fields, created_at) VALUES (?, ?, ?, ?)`,
	selectAll: `SELECT submission_id, user_id, fields FROM submissions ORDER BY rowid`,
	count:     `SELECT COUNT(*) FROM submissions`,
}

// NewSQLiteSink opens the SQLite database at the configured path, creating its directory
// and tables when missing.
func NewSQLiteSink(opts ...Option) (*SQLSink, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteSink invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteSink DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("SQLite ping failed", "error", err)
		return nil, fmt.Errorf("failed to reach sqlite database: %w", err)
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "path", dsn)

	return &SQLSink{db: db, dialect: sqliteDialect}, nil
}

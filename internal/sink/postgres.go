package sink

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var postgresDialect = dialect{
	name: "postgres",
	upsertSchema: `INSERT INTO submission_schema (id, header, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET header = EXCLUDED.header, updated_at = EXCLUDED.updated_at`,
	insert: `INSERT INTO submissions (submission_id, user_id, fields, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (submission_id) DO NOTHING`,
	selectAll: `SELECT submission_id, user_id, fields::text FROM submissions ORDER BY created_at, submission_id`,
	count:     `SELECT COUNT(*) FROM submissions`,
}

// NewPostgresSink connects to PostgreSQL and creates the tables when missing.
func NewPostgresSink(opts ...Option) (*SQLSink, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresSink invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresSink DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("Postgres ping failed", "error", err)
		return nil, fmt.Errorf("failed to reach postgres database: %w", err)
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &SQLSink{db: db, dialect: postgresDialect}, nil
}

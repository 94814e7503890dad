package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FormPipe/internal/completion"
	"github.com/BTreeMap/FormPipe/internal/util"
)

// Opts holds configuration options for SQL sinks.
type Opts struct {
	DSN string
}

// Option defines a configuration option for SQL sinks.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// dialect holds the statements that differ between drivers.
type dialect struct {
	name         string
	upsertSchema string
	insert       string
	selectAll    string
	count        string
}

// SQLSink stores submissions in a relational database. The submission id is the primary
// key, so appending the same record twice stores it once.
type SQLSink struct {
	db      *sql.DB
	dialect dialect
}

// EnsureSchema records the current header. Tables are created when the sink is opened.
func (s *SQLSink) EnsureSchema(ctx context.Context, header []string) error {
	data, err := json.Marshal(header)
	if err != nil {
		return wrap(s.dialect.name, "ensure schema", fmt.Errorf("failed to marshal header: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertSchema, string(data), time.Now().UTC()); err != nil {
		slog.Error("SQLSink EnsureSchema failed", "error", err, "driver", s.dialect.name)
		return wrap(s.dialect.name, "ensure schema", fmt.Errorf("failed to store header: %w", err))
	}
	slog.Debug("SQLSink EnsureSchema succeeded", "driver", s.dialect.name, "columns", len(header))
	return nil
}

// AppendRecord inserts rec unless a record with the same submission id exists.
func (s *SQLSink) AppendRecord(ctx context.Context, rec completion.Record) error {
	if rec.SubmissionID == "" {
		return wrap(s.dialect.name, "append", fmt.Errorf("record has no submission id"))
	}
	data, err := json.Marshal(rec.Fields)
	if err != nil {
		return wrap(s.dialect.name, "append", fmt.Errorf("failed to marshal fields: %w", err))
	}
	res, err := s.db.ExecContext(ctx, s.dialect.insert, rec.SubmissionID, rec.UserID, string(data), time.Now().UTC())
	if err != nil {
		slog.Error("SQLSink AppendRecord failed", "error", err, "driver", s.dialect.name, "submissionID", rec.SubmissionID)
		return wrap(s.dialect.name, "append", fmt.Errorf("failed to insert submission %s: %w", rec.SubmissionID, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		slog.Warn("SQLSink AppendRecord skipped duplicate", "submissionID", rec.SubmissionID, "userID", rec.UserID)
		return nil
	}
	slog.Debug("SQLSink AppendRecord succeeded", "driver", s.dialect.name, "submissionID", rec.SubmissionID, "userID", rec.UserID)
	return nil
}

// Records returns every stored submission in insertion order.
func (s *SQLSink) Records(ctx context.Context) ([]completion.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.selectAll)
	if err != nil {
		slog.Error("SQLSink Records query failed", "error", err)
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var records []completion.Record
	for rows.Next() {
		var rec completion.Record
		var fields string
		if err := rows.Scan(&rec.SubmissionID, &rec.UserID, &fields); err != nil {
			return nil, fmt.Errorf("failed to scan submission row: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of submission %s: %w", rec.SubmissionID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submission rows: %w", err)
	}
	return records, nil
}

// Count returns the number of stored submissions.
func (s *SQLSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// Open returns a SQLite or PostgreSQL sink depending on the DSN.
func Open(dsn string) (*SQLSink, error) {
	if util.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL sink", "dsn_type", "postgresql")
		return NewPostgresSink(WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite sink", "dsn_type", "sqlite", "db_path", dsn)
	return NewSQLiteSink(WithSQLiteDSN(dsn))
}

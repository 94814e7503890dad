// Package sink persists completed submissions.
//
// A Sink receives one record per completed flow. Backends include SQL databases, a local
// CSV file and a Google Sheets spreadsheet; Multi fans a record out to several of them and
// Lazy sets up the schema on first use.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/completion"
)

// Sink appends submission records to durable storage.
type Sink interface {
	// EnsureSchema prepares columns for header. It must be idempotent.
	EnsureSchema(ctx context.Context, header []string) error
	// AppendRecord durably stores one record.
	AppendRecord(ctx context.Context, rec completion.Record) error
}

// SinkError reports a failed persistence operation.
type SinkError struct {
	Sink string
	Op   string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s sink %s failed: %v", e.Sink, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

func wrap(sink, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *SinkError
	if errors.As(err, &se) {
		return err
	}
	return &SinkError{Sink: sink, Op: op, Err: err}
}

// Lazy calls EnsureSchema on the wrapped sink before the first append. A failed setup is
// retried on the next append.
type Lazy struct {
	sink   Sink
	header []string

	mu    sync.Mutex
	ready bool
}

// NewLazy wraps s so that header is set up on demand.
func NewLazy(s Sink, header []string) *Lazy {
	return &Lazy{sink: s, header: append([]string(nil), header...)}
}

// EnsureSchema forwards to the wrapped sink and marks the schema ready.
func (l *Lazy) EnsureSchema(ctx context.Context, header []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.sink.EnsureSchema(ctx, header); err != nil {
		return err
	}
	l.header = append([]string(nil), header...)
	l.ready = true
	return nil
}

// AppendRecord sets up the schema if needed and appends rec.
func (l *Lazy) AppendRecord(ctx context.Context, rec completion.Record) error {
	l.mu.Lock()
	if !l.ready {
		slog.Debug("Lazy sink setting up schema", "columns", len(l.header))
		if err := l.sink.EnsureSchema(ctx, l.header); err != nil {
			l.mu.Unlock()
			slog.Error("Lazy sink schema setup failed", "error", err)
			return err
		}
		l.ready = true
	}
	l.mu.Unlock()
	return l.sink.AppendRecord(ctx, rec)
}

// Multi writes to every sink. It fails if any sink fails, after trying all of them.
type Multi []Sink

// EnsureSchema sets up every sink.
func (m Multi) EnsureSchema(ctx context.Context, header []string) error {
	var errs []error
	for _, s := range m {
		if err := s.EnsureSchema(ctx, header); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AppendRecord appends rec to every sink.
func (m Multi) AppendRecord(ctx context.Context, rec completion.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendRecord(ctx, rec); err != nil {
			slog.Error("Multi sink append failed", "error", err, "submissionID", rec.SubmissionID)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard accepts and drops every record.
type Discard struct{}

func (Discard) EnsureSchema(context.Context, []string) error          { return nil }
func (Discard) AppendRecord(context.Context, completion.Record) error { return nil }

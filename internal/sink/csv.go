package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BTreeMap/FormPipe/internal/completion"
)

// CSVSink appends records to a local CSV file. The header row is written when the file is
// created or empty.
type CSVSink struct {
	path string
	mu   sync.Mutex
}

// NewCSVSink returns a sink writing to path. The file is created on first use.
func NewCSVSink(path string) *CSVSink {
	slog.Debug("Creating CSVSink", "path", path)
	return &CSVSink{path: path}
}

// Path returns the file the sink writes to.
func (s *CSVSink) Path() string {
	return s.path
}

// EnsureSchema writes header if the file has no content yet.
func (s *CSVSink) EnsureSchema(ctx context.Context, header []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, err := os.Stat(s.path); err == nil && info.Size() > 0 {
		slog.Debug("CSVSink header already present", "path", s.path)
		return nil
	}
	if err := s.write(header); err != nil {
		slog.Error("CSVSink EnsureSchema failed", "error", err, "path", s.path)
		return wrap("csv", "ensure schema", err)
	}
	slog.Info("CSVSink wrote header", "path", s.path, "columns", len(header))
	return nil
}

// AppendRecord appends rec.Fields as one row and syncs the file.
func (s *CSVSink) AppendRecord(ctx context.Context, rec completion.Record) error {
	if err := ctx.Err(); err != nil {
		return wrap("csv", "append", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(rec.Fields); err != nil {
		slog.Error("CSVSink AppendRecord failed", "error", err, "path", s.path, "submissionID", rec.SubmissionID)
		return wrap("csv", "append", err)
	}
	slog.Debug("CSVSink AppendRecord succeeded", "path", s.path, "submissionID", rec.SubmissionID)
	return nil
}

func (s *CSVSink) write(row []string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", s.path, err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("failed to write row to %s: %w", s.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush %s: %w", s.path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", s.path, err)
	}
	return f.Close()
}

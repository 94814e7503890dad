package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/BTreeMap/FormPipe/internal/completion"
)

// DefaultSheetName is the tab submissions are written to.
const DefaultSheetName = "Responses"

// SheetsOpts holds configuration options for the Google Sheets sink.
type SheetsOpts struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	ClientOptions   []option.ClientOption
}

// SheetsOption defines a configuration option for the Google Sheets sink.
type SheetsOption func(*SheetsOpts)

// WithSpreadsheetID sets the target spreadsheet.
func WithSpreadsheetID(id string) SheetsOption {
	return func(o *SheetsOpts) {
		o.SpreadsheetID = id
	}
}

// WithSheetName sets the tab name.
func WithSheetName(name string) SheetsOption {
	return func(o *SheetsOpts) {
		o.SheetName = name
	}
}

// WithCredentialsFile authenticates with a service account key file.
func WithCredentialsFile(path string) SheetsOption {
	return func(o *SheetsOpts) {
		o.CredentialsFile = path
	}
}

// WithClientOptions passes extra options to the Sheets client, e.g. an endpoint override.
func WithClientOptions(opts ...option.ClientOption) SheetsOption {
	return func(o *SheetsOpts) {
		o.ClientOptions = append(o.ClientOptions, opts...)
	}
}

// SheetsSink appends records as rows of a Google Sheets tab.
type SheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsSink creates a Sheets client for the configured spreadsheet.
func NewSheetsSink(ctx context.Context, opts ...SheetsOption) (*SheetsSink, error) {
	cfg := SheetsOpts{SheetName: DefaultSheetName}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSheetsSink invoked", "spreadsheet_set", cfg.SpreadsheetID != "", "sheet", cfg.SheetName, "credentials_set", cfg.CredentialsFile != "")

	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id not set")
	}

	clientOpts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, cfg.ClientOptions...)

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		slog.Error("Failed to create Sheets client", "error", err)
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &SheetsSink{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheetName: cfg.SheetName}, nil
}

// EnsureSchema creates the tab when missing and writes header into its first row.
func (s *SheetsSink) EnsureSchema(ctx context.Context, header []string) error {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		slog.Error("SheetsSink spreadsheet lookup failed", "error", err, "spreadsheet", s.spreadsheetID)
		return wrap("sheets", "ensure schema", fmt.Errorf("failed to get spreadsheet: %w", err))
	}

	exists := false
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.sheetName {
			exists = true
			break
		}
	}
	if !exists {
		req := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: s.sheetName},
				},
			}},
		}
		if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
			slog.Error("SheetsSink add sheet failed", "error", err, "sheet", s.sheetName)
			return wrap("sheets", "ensure schema", fmt.Errorf("failed to add sheet %q: %w", s.sheetName, err))
		}
		slog.Info("SheetsSink created sheet", "sheet", s.sheetName)
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{toRow(header)}}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1Range(s.sheetName, "A1"), vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		slog.Error("SheetsSink header update failed", "error", err, "sheet", s.sheetName)
		return wrap("sheets", "ensure schema", fmt.Errorf("failed to write header: %w", err))
	}
	slog.Debug("SheetsSink EnsureSchema succeeded", "sheet", s.sheetName, "columns", len(header))
	return nil
}

// AppendRecord appends rec.Fields as a new row.
func (s *SheetsSink) AppendRecord(ctx context.Context, rec completion.Record) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toRow(rec.Fields)}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, a1Range(s.sheetName, "A1"), vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		slog.Error("SheetsSink AppendRecord failed", "error", err, "sheet", s.sheetName, "submissionID", rec.SubmissionID)
		return wrap("sheets", "append", fmt.Errorf("failed to append row: %w", err))
	}
	slog.Debug("SheetsSink AppendRecord succeeded", "sheet", s.sheetName, "submissionID", rec.SubmissionID)
	return nil
}

func toRow(fields []string) []interface{} {
	row := make([]interface{}, len(fields))
	for i, f := range fields {
		row[i] = f
	}
	return row
}

// a1Range returns cell on sheet in A1 notation. The sheet name is always quoted, so names
// with spaces, punctuation or a cell-like shape ("Q1") address the tab.
func a1Range(sheet, cell string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cell
}

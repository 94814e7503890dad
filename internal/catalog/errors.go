package catalog

import "fmt"

// SchemaError reports a malformed catalog. The application must not start with one.
type SchemaError struct {
	// Index is the 0-based record position, or -1 for file-level problems.
	Index  int
	ID     string
	Reason string
	Cause  error
}

func (e *SchemaError) Error() string {
	msg := "invalid question catalog"
	switch {
	case e.Index >= 0 && e.ID != "":
		msg += fmt.Sprintf(": question %d (%q)", e.Index+1, e.ID)
	case e.Index >= 0:
		msg += fmt.Sprintf(": question %d", e.Index+1)
	}
	msg += ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}

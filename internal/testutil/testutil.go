// Package testutil provides common test helpers for FormPipe packages.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/models"
)

// NewCatalog builds a validated catalog from questions and fails the test on a schema error.
func NewCatalog(t *testing.T, questions ...catalog.Question) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(questions, nil)
	require.NoError(t, err, "test catalog must be valid")
	return cat
}

// WriteFile writes content to name inside a fresh temporary directory and returns the path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body), "failed to marshal request body")
	}
	req, err := http.NewRequest(method, url, &reqBody)
	require.NoError(t, err, "failed to create HTTP request")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// DecodeAPIResponse decodes an APIResponse envelope, checks its status and, when result is
// non-nil, decodes the result payload into it.
func DecodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder, expected models.APIStatus, result interface{}) models.APIResponse {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope), "failed to decode JSON response: %s", rr.Body.String())
	require.Equal(t, string(expected), envelope.Status, "unexpected response status (message %q)", envelope.Message)
	if result != nil {
		require.NotEmpty(t, envelope.Result, "response has no result")
		require.NoError(t, json.Unmarshal(envelope.Result, result))
	}
	return models.APIResponse{Status: envelope.Status, Message: envelope.Message, Result: result}
}

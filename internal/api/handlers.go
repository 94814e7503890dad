package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/FormPipe/internal/catalog"
	"github.com/BTreeMap/FormPipe/internal/models"
)

// QuestionInfo is the public description of a catalog question.
type QuestionInfo struct {
	Position      int              `json:"position"`
	ID            string           `json:"id"`
	Prompt        string           `json:"prompt"`
	Description   string           `json:"description,omitempty"`
	Kind          models.InputKind `json:"kind"`
	Options       []string         `json:"options,omitempty"`
	DependsOn     string           `json:"depends_on,omitempty"`
	Disqualifying []string         `json:"disqualifying,omitempty"`
}

func questionInfo(i int, q catalog.Question) QuestionInfo {
	info := QuestionInfo{
		Position:      i,
		ID:            q.ID,
		Prompt:        q.Prompt,
		Description:   q.Description,
		Kind:          q.Kind.Name(),
		Options:       q.StaticOptions(),
		Disqualifying: q.Disqualifying,
	}
	if q.Dynamic != nil {
		info.DependsOn = q.Dynamic.DependsOn
	}
	return info
}

// errorBody is marshaled once so error paths never depend on encoding.
var errorBody []byte

func init() {
	var err error
	errorBody, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals response before writing headers, so an encoding failure
// still produces a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server writeJSONResponse: failed to marshal JSON response", "error", err)
		data, statusCode = errorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(data); err != nil {
		slog.Error("Server writeJSONResponse: failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONResponse(w, statusCode, models.Error(message))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.cfg.Catalog != nil {
		health["questions"] = s.cfg.Catalog.Len()
	}

	names := make([]string, 0, len(s.cfg.Checks))
	for name := range s.cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	failed := map[string]string{}
	for _, name := range names {
		if err := s.cfg.Checks[name](ctx); err != nil {
			slog.Warn("Health check failed", "check", name, "error", err)
			failed[name] = err.Error()
		}
	}

	status := http.StatusOK
	if len(failed) > 0 {
		health["status"] = "degraded"
		health["failed"] = failed
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, health)
}

func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		writeError(w, http.StatusNotFound, "No catalog loaded")
		return
	}
	qs := s.cfg.Catalog.Questions()
	out := make([]QuestionInfo, 0, len(qs))
	for i, q := range qs {
		out = append(out, questionInfo(i, q))
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) questionHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		writeError(w, http.StatusNotFound, "No catalog loaded")
		return
	}
	id := chi.URLParam(r, "id")
	i, ok := s.cfg.Catalog.IndexOf(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Question not found")
		return
	}
	q, _ := s.cfg.Catalog.At(i)
	writeJSONResponse(w, http.StatusOK, models.Success(questionInfo(i, q)))
}

func (s *Server) submissionCountHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Counter == nil {
		writeError(w, http.StatusNotFound, "No queryable sink configured")
		return
	}
	n, err := s.cfg.Counter.Count(r.Context())
	if err != nil {
		slog.Error("Server submissionCountHandler: count failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to count submissions")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{"submissions": n}))
}

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rahul/nlsql/internal/agent"
	"github.com/rahul/nlsql/internal/jobs"
	"github.com/rahul/nlsql/internal/observability"
	"github.com/rahul/nlsql/internal/store"
)

type queryRequest struct {
	UserQuery string `json:"user_query"`
}

// asyncResponse covers every poll outcome; the embedded response is only
// present once the job finished.
type asyncResponse struct {
	*agent.Response
	QueryID string          `json:"query_id"`
	Status  store.JobStatus `json:"status"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) handleNaturalQuery(w http.ResponseWriter, r *http.Request) {
	question, ok := decodeQuestion(w, r)
	if !ok {
		return
	}

	resp, err := s.Answerer.Answer(r.Context(), question)
	if err != nil {
		s.logError(r, "natural query failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAsyncSubmit(w http.ResponseWriter, r *http.Request) {
	question, ok := decodeQuestion(w, r)
	if !ok {
		return
	}

	job, _, err := s.Jobs.Submit(r.Context(), question)
	if err != nil {
		s.logError(r, "async submit failed", err)
		status := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrPoolClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, asyncResponse{QueryID: job.ID, Status: job.Status})
}

func (s *Server) handleAsyncPoll(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("query_id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid query_id")
		return
	}

	view, err := s.Jobs.Poll(r.Context(), id.String())
	if jobs.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.logError(r, "async poll failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, asyncResponse{
		Response: view.Response,
		QueryID:  view.ID,
		Status:   view.Status,
		Error:    view.Error,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, observability.GetStatus())
}

func (s *Server) logError(r *http.Request, msg string, err error) {
	s.Logger.Zap().Error(msg,
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.Error(err),
	)
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return "", false
	}
	if strings.TrimSpace(req.UserQuery) == "" {
		writeError(w, http.StatusUnprocessableEntity, "user_query is required")
		return "", false
	}
	return req.UserQuery, true
}

// serveStatic serves files from dir, falling back to index.html for
// client-side routes.
func serveStatic(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}
		fpath := filepath.Join(dir, filepath.Clean("/"+path))
		if info, err := os.Stat(fpath); err == nil && !info.IsDir() {
			http.ServeFile(w, r, fpath)
			return
		}
		indexPath := filepath.Join(dir, "index.html")
		if _, err := os.Stat(indexPath); err == nil {
			http.ServeFile(w, r, indexPath)
			return
		}
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/nlsql/internal/agent"
	"github.com/rahul/nlsql/internal/jobs"
	"github.com/rahul/nlsql/internal/store"
)

type answerFunc func(ctx context.Context, question string) (*agent.Response, error)

func (f answerFunc) Answer(ctx context.Context, question string) (*agent.Response, error) {
	return f(ctx, question)
}

func echoAnswer(ctx context.Context, q string) (*agent.Response, error) {
	return &agent.Response{OriginalQuery: q, SQLQueries: []string{}, AgentAnswer: "answer to " + q}, nil
}

type stack struct {
	handler http.Handler
	tracker *jobs.Tracker
}

func newStack(t *testing.T, cfg Config, answer answerFunc) *stack {
	t.Helper()

	db := store.OpenTestDB(t)
	pool := jobs.NewPool(2, 8, nil)
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })

	tracker := jobs.NewTracker(store.NewJobStore(db), answer, pool, nil)
	srv := NewServer(cfg, answer, tracker, nil)
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	return &stack{handler: srv.Handler(), tracker: tracker}
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestNaturalQuery(t *testing.T) {
	s := newStack(t, Config{}, echoAnswer)

	rec, body := do(t, s.handler, http.MethodPost, "/database/natural_queries", `{"user_query": "how many users?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "how many users?", body["original_query"])
	assert.Equal(t, []any{}, body["sql_queries"])
	assert.Equal(t, "answer to how many users?", body["agent_answer"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestNaturalQuery_BadRequests(t *testing.T) {
	s := newStack(t, Config{}, echoAnswer)

	for _, body := range []string{`not json`, `{}`, `{"user_query": "  "}`} {
		rec, out := do(t, s.handler, http.MethodPost, "/database/natural_queries", body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
		assert.NotEmpty(t, out["error"])
	}
}

func TestNaturalQuery_RunFailure(t *testing.T) {
	s := newStack(t, Config{}, func(context.Context, string) (*agent.Response, error) {
		return nil, errors.New("oracle: unauthorized")
	})

	rec, body := do(t, s.handler, http.MethodPost, "/database/natural_queries", `{"user_query": "q"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "oracle: unauthorized", body["error"])
}

func TestAsyncQuery_SubmitThenPoll(t *testing.T) {
	release := make(chan struct{})
	s := newStack(t, Config{}, func(ctx context.Context, q string) (*agent.Response, error) {
		<-release
		return echoAnswer(ctx, q)
	})

	rec, body := do(t, s.handler, http.MethodPost, "/database/async_queries", `{"user_query": "list tables"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])
	id, _ := body["query_id"].(string)
	require.NotEmpty(t, id)
	assert.NotContains(t, body, "agent_answer")

	rec, body = do(t, s.handler, http.MethodGet, "/database/async_queries?query_id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])

	close(release)
	require.Eventually(t, func() bool {
		_, body = do(t, s.handler, http.MethodGet, "/database/async_queries?query_id="+id, "")
		return body["status"] == "finished"
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, id, body["query_id"])
	assert.Equal(t, "list tables", body["original_query"])
	assert.Equal(t, "answer to list tables", body["agent_answer"])
	assert.Equal(t, []any{}, body["sql_queries"])
	assert.NotContains(t, body, "error")
}

func TestAsyncQuery_Error(t *testing.T) {
	s := newStack(t, Config{}, func(context.Context, string) (*agent.Response, error) {
		return nil, errors.New("oracle: boom")
	})

	_, body := do(t, s.handler, http.MethodPost, "/database/async_queries", `{"user_query": "q"}`)
	id := body["query_id"].(string)

	require.Eventually(t, func() bool {
		_, body = do(t, s.handler, http.MethodGet, "/database/async_queries?query_id="+id, "")
		return body["status"] == "error"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "oracle: boom", body["error"])
	assert.NotContains(t, body, "agent_answer")
}

func TestAsyncQuery_PollErrors(t *testing.T) {
	s := newStack(t, Config{}, echoAnswer)

	rec, body := do(t, s.handler, http.MethodGet, "/database/async_queries?query_id=not-a-uuid", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid query_id", body["error"])

	rec, body = do(t, s.handler, http.MethodGet, "/database/async_queries?query_id=3fa85f64-5717-4562-b3fc-2c963f66afa6", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", body["error"])
}

func TestAsyncQuery_StoppedPool(t *testing.T) {
	pool := jobs.NewPool(1, 1, nil)
	tracker := jobs.NewTracker(store.NewJobStore(store.OpenTestDB(t)), answerFunc(echoAnswer), pool, nil)
	h := NewServer(Config{}, answerFunc(echoAnswer), tracker, nil).Handler()

	rec, _ := do(t, h, http.MethodPost, "/database/async_queries", `{"user_query": "q"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newStack(t, Config{}, echoAnswer)

	rec, body := do(t, s.handler, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "role")
	assert.Contains(t, body, "uptime")
}

func TestRequestID_IsReused(t *testing.T) {
	s := newStack(t, Config{}, echoAnswer)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	s := newStack(t, Config{RateLimitRPS: 0.001, RateLimitBurst: 1}, echoAnswer)

	rec, _ := do(t, s.handler, http.MethodPost, "/database/natural_queries", `{"user_query": "q"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, s.handler, http.MethodPost, "/database/natural_queries", `{"user_query": "q"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec, _ = do(t, s.handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	s := newStack(t, Config{}, echoAnswer)

	req := httptest.NewRequest(http.MethodOptions, "/database/natural_queries", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>nlsql</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))
	s := newStack(t, Config{StaticDir: dir}, echoAnswer)

	for target, want := range map[string]string{
		"/":           "<h1>nlsql</h1>",
		"/app.js":     "console.log(1)",
		"/some/route": "<h1>nlsql</h1>",
	} {
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, want, rec.Body.String(), target)
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"}, answerFunc(echoAnswer), nil, nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.httpServer != nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

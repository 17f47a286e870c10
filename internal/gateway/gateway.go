// Package gateway exposes the question answering service over HTTP.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/rahul/nlsql/internal/agent"
	"github.com/rahul/nlsql/internal/jobs"
	"github.com/rahul/nlsql/internal/observability"
	"github.com/rahul/nlsql/internal/store"
)

// Answerer answers a question synchronously.
type Answerer interface {
	Answer(ctx context.Context, question string) (*agent.Response, error)
}

// JobTracker runs questions in the background.
type JobTracker interface {
	Submit(ctx context.Context, question string) (*store.Job, *jobs.Task, error)
	Poll(ctx context.Context, id string) (*jobs.View, error)
}

// Config controls the HTTP server.
type Config struct {
	ListenAddr     string
	StaticDir      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server serves the query endpoints.
type Server struct {
	Config   Config
	Answerer Answerer
	Jobs     JobTracker
	Logger   *observability.Logger

	mu         sync.Mutex
	httpServer *http.Server
	stopLimits context.CancelFunc
}

func NewServer(cfg Config, answerer Answerer, tracker JobTracker, logger *observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Server{
		Config:   cfg,
		Answerer: answerer,
		Jobs:     tracker,
		Logger:   logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestID)
	r.Use(requestLogger(s.Logger.Zap()))

	origins := s.Config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/database", func(r chi.Router) {
		if s.Config.RateLimitRPS > 0 {
			ctx, cancel := context.WithCancel(context.Background())
			s.mu.Lock()
			if s.stopLimits != nil {
				s.stopLimits()
			}
			s.stopLimits = cancel
			s.mu.Unlock()
			r.Use(RateLimiter(ctx, RateLimitConfig{
				RequestsPerSecond: s.Config.RateLimitRPS,
				Burst:             s.Config.RateLimitBurst,
			}))
		}
		r.Post("/natural_queries", s.handleNaturalQuery)
		r.Post("/async_queries", s.handleAsyncSubmit)
		r.Get("/async_queries", s.handleAsyncPoll)
	})

	if dir := strings.TrimSuffix(s.Config.StaticDir, "/"); dir != "" {
		r.Get("/*", serveStatic(dir))
	}

	return r
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	s.Logger.Zap().Info("HTTP API listening", zap.String("addr", ln.Addr().String()))

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down. In-flight synchronous requests are
// given until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, stopLimits := s.httpServer, s.stopLimits
	s.mu.Unlock()

	if stopLimits != nil {
		stopLimits()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

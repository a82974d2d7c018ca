// Package api serves profile matching and analysis sessions over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/competitor-intel/internal/matching"
	"github.com/sells-group/competitor-intel/internal/metrics"
	"github.com/sells-group/competitor-intel/internal/model"
	"github.com/sells-group/competitor-intel/internal/session"
)

// Matcher resolves a company against the profile catalogue.
type Matcher interface {
	Match(ctx context.Context, req matching.MatchRequest) (*model.ProfileMatchResult, error)
}

// Analyzer starts background analysis sessions.
type Analyzer interface {
	StartAsync(ctx context.Context, req session.StartRequest) (string, error)
}

// Progress reads and streams session progress.
type Progress interface {
	Current(ctx context.Context, sessionID string) (*model.ProgressRecord, error)
	Stream(ctx context.Context, sessionID string) (<-chan model.ProgressRecord, error)
}

// Deps holds the services the handlers call.
type Deps struct {
	Matcher  Matcher
	Analyzer Analyzer
	Progress Progress
	Metrics  *metrics.Metrics
	// Health reports component states for /health, e.g. circuit breakers.
	Health func() map[string]string

	AllowedOrigins []string
}

// Server owns the HTTP routes.
type Server struct {
	deps Deps
}

// NewServer returns a server over deps.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)

	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/profiles/match", s.matchProfile)
		v1.Post("/analyses", s.startAnalysis)
		v1.Get("/analyses/{sessionID}", s.getProgress)
		v1.Get("/analyses/{sessionID}/events", s.streamProgress)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// Package server exposes the flow engine over HTTP: step execution,
// context inspection, lead scoring, and graph validation.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/leadflowhq/leadflow/flow"
)

// Server routes HTTP traffic to one engine instance.
type Server struct {
	engine   *flow.Engine
	log      zerolog.Logger
	validate *validator.Validate
	router   chi.Router
}

// New assembles the router around an engine.
func New(engine *flow.Engine, log zerolog.Logger) *Server {
	s := &Server{
		engine:   engine,
		log:      log,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/engine", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/step", s.handleStep)
		r.Get("/context/{conversationID}", s.handleContext)
		r.Get("/score/{conversationID}", s.handleScore)
	})
	r.Post("/graphs/validate", s.handleValidateGraph)

	s.router = r
	return s
}

// Handler returns the assembled router.
func (s *Server) Handler() http.Handler { return s.router }

// requestLogger writes one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/savegress/pamflow/internal/config"
	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/identifier"
	"github.com/savegress/pamflow/internal/metrics"
	"github.com/savegress/pamflow/internal/scenario"
	"github.com/savegress/pamflow/internal/store"
	"github.com/savegress/pamflow/internal/transition"
	"github.com/savegress/pamflow/internal/validation"
)

// Dependencies are the services behind the API. Player may be nil when no
// replay destination is configured.
type Dependencies struct {
	Decoder     *hl7v2.Decoder
	PAM         *validation.PAMValidator
	MFN         *validation.MFNValidator
	Machine     *transition.Machine
	Identifiers *identifier.Service
	Backend     store.Backend
	Venues      store.VenueStore
	Engine      *scenario.Engine
	Player      *scenario.Player
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Server represents the API server
type Server struct {
	config   *config.Config
	router   chi.Router
	handlers *Handlers
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps *Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		handlers: NewHandlers(cfg, deps),
		logger:   logger.With("component", "api"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// requestLogger logs each request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HealthCheck)
	if s.handlers.metrics != nil {
		s.router.Handle("/metrics", s.handlers.metrics.Handler())
	}

	s.router.Route("/api/v1/pamflow", func(r chi.Router) {
		// Messages
		r.Route("/messages", func(r chi.Router) {
			r.Post("/decode", s.handlers.DecodeMessage)
			r.Post("/split", s.handlers.SplitBatch)
		})

		// Validation
		r.Route("/validate", func(r chi.Router) {
			r.Post("/pam", s.handlers.ValidatePAM)
			r.Post("/mfn", s.handlers.ValidateMFN)
		})

		// Transitions
		r.Route("/transitions", func(r chi.Router) {
			r.Post("/check", s.handlers.CheckTransition)
			r.Get("/venues/{venue}", s.handlers.GetVenue)
			r.Delete("/venues/{venue}", s.handlers.ResetVenue)
		})

		// Identifiers
		r.Route("/identifiers", func(r chi.Router) {
			r.Post("/generate", s.handlers.GenerateIdentifier)
			r.Post("/sets", s.handlers.GenerateSet)

			r.Route("/namespaces", func(r chi.Router) {
				r.Get("/", s.handlers.ListNamespaces)
				r.Get("/{type}", s.handlers.GetNamespace)
				r.Put("/{type}", s.handlers.PutNamespace)
				r.Delete("/{type}", s.handlers.DeleteNamespace)
				r.Get("/{type}/capacity", s.handlers.GetCapacity)
			})
		})

		// Scenarios
		r.Route("/scenarios", func(r chi.Router) {
			r.Post("/inspect", s.handlers.InspectScenario)
			r.Post("/shift", s.handlers.ShiftScenario)
			r.Post("/shift-batch", s.handlers.ShiftBatch)
			r.Post("/substitute", s.handlers.SubstituteIdentifiers)
			r.Post("/replay", s.handlers.ReplayScenario)
		})
	})
}

// Router returns the chi router
func (s *Server) Router() http.Handler {
	return s.router
}

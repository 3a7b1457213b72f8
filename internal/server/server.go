// Package server provides the HTTP server and routing for Beacon.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/beacon/internal/config"
	"github.com/aristath/beacon/internal/database"
	"github.com/aristath/beacon/internal/events"
	"github.com/aristath/beacon/internal/modules/analysis"
	"github.com/aristath/beacon/internal/modules/datasets"
	"github.com/aristath/beacon/internal/modules/reports"
	"github.com/aristath/beacon/internal/telemetry"
)

// Config holds everything the server wires together.
type Config struct {
	Log     zerolog.Logger
	Config  *config.Config
	Port    int
	DevMode bool

	HistoryDB  *database.DB
	DatasetsDB *database.DB

	Bus     *events.Bus
	Metrics *telemetry.Metrics

	AnalysisHandlers *analysis.Handlers
	DatasetHandlers  *datasets.Handlers
	ReportHandlers   *reports.Handlers
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	bus            *events.Bus
	metrics        *telemetry.Metrics
	systemHandlers *SystemHandlers
	monitor        *Monitor

	analysisHandlers *analysis.Handlers
	datasetHandlers  *datasets.Handlers
	reportHandlers   *reports.Handlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	systemHandlers := NewSystemHandlers(
		cfg.Log,
		cfg.Config.DataDir,
		cfg.Config.Cache.Backend,
		cfg.Bus,
		cfg.HistoryDB,
		cfg.DatasetsDB,
	)

	s := &Server{
		router:           chi.NewRouter(),
		log:              cfg.Log.With().Str("component", "server").Logger(),
		cfg:              cfg.Config,
		bus:              cfg.Bus,
		metrics:          cfg.Metrics,
		systemHandlers:   systemHandlers,
		monitor:          NewMonitor(cfg.Bus, cfg.Metrics, cfg.Log, cfg.HistoryDB, cfg.DatasetsDB),
		analysisHandlers: cfg.AnalysisHandlers,
		datasetHandlers:  cfg.DatasetHandlers,
		reportHandlers:   cfg.ReportHandlers,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging and request counters
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// Lifecycle event streams. SSE first; the stream handler holds the
		// connection open past the normal request lifetime.
		sseHandler := events.NewSSEHandler(s.bus, s.log)
		r.Get("/events/stream", sseHandler.ServeHTTP)

		wsHandler := events.NewWSHandler(s.bus, s.log)
		r.Get("/events/ws", wsHandler.ServeHTTP)

		// System monitoring
		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})

		s.analysisHandlers.RegisterRoutes(r)
		s.datasetHandlers.RegisterRoutes(r)
		s.reportHandlers.RegisterRoutes(r)
	})
}

// Start starts the HTTP server and background monitors.
func (s *Server) Start() error {
	if s.monitor != nil {
		s.monitor.Start(60 * time.Second)
		s.log.Info().Msg("Health monitor started")
	}

	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if s.monitor != nil {
		s.monitor.Stop()
	}
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests and feeds the request counter.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")

		route := r.URL.Path
		if ctx := chi.RouteContext(r.Context()); ctx != nil && ctx.RoutePattern() != "" {
			route = ctx.RoutePattern()
		}
		s.metrics.HTTPRequests.WithLabelValues(route, statusClass(ww.Status())).Inc()
	})
}

// statusClass buckets a status code into its class ("2xx", "4xx", ...)
// to keep the metric's cardinality down.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}

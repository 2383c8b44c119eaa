// Package server implements the Galleria HTTP server and route table.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galleria/galleria/internal/auth"
	"github.com/galleria/galleria/internal/config"
	"github.com/galleria/galleria/internal/export"
	"github.com/galleria/galleria/internal/handlers"
	"github.com/galleria/galleria/internal/logging"
	"github.com/galleria/galleria/internal/naming"
	"github.com/galleria/galleria/internal/registry"
	"github.com/galleria/galleria/internal/removal"
	"github.com/galleria/galleria/internal/scanner"
	"github.com/galleria/galleria/internal/storage"
	"github.com/galleria/galleria/internal/upload"
)

// healthCheckTimeout bounds each dependency check of /health.
const healthCheckTimeout = 3 * time.Second

// Server is the Galleria HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	reg        registry.Registry
	store      storage.Backend
	scanner    *scanner.Scanner
	schedule   *scanner.Scheduler
	verifier   *auth.TokenVerifier
	logger     *slog.Logger
	artists    *handlers.ArtistHandler
	assets     *handlers.AssetHandler
	admin      *handlers.AdminHandler
	httpServer *http.Server
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status" example:"ok" doc:"ok or error"`
	LatencyMs int64  `json:"latencyMs" doc:"Check latency in milliseconds"`
	Error     string `json:"error,omitempty" doc:"Failure detail"`
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string                 `json:"status" example:"ok" doc:"ok or degraded"`
	Checks map[string]CheckResult `json:"checks,omitempty" doc:"Per-dependency results"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithRegistry sets the asset registry.
func WithRegistry(reg registry.Registry) ServerOption {
	return func(s *Server) { s.reg = reg }
}

// WithStorageBackend sets the asset store.
func WithStorageBackend(store storage.Backend) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithScanner sets the consistency scanner. Without one, a scanner is
// built from the registry and store using the scan config.
func WithScanner(sc *scanner.Scanner) ServerOption {
	return func(s *Server) { s.scanner = sc }
}

// WithScheduler exposes the scheduler's last report on /api/admin/scan/last.
func WithScheduler(sch *scanner.Scheduler) ServerOption {
	return func(s *Server) { s.schedule = sch }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// New creates a Server and wires every route on a Chi router with a Huma
// API for documentation. The JSON API is only mounted when both a
// registry and a store are provided.
func New(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("Galleria API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "server")

	if (s.reg == nil) != (s.store == nil) {
		return nil, errors.New("server: registry and storage backend must be provided together")
	}
	if s.reg != nil {
		s.buildHandlers()
	}
	s.verifier = auth.NewTokenVerifier(cfg.Admin.Token)

	s.registerRoutes()
	return s, nil
}

func (s *Server) buildHandlers() {
	cfg := s.cfg
	namer := naming.New(cfg.Storage.Collection)
	pipeline := upload.New(s.reg, s.store, namer,
		upload.WithMaxBytes(cfg.Server.MaxUploadBytes),
		upload.WithLogger(s.logger),
	)
	remover := removal.New(s.reg, s.store, s.logger)
	exporter := export.New(s.reg, s.store, cfg.Export.Concurrency, s.logger)
	if s.scanner == nil {
		s.scanner = scanner.New(s.reg, s.store,
			scanner.WithMaxErrors(cfg.Scan.MaxErrors),
			scanner.WithLogger(s.logger),
		)
	}
	policy, err := scanner.ParsePolicy(cfg.Scan.OrphanPolicy)
	if err != nil {
		s.logger.Warn("invalid scan.orphan_policy, using report", "policy", cfg.Scan.OrphanPolicy)
		policy = scanner.PolicyReport
	}

	s.artists = handlers.NewArtistHandler(s.reg, remover, s.logger)
	s.assets = handlers.NewAssetHandler(s.reg, s.store, pipeline, remover, exporter, s.logger)
	s.admin = handlers.NewAdminHandler(s.scanner, s.schedule, policy, s.logger)
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> recoverer -> cors -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	if len(s.cfg.Server.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.Server.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Content-Disposition", "X-Request-Id", "X-Skipped-Entries"},
			MaxAge:         300,
		})(handler)
	}
	handler = middleware.Recoverer(handler)
	handler = commonHeaders(handler)
	if s.cfg.Observability.Metrics {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health of the Galleria server and, when enabled, of the registry and asset store.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return s.health(ctx), nil
	})

	// HEAD /health is registered separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		out := s.health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(out.Status)
	})

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	if s.reg == nil {
		return
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/artists", s.artists.ListArtists)
		r.Post("/artists", s.artists.CreateArtist)
		r.Route("/artists/{id}", func(r chi.Router) {
			r.Get("/", s.artists.GetArtist)
			r.Put("/", s.artists.UpdateArtist)
			r.Delete("/", s.artists.DeleteArtist)
			r.Get("/images", s.assets.ListArtistAssets)
			r.Post("/upload", s.assets.Upload)
			r.Get("/download", s.assets.Download)
		})
		r.Get("/images/{id}", s.assets.GetImage)
		r.Delete("/images/{id}", s.assets.DeleteImage)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Middleware(s.verifier))
			r.Post("/scan", s.admin.Scan)
			r.Get("/scan/last", s.admin.LastScan)
			r.Post("/cleanup", s.admin.Cleanup)
			r.Post("/repair-missing", s.admin.RepairMissing)
		})
	})
}

// health checks the registry and store when deep health checks are enabled.
func (s *Server) health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{Status: http.StatusOK, Body: HealthBody{Status: "ok"}}
	if !s.cfg.Observability.HealthCheck || s.reg == nil {
		return out
	}

	out.Body.Checks = map[string]CheckResult{
		"registry": runCheck(ctx, s.reg.Ping),
		"storage":  runCheck(ctx, s.store.HealthCheck),
	}
	for _, c := range out.Body.Checks {
		if c.Status != "ok" {
			out.Status = http.StatusServiceUnavailable
			out.Body.Status = "degraded"
		}
	}
	return out
}

func runCheck(ctx context.Context, check func(context.Context) error) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	start := time.Now()
	err := check(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

// Package api exposes the sync engine over HTTP: sync lifecycle controls,
// progress inspection, dry-run planning, health and Prometheus endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/models"
	enginesync "github.com/vitalsync/vitalsync/internal/sync"
)

// Engine is the controller surface the API depends on. Implemented by
// *sync.Controller; tests supply a fake.
type Engine interface {
	Start(ctx context.Context, cfg models.SyncConfig, resume bool) (string, error)
	Pause(syncID string) error
	Resume(syncID string) error
	Stop(syncID string) error
	Progress(ctx context.Context, syncID string) (*models.SyncProgress, error)
	ListActive() []*models.SyncProgress
	EfficiencyStats(ctx context.Context, userID string, metrics []string, start, end time.Time) (*enginesync.PlanReport, error)
}

// Server is the HTTP control surface.
type Server struct {
	cfg      config.ServerConfig
	defaults config.SyncConfig
	engine   Engine
	handler  http.Handler
}

// NewServer builds the server and its route table. defaults fills sync
// request fields the caller omits.
func NewServer(cfg config.ServerConfig, defaults config.SyncConfig, engine Engine) *Server {
	s := &Server{
		cfg:      cfg,
		defaults: defaults,
		engine:   engine,
	}
	s.handler = s.routes()
	return s
}

// Handler returns the assembled route tree.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
		}
		r.Use(prometheusMetrics)

		r.Route("/syncs", func(r chi.Router) {
			r.Post("/", s.handleCreateSync)
			r.Get("/", s.handleListSyncs)
			r.Route("/{syncID}", func(r chi.Router) {
				r.Get("/", s.handleGetSync)
				r.Post("/pause", s.handlePauseSync)
				r.Post("/resume", s.handleResumeSync)
				r.Post("/stop", s.handleStopSync)
			})
		})

		r.Get("/efficiency", s.handleEfficiency)
	})

	return r
}

// Serve runs the HTTP server until ctx is canceled, then shuts down
// gracefully. Shaped for supervision: it blocks for the server's whole
// lifetime and returns the cause of exit.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("listen", s.cfg.Listen).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("HTTP server shutdown did not finish cleanly")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

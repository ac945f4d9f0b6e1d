// AgentWatch - Real-Time Security Monitoring for Multi-Agent Platforms
// Copyright 2026 AgentWatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package api serves the reporting endpoints: persisted events and
// violations, baseline states, compliance posture, and Prometheus metrics.
// Read-only; concurrent with the pipeline via consistent-snapshot reads.
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

	"github.com/agentwatch/agentwatch/internal/logging"
)

// Config holds reporting server settings.
type Config struct {
	Addr            string        `koanf:"addr" validate:"required"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	RateLimit       int           `koanf:"rate_limit"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns the reference server settings.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8420",
		AllowedOrigins:  []string{"*"},
		RateLimit:       300,
		RateLimitWindow: time.Minute,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the reporting HTTP server.
type Server struct {
	cfg     Config
	handler *Handler
	router  http.Handler
}

// NewServer creates the server over the given data sources.
func NewServer(cfg Config, handler *Handler) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = def.AllowedOrigins
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	s := &Server{cfg: cfg, handler: handler}
	s.router = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(s.cfg.RateLimit, s.cfg.RateLimitWindow))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", s.handler.Events)
		r.Get("/violations", s.handler.Violations)
		r.Get("/baselines", s.handler.Baselines)
		r.Get("/health", s.handler.Health)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Router returns the configured handler tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Serve runs the HTTP server until the context is cancelled, then shuts it
// down gracefully. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.cfg.Addr).Msg("reporting server listening")
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
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

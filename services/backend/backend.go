// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package backend assembles the conversation proxy HTTP service.
//
// New wires configuration, identity verification, the Discovery Engine
// client, metrics and routes into a Service. cmd/backend is the only
// production caller; tests pass a fake SearchClient.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/vertexchat/pkg/extensions"
	"github.com/AleutianAI/vertexchat/pkg/identity"
	"github.com/AleutianAI/vertexchat/pkg/logging"
	"github.com/AleutianAI/vertexchat/pkg/telemetry"
	"github.com/AleutianAI/vertexchat/services/backend/conversation"
	"github.com/AleutianAI/vertexchat/services/backend/middleware"
	"github.com/AleutianAI/vertexchat/services/backend/observability"
	"github.com/AleutianAI/vertexchat/services/backend/routes"
)

const (
	serviceName        = "vertexchat-backend"
	defaultPort        = 8000
	defaultNoAuthBurst = 5
	shutdownTimeout    = 10 * time.Second
)

// =============================================================================
// Service Interface
// =============================================================================

// Service is the running backend.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
	// It returns nil after a clean shutdown.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine. Tests drive it with httptest.
	Router() *gin.Engine

	// Logger returns the service logger, which also writes to LOG_DIR when set.
	Logger() *slog.Logger

	// Close flushes telemetry and audit output and releases the search client.
	Close(ctx context.Context) error
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config    Config
	opts      extensions.ServiceOptions
	logger    *logging.Logger
	router    *gin.Engine
	proxy     *conversation.Proxy
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	shutdown  func(context.Context) error
	ownClient *conversation.DiscoveryEngineClient
}

// New creates the backend service.
//
// # Description
//
// Builds every collaborator from cfg. When opts is nil the auth provider is
// an identity.Gate over Google's verifier (or the HS256 verifier when
// DevSharedSecret is set) and audit events go to the service log. When
// search is nil a Discovery Engine client is dialed for cfg's location.
//
// # Outputs
//
//   - Service: ready to Run
//   - error: *conversation.ConfigurationError when project, location or
//     datastore is unset; wrapped errors for other setup failures
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions, search conversation.SearchClient) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res := cfg.Resource()
	if err := res.Validate(); err != nil {
		return nil, err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	s := &service{
		config: cfg,
		logger: logging.New(logging.Config{
			Level:   level,
			Service: "backend",
			JSON:    cfg.LogJSON,
			LogDir:  cfg.LogDir,
			Writer:  cfg.LogWriter,
		}),
	}
	slogger := s.logger.Slog()

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = serviceName
	tcfg.TraceExporter = cfg.TraceExporter
	tcfg.MetricExporter = cfg.MetricExporter
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.Registerer = s.registry
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s.shutdown = shutdown

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts, err = s.defaultOptions(ctx, slogger)
		if err != nil {
			s.cleanup(ctx)
			return nil, err
		}
	}
	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = &extensions.DenyAllAuthProvider{}
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = &extensions.NopAuditLogger{}
	}

	if search == nil {
		client, err := conversation.NewDiscoveryEngineClient(ctx, res)
		if err != nil {
			s.cleanup(ctx)
			return nil, fmt.Errorf("failed to create discovery engine client: %w", err)
		}
		s.ownClient = client
		search = client
	}

	s.proxy, err = conversation.NewProxy(search, res,
		conversation.WithObserver(s.metrics),
		conversation.WithLogger(slogger),
	)
	if err != nil {
		s.cleanup(ctx)
		return nil, err
	}

	if err := s.initRouter(slogger); err != nil {
		s.cleanup(ctx)
		return nil, err
	}

	slogger.Info("backend configured",
		"project", res.Project,
		"location", res.Location,
		"datastore", res.DataStore,
		"serving_config", res.ServingConfigName(),
		"noauth_enabled", cfg.NoAuthEnabled,
	)
	return s, nil
}

func (s *service) defaultOptions(ctx context.Context, logger *slog.Logger) (extensions.ServiceOptions, error) {
	var verifier identity.Verifier
	if s.config.DevSharedSecret != "" {
		v, err := identity.NewSharedSecretVerifier(s.config.DevSharedSecret)
		if err != nil {
			return extensions.ServiceOptions{}, fmt.Errorf("failed to create shared secret verifier: %w", err)
		}
		logger.Warn("identity tokens verified with a shared secret; do not use in production")
		verifier = v
	} else {
		v, err := identity.NewGoogleVerifier(ctx)
		if err != nil {
			return extensions.ServiceOptions{}, fmt.Errorf("failed to create google verifier: %w", err)
		}
		verifier = v
	}

	if s.config.Audience == "" {
		logger.Warn("AUDIENCE is not set; every authenticated request will be rejected")
	}

	gate := identity.NewGate(verifier, s.config.Audience, s.config.TrustedIssuers,
		identity.WithLogger(logger))

	return extensions.DefaultOptions().
		WithAuth(gate).
		WithAudit(extensions.NewSlogAuditLogger(logger)), nil
}

func (s *service) initRouter(logger *slog.Logger) error {
	gin.SetMode(s.config.GinMode)

	httpMetrics, err := telemetry.NewHTTPMetrics(otel.Meter("vertexchat.backend"))
	if err != nil {
		return fmt.Errorf("failed to create http metrics: %w", err)
	}

	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		middleware.RequestID(),
		middleware.RequestLogger(logger),
		telemetry.GinMetrics(httpMetrics),
	)

	var limiter *rate.Limiter
	if s.config.NoAuthRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.NoAuthRateLimit), s.config.NoAuthRateBurst)
	}

	routes.SetupRoutes(s.router, s.proxy, s.opts, routes.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		NoAuthEnabled:  s.config.NoAuthEnabled,
		NoAuthLimiter:  limiter,
		Metrics:        s.metrics,
		MetricsHandler: promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}),
	})
	return nil
}

func (s *service) Logger() *slog.Logger {
	return s.logger.Slog()
}

func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting backend server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down backend server")
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if closeErr := s.Close(context.Background()); closeErr != nil {
		s.logger.Warn("cleanup failed", "error", closeErr)
	}
	return err
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close(ctx context.Context) error {
	return s.cleanup(ctx)
}

func (s *service) cleanup(ctx context.Context) error {
	var errs []error

	if s.opts.AuditLogger != nil {
		if err := s.opts.AuditLogger.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush audit log: %w", err))
		}
	}
	if s.ownClient != nil {
		if err := s.ownClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close discovery engine client: %w", err))
		}
		s.ownClient = nil
	}
	if s.shutdown != nil {
		if err := s.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		s.shutdown = nil
	}
	if err := s.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ Service = (*service)(nil)

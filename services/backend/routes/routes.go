// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/vertexchat/pkg/extensions"
	"github.com/AleutianAI/vertexchat/services/backend/handlers"
	"github.com/AleutianAI/vertexchat/services/backend/middleware"
	"github.com/AleutianAI/vertexchat/services/backend/observability"
)

// NoAuthIdentity is the identity of every request on /api/noauth.
const NoAuthIdentity = "curl-test-user@example.com"

// Options controls which routes are registered and what they report to.
type Options struct {
	// NoAuthEnabled registers POST /api/noauth.
	NoAuthEnabled bool

	// NoAuthLimiter limits /api/noauth. Nil means unlimited.
	NoAuthLimiter *rate.Limiter

	// Metrics receives turn, auth and socket metrics. May be nil.
	Metrics *observability.Metrics

	// MetricsHandler serves GET /metrics. Nil skips the route.
	MetricsHandler http.Handler

	// AllowedOrigins may open /api/chat/ws from another host.
	AllowedOrigins []string
}

// SetupRoutes registers the backend API on router.
func SetupRoutes(router *gin.Engine, runner handlers.TurnRunner, ext extensions.ServiceOptions, opts Options) {
	deps := handlers.Deps{Audit: ext.AuditLogger, Metrics: opts.Metrics, AllowedOrigins: opts.AllowedOrigins}
	auth := middleware.AuthMiddleware(ext.AuthProvider, middleware.AuthOptions{
		Audit:   ext.AuditLogger,
		Metrics: opts.Metrics,
	})

	router.GET("/health", handlers.HandleHealth())
	if opts.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	api := router.Group("/api")
	{
		api.POST("/query", auth, handlers.HandleQuery(runner, deps))
		api.GET("/echo", auth, handlers.HandleEcho())
		api.GET("/chat/ws", auth, handlers.HandleChatWebSocket(runner, deps))

		if opts.NoAuthEnabled {
			api.POST("/noauth",
				middleware.RateLimit(opts.NoAuthLimiter, opts.Metrics),
				middleware.StaticIdentity(&extensions.StaticAuthProvider{Email: NoAuthIdentity}),
				handlers.HandleQuery(runner, deps),
			)
		}
	}
}

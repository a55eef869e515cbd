// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the backend service.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │   (falls back to the x-goog-iap-jwt-assertion header)
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │      │
//	   │      └─► failure: 401 {"detail": "Invalid or missing IAP authorization token."}
//	   │
//	   └─► Store AuthInfo and raw token in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo / GetRawToken)
//
// The reason for a rejection never reaches the client. The provider logs
// it; this middleware counts it and writes an audit event.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/vertexchat/pkg/extensions"
	"github.com/AleutianAI/vertexchat/services/backend/datatypes"
	"github.com/AleutianAI/vertexchat/services/backend/observability"
)

// =============================================================================
// Context Keys
// =============================================================================

const (
	authInfoKey = "vertexchat_auth_info"
	rawTokenKey = "vertexchat_raw_token"
)

// IAPAssertionHeader is the header an identity-aware proxy injects.
const IAPAssertionHeader = "X-Goog-IAP-JWT-Assertion"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// Returns nil if the request did not pass through AuthMiddleware.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// GetRawToken returns the token the request authenticated with.
func GetRawToken(c *gin.Context) string {
	return c.GetString(rawTokenKey)
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthOptions are the side channels AuthMiddleware reports failures to.
// Zero values are valid.
type AuthOptions struct {
	Audit   extensions.AuditLogger
	Metrics *observability.Metrics
}

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Validates the request's bearer token with provider. On success the
// resulting AuthInfo and the raw token are stored in the context. On any
// failure the request is aborted with 401 and a fixed message.
//
// # Inputs
//
//   - provider: AuthProvider to validate tokens. Must not be nil.
//   - opts: optional audit and metrics sinks.
//
// # Examples
//
//	api := router.Group("/api")
//	api.POST("/query", middleware.AuthMiddleware(gate, opts), handler)
//
// # Thread Safety
//
// The returned handler is safe for concurrent use.
func AuthMiddleware(provider extensions.AuthProvider, opts AuthOptions) gin.HandlerFunc {
	audit := opts.Audit
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}

	return func(c *gin.Context) {
		token := extractToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil || authInfo == nil {
			if err != nil && !errors.Is(err, extensions.ErrUnauthorized) {
				// Not a rejection; the cause stays server-side.
				slog.ErrorContext(c.Request.Context(), "auth provider error", "error", err)
			}
			route := routeLabel(c)
			opts.Metrics.RecordAuthFailure(route)
			logAudit(c.Request.Context(), audit, extensions.AuditEvent{
				EventType: extensions.EventAuthFailed,
				UserID:    "anonymous",
				Outcome:   "failure",
				Metadata: map[string]any{
					"route":         route,
					"request_id":    GetRequestID(c),
					"token_present": token != "",
				},
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.UnauthorizedResponse{
				Detail: datatypes.UnauthorizedDetail,
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Set(rawTokenKey, token)
		c.Next()
	}
}

// StaticIdentity creates a middleware that authenticates every request as
// the identity returned by provider, ignoring credentials.
func StaticIdentity(provider *extensions.StaticAuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, _ := provider.Validate(c.Request.Context(), "")
		SetAuthInfo(c, info)
		c.Next()
	}
}

// extractToken returns the bearer token, or the IAP assertion header when
// no Authorization header is present.
func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return extractBearerToken(auth)
	}
	return strings.TrimSpace(c.GetHeader(IAPAssertionHeader))
}

// extractBearerToken parses "Bearer <token>", case-insensitive on the scheme.
func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func logAudit(ctx context.Context, audit extensions.AuditLogger, event extensions.AuditEvent) {
	if err := audit.Log(ctx, event); err != nil {
		slog.WarnContext(ctx, "audit log failed", "event_type", event.EventType, "error", err)
	}
}

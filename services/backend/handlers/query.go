// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the backend's HTTP handlers.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/vertexchat/pkg/extensions"
	"github.com/AleutianAI/vertexchat/services/backend/conversation"
	"github.com/AleutianAI/vertexchat/services/backend/datatypes"
	"github.com/AleutianAI/vertexchat/services/backend/middleware"
	"github.com/AleutianAI/vertexchat/services/backend/observability"
)

var queryTracer = otel.Tracer("vertexchat.backend.handlers")

// TurnRunner runs one conversation turn. Implemented by *conversation.Proxy.
type TurnRunner interface {
	StartOrContinue(ctx context.Context, query, handle string) (conversation.Turn, error)
}

// Deps are the shared collaborators of the handlers. Zero values are valid.
type Deps struct {
	Audit   extensions.AuditLogger
	Metrics *observability.Metrics

	// AllowedOrigins are cross-origin hosts that may open the chat socket,
	// e.g. "https://chat.example.com".
	AllowedOrigins []string
}

func (d Deps) audit() extensions.AuditLogger {
	if d.Audit == nil {
		return &extensions.NopAuditLogger{}
	}
	return d.Audit
}

// HandleQuery serves POST /api/query and POST /api/noauth.
//
// The caller identity must already be in the context (AuthMiddleware or
// StaticIdentity). Downstream failures are answered with 200 and an
// error-shaped reply; only a malformed body gets 400.
func HandleQuery(runner TurnRunner, deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := queryTracer.Start(c.Request.Context(), "HandleQuery")
		defer span.End()

		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.WarnContext(ctx, "failed to parse query request", "error", err, "request_id", middleware.GetRequestID(c))
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "query must not be blank and must be at most 32KB"})
			return
		}

		user := extensions.UnknownEmail
		if info := middleware.GetAuthInfo(c); info != nil {
			user = info.Email
		}
		span.SetAttributes(attribute.String("enduser.id", user))
		slog.InfoContext(ctx, "received query",
			"user", user,
			"has_conversation_id", req.Handle() != "",
			"request_id", middleware.GetRequestID(c),
		)

		turn, status := runTurn(ctx, runner, deps, routeName(c), user, req.Query, req.Handle())
		if status != http.StatusOK {
			span.SetStatus(codes.Error, "turn failed")
			c.JSON(status, datatypes.ErrorResponse{Error: "conversation service is not configured"})
			return
		}
		c.JSON(http.StatusOK, datatypes.NewQueryResponse(turn.Reply, turn.Handle))
	}
}

// runTurn executes a turn and records its outcome. The returned status is
// 200 unless the proxy reported a configuration error.
func runTurn(ctx context.Context, runner TurnRunner, deps Deps, route, user, query, handle string) (conversation.Turn, int) {
	turn, err := runner.StartOrContinue(ctx, query, handle)
	if err != nil {
		var cfgErr *conversation.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.ErrorContext(ctx, "conversation proxy misconfigured", "error", err)
		} else {
			slog.ErrorContext(ctx, "conversation turn failed", "error", err)
		}
		deps.Metrics.RecordTurn(route, "config_error")
		return conversation.Turn{}, http.StatusInternalServerError
	}

	outcome := turnOutcome(turn)
	deps.Metrics.RecordTurn(route, outcome)

	event := extensions.AuditEvent{
		EventType:  extensions.EventQueryTurn,
		UserID:     user,
		ResourceID: turn.Handle,
		Outcome:    "success",
		Metadata:   map[string]any{"route": route},
	}
	if turn.Created {
		event.EventType = extensions.EventSessionStart
	}
	if turn.Err != nil {
		event.Outcome = "error"
		event.Metadata["error"] = turn.Err.Error()
	}
	if err := deps.audit().Log(ctx, event); err != nil {
		slog.WarnContext(ctx, "audit log failed", "error", err)
	}
	return turn, http.StatusOK
}

func turnOutcome(turn conversation.Turn) string {
	var createErr *conversation.SessionCreateError
	var converseErr *conversation.ConverseError
	switch {
	case errors.As(turn.Err, &createErr):
		return "create_error"
	case errors.As(turn.Err, &converseErr):
		return "converse_error"
	case turn.Err != nil:
		return "error"
	default:
		return "success"
	}
}

func routeName(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

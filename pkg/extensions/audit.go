// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types emitted by the backend.
const (
	EventAuthFailed   = "auth.failed"
	EventQueryTurn    = "conversation.turn"
	EventSessionStart = "conversation.start"
)

// AuditEvent represents a security-relevant event.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:  extensions.EventQueryTurn,
//	    UserID:     info.Email,
//	    ResourceID: handle,
//	    Outcome:    "success",
//	}
type AuditEvent struct {
	// EventType categorizes the event. Format: "category.action".
	EventType string

	// Timestamp is when the event occurred.
	// If zero, implementations set it to time.Now().UTC().
	Timestamp time.Time

	// UserID identifies the caller, or "anonymous" when authentication failed.
	UserID string

	// ResourceID is the conversation handle involved, if any.
	ResourceID string

	// Outcome is one of "success", "failure" or "error".
	Outcome string

	// Metadata holds event-specific details such as "request_id" or "error".
	Metadata map[string]any
}

// AuditLogger records security-relevant events.
//
// Log must not block the request path for long; implementations that
// ship events elsewhere should buffer and drain on Flush.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

// Flush is a no-op.
func (l *NopAuditLogger) Flush(_ context.Context) error { return nil }

// SlogAuditLogger writes events as structured log records under the
// "audit" group.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates a SlogAuditLogger. A nil logger uses slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

// Log writes the event at Info level, or Warn for non-success outcomes.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	level := slog.LevelInfo
	if event.Outcome != "success" {
		level = slog.LevelWarn
	}
	attrs := []any{
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
		slog.String("user_id", event.UserID),
		slog.String("outcome", event.Outcome),
	}
	if event.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", event.ResourceID))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.Log(ctx, level, "audit", slog.Group("audit", attrs...))
	return nil
}

// Flush is a no-op; slog handlers write synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/vertexchat/pkg/telemetry"
)

var proxyTracer = otel.Tracer("vertexchat.conversation")

// Reply texts returned to the caller.
const (
	NoSummaryReply = "No summary available"

	createFailedFormat   = "Unable to start conversation: %v"
	converseFailedFormat = "Sorry, I encountered an error: %v. Please try again."
)

// Turn is the outcome of one StartOrContinue call.
type Turn struct {
	// Reply is the text shown to the user. Always set.
	Reply string

	// Handle is the session handle the caller sends on its next turn.
	// Empty means no session exists and the next turn must start one.
	Handle string

	// Err is the recoverable failure behind an error-shaped Reply:
	// *SessionCreateError or *ConverseError. Nil on success.
	Err error

	// Created reports whether this turn started a new session.
	Created bool
}

// Proxy runs conversation turns against a SearchClient.
//
// # Description
//
// Proxy holds no per-session state. Two turns carrying the same handle
// may run concurrently; ordering between them is left to the external
// service.
//
// # Thread Safety
//
// Safe for concurrent use.
type Proxy struct {
	client   SearchClient
	resource Resource
	summary  SummarySpec
	observer Observer
	logger   *slog.Logger
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithObserver reports turn outcomes to o.
func WithObserver(o Observer) ProxyOption {
	return func(p *Proxy) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLogger sets the proxy's logger.
func WithLogger(l *slog.Logger) ProxyOption {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProxy creates a Proxy for the given data store.
//
// # Outputs
//
//   - *Proxy: ready for concurrent use.
//   - error: *ConfigurationError if any resource identifier is unset,
//     or an error if client is nil.
func NewProxy(client SearchClient, res Resource, opts ...ProxyOption) (*Proxy, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("conversation proxy: nil search client")
	}
	p := &Proxy{
		client:   client,
		resource: res,
		summary:  DefaultSummarySpec,
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Resource returns the data store the proxy targets.
func (p *Proxy) Resource() Resource {
	return p.resource
}

// StartOrContinue runs one conversation turn.
//
// # Description
//
// With an empty handle a session is created first. If creation fails the
// turn ends there: Reply embeds the failure, Handle is empty and
// Err is a *SessionCreateError.
//
// The query is then sent to the resolved session. On failure Reply
// embeds the failure, Handle is the resolved handle and Err is a
// *ConverseError. On success Reply is the summary text, or
// NoSummaryReply if the service returned none, and Handle is the
// session name from the response, falling back to the resolved handle.
//
// # Outputs
//
//   - Turn: always populated unless error is non-nil.
//   - error: *ConfigurationError for a Proxy that was not built by NewProxy.
func (p *Proxy) StartOrContinue(ctx context.Context, query, handle string) (Turn, error) {
	if p == nil || p.client == nil {
		return Turn{}, &ConfigurationError{Missing: []string{"search client"}}
	}
	if err := p.resource.Validate(); err != nil {
		return Turn{}, err
	}

	ctx, span := proxyTracer.Start(ctx, "conversation.StartOrContinue",
		trace.WithAttributes(attribute.Bool("conversation.has_handle", handle != "")),
	)
	defer span.End()

	var turn Turn
	if handle == "" {
		created, err := p.createSession(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session create failed")
			return Turn{
				Reply: fmt.Sprintf(createFailedFormat, err.Unwrap()),
				Err:   err,
			}, nil
		}
		handle = created
		turn.Created = true
	}
	span.SetAttributes(attribute.String("conversation.handle", handle))

	result, cerr := p.converse(ctx, query, handle)
	if cerr != nil {
		span.RecordError(cerr)
		span.SetStatus(codes.Error, "converse failed")
		turn.Reply = fmt.Sprintf(converseFailedFormat, cerr.Unwrap())
		turn.Handle = handle
		turn.Err = cerr
		return turn, nil
	}

	turn.Reply = result.Summary
	if turn.Reply == "" {
		turn.Reply = NoSummaryReply
	}
	turn.Handle = handle
	if result.ConversationName != "" {
		turn.Handle = result.ConversationName
	}
	return turn, nil
}

func (p *Proxy) createSession(ctx context.Context) (string, *SessionCreateError) {
	parent := p.resource.Parent()
	ctx, span := proxyTracer.Start(ctx, "conversation.CreateConversation",
		trace.WithAttributes(attribute.String("conversation.parent", parent)),
	)
	defer span.End()

	start := time.Now()
	handle, err := p.client.CreateConversation(ctx, parent)
	if err == nil && handle == "" {
		err = fmt.Errorf("service returned an empty conversation name")
	}
	if err != nil {
		p.observer.ObserveSessionCreate("error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.LoggerWithTrace(ctx, p.logger).ErrorContext(ctx, "failed to create conversation", "parent", parent, "error", err)
		return "", &SessionCreateError{Parent: parent, Err: err}
	}

	p.observer.ObserveSessionCreate("success", time.Since(start))
	p.logger.InfoContext(ctx, "conversation created", "conversation_id", handle)
	return handle, nil
}

func (p *Proxy) converse(ctx context.Context, query, handle string) (*ConverseResult, *ConverseError) {
	ctx, span := proxyTracer.Start(ctx, "conversation.Converse")
	defer span.End()

	start := time.Now()
	result, err := p.client.Converse(ctx, ConverseRequest{
		Handle:        handle,
		Query:         query,
		ServingConfig: p.resource.ServingConfigName(),
		Summary:       p.summary,
	})
	if err == nil && result == nil {
		err = fmt.Errorf("service returned an empty response")
	}
	if err != nil {
		p.observer.ObserveConverse("error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.LoggerWithTrace(ctx, p.logger).ErrorContext(ctx, "converse failed", "conversation_id", handle, "error", err)
		return nil, &ConverseError{Handle: handle, Err: err}
	}

	outcome := "success"
	if result.Summary == "" {
		outcome = "no_summary"
	}
	p.observer.ObserveConverse(outcome, time.Since(start))
	span.SetAttributes(attribute.Bool("conversation.has_summary", result.Summary != ""))
	return result, nil
}

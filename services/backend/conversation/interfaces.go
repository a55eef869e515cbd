// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation proxies conversation turns to a managed
// conversational search service.
//
// # Description
//
// The backend keeps no conversation state. Each turn either starts a
// session on the external service (when the caller has no handle) or
// continues the session named by the caller's handle. The handle is
// returned with every reply and the caller sends it back on the next
// turn.
//
// # Failure Shape
//
// External failures do not fail the turn. They produce an error-shaped
// reply text plus a typed error in Turn.Err:
//
//   - SessionCreateError: the returned handle is empty; retry without one.
//   - ConverseError: the input handle is returned; retry with it.
//
// Only a ConfigurationError is returned as a Go error.
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package conversation

import (
	"context"
	"time"
)

// SearchClient is the external conversational search capability.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SearchClient interface {
	// CreateConversation starts a new session under parent.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation and timeout.
	//   - parent: Data store resource name, see Resource.Parent.
	//
	// # Outputs
	//
	//   - string: The new session's handle (its resource name).
	//   - error: Non-nil if the service rejected the call.
	CreateConversation(ctx context.Context, parent string) (string, error)

	// Converse submits one query to an existing session.
	//
	// # Outputs
	//
	//   - *ConverseResult: Summary text and the session name echoed by the service.
	//   - error: Non-nil if the service rejected the call.
	Converse(ctx context.Context, req ConverseRequest) (*ConverseResult, error)
}

// SummarySpec controls summary generation for a converse call.
type SummarySpec struct {
	// ResultCount is the number of top results the summary is built from.
	ResultCount int32

	// IncludeCitations asks the service to annotate the summary with citations.
	IncludeCitations bool
}

// DefaultSummarySpec is the summary configuration used for every turn.
var DefaultSummarySpec = SummarySpec{ResultCount: 5, IncludeCitations: true}

// ConverseRequest is a single turn sent to the external service.
type ConverseRequest struct {
	Handle        string
	Query         string
	ServingConfig string
	Summary       SummarySpec
}

// ConverseResult is the part of the external response the proxy uses.
type ConverseResult struct {
	// Summary is the summary text. Empty means the service returned none.
	Summary string

	// ConversationName is the session name in the response, if any.
	ConversationName string
}

// Observer receives turn outcomes for metrics.
//
// Outcome values are "success", "error" and, for converse, "no_summary".
type Observer interface {
	ObserveSessionCreate(outcome string, elapsed time.Duration)
	ObserveConverse(outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveSessionCreate(string, time.Duration) {}
func (nopObserver) ObserveConverse(string, time.Duration)      {}

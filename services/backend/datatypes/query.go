// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the JSON request and response bodies of the
// backend API.
package datatypes

import (
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a single query.
	MaxQueryBytes = 32 * 1024

	// MaxConversationIDBytes bounds the round-tripped handle.
	MaxConversationIDBytes = 1024
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()
	if err := queryValidate.RegisterValidation("maxbytes", validateMaxBytes); err != nil {
		panic(err)
	}
	if err := queryValidate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// =============================================================================
// Query
// =============================================================================

// QueryRequest is the body of POST /api/query and POST /api/noauth.
//
// # Fields
//
//   - Query: Required. The user's message, at most 32KB. A whitespace-only
//     query is rejected on every transport.
//   - ConversationID: Optional. The handle returned by the previous turn.
//     Null, absent or "" all start a new conversation.
//
// # Examples
//
//	{"query": "hello", "conversation_id": null}
//	{"query": "again", "conversation_id": "projects/.../conversations/123"}
type QueryRequest struct {
	Query          string  `json:"query" validate:"notblank,maxbytes"`
	ConversationID *string `json:"conversation_id" validate:"omitempty,max=1024"`
}

// Validate checks the request against its validation tags.
func (r *QueryRequest) Validate() error {
	return queryValidate.Struct(r)
}

// Handle returns the conversation handle, or "" if none was sent.
func (r *QueryRequest) Handle() string {
	if r.ConversationID == nil {
		return ""
	}
	return *r.ConversationID
}

// QueryResponse is the reply to a query.
//
// ConversationID is serialized as null when no session exists, which
// tells the client to omit it on the next turn.
type QueryResponse struct {
	Reply          string  `json:"reply"`
	ConversationID *string `json:"conversation_id"`
}

// NewQueryResponse builds a response; an empty handle becomes null.
func NewQueryResponse(reply, handle string) QueryResponse {
	resp := QueryResponse{Reply: reply}
	if handle != "" {
		resp.ConversationID = &handle
	}
	return resp
}

// =============================================================================
// Echo
// =============================================================================

// JWTDetails is the undecoded and decoded form of the caller's token.
type JWTDetails struct {
	RawToken       string         `json:"raw_token"`
	DecodedHeader  map[string]any `json:"decoded_header"`
	DecodedPayload map[string]any `json:"decoded_payload"`
}

// EchoResponse is the reply to GET /api/echo.
type EchoResponse struct {
	Echo       string     `json:"echo"`
	JWTDetails JWTDetails `json:"jwt_details"`
}

// =============================================================================
// Errors
// =============================================================================

// ErrorResponse is the body of 400 and 429 responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UnauthorizedResponse is the body of every 401 response.
type UnauthorizedResponse struct {
	Detail string `json:"detail"`
}

// UnauthorizedDetail is the only message a rejected caller sees.
const UnauthorizedDetail = "Invalid or missing IAP authorization token."

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chatclient talks to the vertexchat backend on behalf of a user.
//
// A Client posts one query per call with the caller's identity token as a
// bearer header. A Session pairs a Client with a Transcript so that the
// conversation handle returned by each turn is sent back on the next.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/vertexchat/services/backend/datatypes"
)

const (
	// DefaultBaseURL is used when no backend URL is configured.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultRoute is the authenticated query route.
	DefaultRoute = "/api/query"

	// NoAuthRoute is the unauthenticated test route.
	NoAuthRoute = "/api/noauth"

	defaultTimeout = 60 * time.Second
	maxErrorBody   = 4096
)

// HTTPError reports a non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client is a backend API client. Safe for concurrent use.
type Client struct {
	baseURL    string
	route      string
	tokens     TokenSource
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithRoute overrides the query route, e.g. NoAuthRoute.
func WithRoute(route string) Option {
	return func(c *Client) {
		if route != "" {
			c.route = route
		}
	}
}

// WithHTTPClient replaces the default client (60s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a Client for baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		route:      DefaultRoute,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Query sends one turn.
//
// # Description
//
// handle is the conversation id from the previous turn, or nil to start a
// new conversation. The returned response carries the handle for the next
// turn; a null handle means the next turn starts over.
//
// # Outputs
//
//   - *datatypes.QueryResponse: the backend reply
//   - error: ErrNoToken when no identity token is available, *HTTPError
//     for non-2xx responses, or a transport error
func (c *Client) Query(ctx context.Context, query string, handle *string) (*datatypes.QueryResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(datatypes.QueryRequest{Query: query, ConversationID: handle})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.route, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var out datatypes.QueryResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Reply == "" {
		out.Reply = "No reply found."
	}
	return &out, nil
}

// Echo calls GET /api/echo, which returns text unchanged along with the
// backend's decoding of the caller's token.
func (c *Client) Echo(ctx context.Context, text string) (*datatypes.EchoResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + "/api/echo?" + url.Values{"query": {text}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var out datatypes.EchoResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// ErrNoToken means the client has no identity token and runs in local mode.
var ErrNoToken = errors.New("no identity token available")

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, typically an IAP assertion passed in by the
// hosting environment. The empty StaticToken yields ErrNoToken.
type StaticToken string

// Token returns the token or ErrNoToken.
func (s StaticToken) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// GoogleTokenSource mints Google-signed ID tokens for an audience from
// application default credentials. Tokens are cached until near expiry.
type GoogleTokenSource struct {
	audience string
	fetch    func() (string, error)
}

// NewGoogleTokenSource creates a token source for audience.
func NewGoogleTokenSource(ctx context.Context, audience string, opts ...option.ClientOption) (*GoogleTokenSource, error) {
	if audience == "" {
		return nil, fmt.Errorf("audience is required: %w", ErrNoToken)
	}
	ts, err := idtoken.NewTokenSource(ctx, audience, opts...)
	if err != nil {
		return nil, fmt.Errorf("create id token source for %s: %w", audience, err)
	}
	return &GoogleTokenSource{
		audience: audience,
		fetch: func() (string, error) {
			tok, err := ts.Token()
			if err != nil {
				return "", err
			}
			return tok.AccessToken, nil
		},
	}, nil
}

// Token fetches a cached or fresh ID token.
func (g *GoogleTokenSource) Token(_ context.Context) (string, error) {
	tok, err := g.fetch()
	if err != nil {
		return "", fmt.Errorf("fetch id token for %s: %w", g.audience, err)
	}
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// ResolveTokenSource picks the token source for the client.
//
// A non-empty assertion wins. Otherwise an ID token source is built for
// audience; if that fails (no credentials, no audience) the failure is
// logged and the empty StaticToken is returned, which puts the client in
// local mode.
func ResolveTokenSource(ctx context.Context, assertion, audience string, logger *slog.Logger) TokenSource {
	if assertion != "" {
		return StaticToken(assertion)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if audience == "" {
		logger.Info("no identity assertion or audience configured, running in local mode")
		return StaticToken("")
	}

	logger.Info("fetching identity tokens", "audience", audience)
	ts, err := NewGoogleTokenSource(ctx, audience)
	if err != nil {
		logger.Error("could not create identity token source, running in local mode", "error", err)
		return StaticToken("")
	}
	return ts
}

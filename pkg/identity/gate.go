// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/vertexchat/pkg/extensions"
)

// DefaultTrustedIssuers are the issuers of IAP assertions and Google ID tokens.
var DefaultTrustedIssuers = []string{
	"https://cloud.google.com/iap",
	"https://accounts.google.com",
	"accounts.google.com",
}

// Gate authenticates bearer tokens against a fixed audience.
//
// # Description
//
// Gate implements extensions.AuthProvider. It rejects a request when the
// token is empty, the audience is not configured, the Verifier fails,
// or the verified claims do not match the audience, a trusted issuer or
// the current time. Every rejection is logged at Warn with its reason and
// returned wrapping extensions.ErrUnauthorized.
//
// A missing audience is a rejection rather than a server error: a backend
// deployed without AUDIENCE answers 401 to every authenticated call.
//
// # Thread Safety
//
// Safe for concurrent use.
type Gate struct {
	verifier Verifier
	audience string
	issuers  map[string]struct{}
	now      func() time.Time
	logger   *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the clock used for the expiry check.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger used for rejection reasons.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// NewGate creates a Gate.
//
// An empty trustedIssuers slice disables the issuer check; the Verifier
// is then the only source of issuer policy.
func NewGate(verifier Verifier, audience string, trustedIssuers []string, opts ...GateOption) *Gate {
	g := &Gate{
		verifier: verifier,
		audience: strings.TrimSpace(audience),
		issuers:  make(map[string]struct{}, len(trustedIssuers)),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, iss := range trustedIssuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			g.issuers[iss] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Audience returns the expected audience.
func (g *Gate) Audience() string {
	return g.audience
}

// Validate authenticates the token and returns the caller's identity.
//
// The returned AuthInfo.Email is the token's email claim, or
// extensions.UnknownEmail when the claim is absent.
func (g *Gate) Validate(ctx context.Context, token string) (*extensions.AuthInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, g.reject(ctx, "missing token", nil)
	}
	if g.audience == "" {
		return nil, g.reject(ctx, "audience not configured", nil)
	}
	if g.verifier == nil {
		return nil, g.reject(ctx, "no verifier configured", nil)
	}

	claims, err := g.verifier.Verify(ctx, token, g.audience)
	if err != nil {
		return nil, g.reject(ctx, "token verification failed", err)
	}
	if !claims.HasAudience(g.audience) {
		return nil, g.reject(ctx, "audience mismatch", fmt.Errorf("got %v", claims.Audience))
	}
	if len(g.issuers) > 0 {
		if _, ok := g.issuers[claims.Issuer]; !ok {
			return nil, g.reject(ctx, "untrusted issuer", fmt.Errorf("got %q", claims.Issuer))
		}
	}
	if !claims.ExpiresAt.IsZero() && !g.now().Before(claims.ExpiresAt) {
		return nil, g.reject(ctx, "token expired", fmt.Errorf("expired at %s", claims.ExpiresAt.Format(time.RFC3339)))
	}

	email := claims.Email
	if email == "" {
		email = extensions.UnknownEmail
	}
	return &extensions.AuthInfo{
		UserID: claims.Subject,
		Email:  email,
		Issuer: claims.Issuer,
		Claims: claims.Values,
	}, nil
}

// reject logs the reason and returns an error wrapping ErrUnauthorized.
func (g *Gate) reject(ctx context.Context, reason string, cause error) error {
	if cause != nil {
		g.logger.WarnContext(ctx, "identity token rejected", "reason", reason, "error", cause)
		return fmt.Errorf("%s: %v: %w", reason, cause, extensions.ErrUnauthorized)
	}
	g.logger.WarnContext(ctx, "identity token rejected", "reason", reason)
	return fmt.Errorf("%s: %w", reason, extensions.ErrUnauthorized)
}

var _ extensions.AuthProvider = (*Gate)(nil)

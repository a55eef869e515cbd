// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// ErrEmptySecret is returned by NewSharedSecretVerifier for an empty secret.
var ErrEmptySecret = errors.New("shared secret must not be empty")

// Claims is the verified subset of an identity token the gate relies on.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	Email     string
	ExpiresAt time.Time

	// Values holds every claim in the token, including the ones above.
	Values map[string]any
}

// HasAudience reports whether aud is one of the token's audiences.
func (c *Claims) HasAudience(aud string) bool {
	for _, a := range c.Audience {
		if a == aud {
			return true
		}
	}
	return false
}

// Verifier validates a token cryptographically and returns its claims.
//
// Implementations must reject tokens that are malformed, carry an invalid
// signature, are expired, or were not minted for the given audience.
type Verifier interface {
	Verify(ctx context.Context, token, audience string) (*Claims, error)
}

// =============================================================================
// Google
// =============================================================================

// GoogleVerifier validates Google-signed ID tokens and IAP assertions.
//
// Signing keys are fetched from Google's certificate endpoints and cached
// by the underlying idtoken.Validator according to their cache headers.
type GoogleVerifier struct {
	validator *idtoken.Validator
}

// NewGoogleVerifier creates a GoogleVerifier.
//
// # Inputs
//
//   - ctx: used only while constructing the HTTP client for key fetches.
//   - opts: client options, e.g. option.WithHTTPClient in tests.
//
// # Outputs
//
//   - *GoogleVerifier: ready for concurrent use.
//   - error: if the validator cannot be constructed.
func NewGoogleVerifier(ctx context.Context, opts ...option.ClientOption) (*GoogleVerifier, error) {
	v, err := idtoken.NewValidator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create id token validator: %w", err)
	}
	return &GoogleVerifier{validator: v}, nil
}

// Verify validates the token against Google's keys and the audience.
func (g *GoogleVerifier) Verify(ctx context.Context, token, audience string) (*Claims, error) {
	payload, err := g.validator.Validate(ctx, token, audience)
	if err != nil {
		return nil, fmt.Errorf("validate id token: %w", err)
	}
	return claimsFromPayload(payload), nil
}

func claimsFromPayload(p *idtoken.Payload) *Claims {
	c := &Claims{
		Issuer:   p.Issuer,
		Subject:  p.Subject,
		Audience: []string{p.Audience},
		Values:   p.Claims,
	}
	if p.Expires > 0 {
		c.ExpiresAt = time.Unix(p.Expires, 0)
	}
	if c.Values == nil {
		c.Values = map[string]any{}
	}
	if email, ok := c.Values["email"].(string); ok {
		c.Email = email
	}
	return c
}

// =============================================================================
// Shared Secret
// =============================================================================

// SharedSecretVerifier validates HS256 tokens signed with a shared secret.
//
// It exists for running the backend without an identity-aware proxy in
// front of it. Tokens must carry exp and a matching aud.
type SharedSecretVerifier struct {
	secret []byte
}

// NewSharedSecretVerifier creates a SharedSecretVerifier.
func NewSharedSecretVerifier(secret string) (*SharedSecretVerifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &SharedSecretVerifier{secret: []byte(secret)}, nil
}

// Verify parses and validates the token.
func (s *SharedSecretVerifier) Verify(_ context.Context, token, audience string) (*Claims, error) {
	mc := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, mc,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	c := &Claims{Values: map[string]any(mc)}
	c.Issuer, _ = mc.GetIssuer()
	c.Subject, _ = mc.GetSubject()
	if aud, err := mc.GetAudience(); err == nil {
		c.Audience = aud
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if email, ok := mc["email"].(string); ok {
		c.Email = email
	}
	return c, nil
}

// Sign mints an HS256 token for the given claims. Used by local tooling
// to produce tokens this verifier accepts.
func (s *SharedSecretVerifier) Sign(claims jwt.MapClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

var (
	_ Verifier = (*GoogleVerifier)(nil)
	_ Verifier = (*SharedSecretVerifier)(nil)
)

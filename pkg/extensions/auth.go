// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when authentication fails.
// Implementations wrap it with the specific reason:
//
//	return nil, fmt.Errorf("audience mismatch: %w", extensions.ErrUnauthorized)
//
// Callers compare with errors.Is and must not forward the wrapped reason
// to the client.
var ErrUnauthorized = errors.New("unauthorized")

// UnknownEmail is the identity reported for a verified token that does
// not carry an email claim.
const UnknownEmail = "unknown_email"

// AuthInfo contains identity information returned after successful authentication.
type AuthInfo struct {
	// UserID is the token subject. May be empty for synthetic identities.
	UserID string

	// Email is the caller identity used by handlers and logs.
	// Never empty: providers substitute UnknownEmail when the claim is absent.
	Email string

	// Issuer is the token issuer that vouched for this identity.
	Issuer string

	// Claims holds the full verified claim set for display and auditing.
	Claims map[string]any
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation (key fetches may block)
	//   - token: The raw bearer token, without the "Bearer " prefix
	//
	// Returns:
	//   - *AuthInfo: identity if valid
	//   - error: wrapping ErrUnauthorized if the token is rejected
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// StaticAuthProvider accepts any token and returns a fixed identity.
//
// It backs the unauthenticated test route, where the backend is exercised
// with curl and no identity-aware proxy sits in front of it.
type StaticAuthProvider struct {
	Email string
}

// Validate ignores the token and returns the configured identity.
func (p *StaticAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	email := p.Email
	if email == "" {
		email = UnknownEmail
	}
	return &AuthInfo{UserID: email, Email: email}, nil
}

// DenyAllAuthProvider rejects every token.
type DenyAllAuthProvider struct{}

// Validate always fails with ErrUnauthorized.
func (p *DenyAllAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return nil, fmt.Errorf("no auth provider configured: %w", ErrUnauthorized)
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider = (*StaticAuthProvider)(nil)
	_ AuthProvider = (*DenyAllAuthProvider)(nil)
)

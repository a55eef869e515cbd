// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable seams of the vertexchat backend.
//
// The backend never talks to an identity provider or an audit sink
// directly. It is handed implementations of the interfaces in this
// package through ServiceOptions and calls them from its middleware and
// handlers:
//
//   - auth.go: caller authentication (AuthProvider)
//   - audit.go: security event logging (AuditLogger)
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(identity.NewGate(verifier, audience, issuers)).
//	    WithAudit(extensions.NewSlogAuditLogger(slog.Default()))
//	svc, err := backend.New(cfg, &opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
// Multiple request goroutines call them simultaneously.
package extensions

// ServiceOptions groups the extension points for the backend service.
//
// Nil fields are replaced with safe defaults by the service constructor.
// The default AuthProvider rejects every token, so a backend built
// without an explicit provider cannot be reached on authenticated routes.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens on authenticated routes.
	// Default: DenyAllAuthProvider
	AuthProvider AuthProvider

	// AuditLogger records authentication and conversation events.
	// Default: NopAuditLogger
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with the default implementations.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &DenyAllAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package identity authenticates callers from identity tokens injected by
// an identity-aware reverse proxy.
//
// # Overview
//
// The package has three parts:
//
//   - Verifier: checks a token's signature, expiry and audience and returns
//     its claims. GoogleVerifier uses Google's published keys;
//     SharedSecretVerifier checks HS256 tokens for local development.
//   - Gate: an extensions.AuthProvider that runs a Verifier, applies the
//     audience and issuer policy, and reduces the claims to an email identity.
//   - Introspect: decodes a token's header and payload for display only.
//
// # Failure Policy
//
// Every rejection wraps extensions.ErrUnauthorized. The specific reason is
// logged by the Gate and carried in the error chain for server-side use;
// HTTP handlers must answer with a generic message.
//
// # Thread Safety
//
// Gate, GoogleVerifier and SharedSecretVerifier are immutable after
// construction and safe for concurrent use.
package identity

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"
)

func TestSharedSecretVerifier_Verify(t *testing.T) {
	v, err := NewSharedSecretVerifier(testSecret)
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	token, err := v.Sign(jwt.MapClaims{
		"iss":   testIssuer,
		"sub":   "user-1",
		"aud":   []string{testAudience, "secondary"},
		"email": "carol@example.com",
		"exp":   exp.Unix(),
		"hd":    "example.com",
	})
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), token, testAudience)

	require.NoError(t, err)
	assert.Equal(t, testIssuer, claims.Issuer)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "carol@example.com", claims.Email)
	assert.True(t, claims.HasAudience("secondary"))
	assert.True(t, exp.Equal(claims.ExpiresAt))
	assert.Equal(t, "example.com", claims.Values["hd"])
}

func TestSharedSecretVerifier_RejectsOtherAlgorithms(t *testing.T) {
	v, err := NewSharedSecretVerifier(testSecret)
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims()).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token, testAudience)
	assert.Error(t, err)
}

func TestClaimsFromPayload(t *testing.T) {
	p := &idtoken.Payload{
		Issuer:   testIssuer,
		Audience: testAudience,
		Expires:  1700000000,
		Subject:  "sub-1",
		Claims:   map[string]interface{}{"email": "dave@example.com"},
	}

	c := claimsFromPayload(p)

	assert.Equal(t, testIssuer, c.Issuer)
	assert.Equal(t, "sub-1", c.Subject)
	assert.Equal(t, "dave@example.com", c.Email)
	assert.True(t, c.HasAudience(testAudience))
	assert.Equal(t, int64(1700000000), c.ExpiresAt.Unix())
}

func TestClaimsFromPayload_NoClaims(t *testing.T) {
	c := claimsFromPayload(&idtoken.Payload{Audience: "a"})

	assert.NotNil(t, c.Values)
	assert.Empty(t, c.Email)
	assert.True(t, c.ExpiresAt.IsZero())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vertexchat/pkg/extensions"
	"github.com/AleutianAI/vertexchat/pkg/identity"
	"github.com/AleutianAI/vertexchat/services/backend/conversation"
	"github.com/AleutianAI/vertexchat/services/backend/datatypes"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret   = "backend-test-secret"
	testAudience = "/projects/1/global/backendServices/2"
)

type stubSearch struct {
	mu      sync.Mutex
	creates int
}

func (s *stubSearch) CreateConversation(_ context.Context, parent string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	return fmt.Sprintf("%s/conversations/c%d", parent, s.creates), nil
}

func (s *stubSearch) Converse(_ context.Context, req conversation.ConverseRequest) (*conversation.ConverseResult, error) {
	return &conversation.ConverseResult{Summary: "summary for " + req.Query, ConversationName: req.Handle}, nil
}

func testConfig() Config {
	return Config{
		ProjectNumber:   "123",
		DataStoreID:     "ds",
		Audience:        testAudience,
		DevSharedSecret: testSecret,
		NoAuthEnabled:   true,
		LogWriter:       io.Discard,
		MetricExporter:  "none",
		GinMode:         gin.TestMode,
	}
}

func newTestService(t *testing.T, cfg Config) (Service, *stubSearch) {
	t.Helper()
	search := &stubSearch{}
	svc, err := New(context.Background(), cfg, nil, search)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc, search
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signer, err := identity.NewSharedSecretVerifier(testSecret)
	require.NoError(t, err)
	tok, err := signer.Sign(claims)
	require.NoError(t, err)
	return tok
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "https://cloud.google.com/iap",
		"aud":   testAudience,
		"sub":   "user-1",
		"email": "alice@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func postQuery(t *testing.T, router http.Handler, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_MissingResourceIsConfigurationError(t *testing.T) {
	cfg := testConfig()
	cfg.ProjectNumber = ""
	cfg.DataStoreID = ""

	_, err := New(context.Background(), cfg, nil, &stubSearch{})

	var cfgErr *conversation.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Missing, "project")
	assert.Contains(t, cfgErr.Missing, "datastore")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "loud"

	_, err := New(context.Background(), cfg, nil, &stubSearch{})
	assert.Error(t, err)
}

func TestNew_UnknownExporter(t *testing.T) {
	cfg := testConfig()
	cfg.TraceExporter = "zipkin"

	_, err := New(context.Background(), cfg, nil, &stubSearch{})
	assert.Error(t, err)
}

// =============================================================================
// Request Flow Tests
// =============================================================================

func TestService_AuthenticatedConversation(t *testing.T) {
	svc, search := newTestService(t, testConfig())
	token := signToken(t, validClaims())

	w := postQuery(t, svc.Router(), "/api/query", token, map[string]any{"query": "What is IAP?"})
	require.Equal(t, http.StatusOK, w.Code)

	var first datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.NotNil(t, first.ConversationID)
	assert.Equal(t, "summary for What is IAP?", first.Reply)

	w = postQuery(t, svc.Router(), "/api/query", token, map[string]any{
		"query":           "and then?",
		"conversation_id": *first.ConversationID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var second datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, *first.ConversationID, *second.ConversationID)
	assert.Equal(t, 1, search.creates)
}

func TestService_RejectsBadTokens(t *testing.T) {
	svc, search := newTestService(t, testConfig())

	wrongAud := validClaims()
	wrongAud["aud"] = "someone-else"
	untrusted := validClaims()
	untrusted["iss"] = "https://evil.example"

	for name, token := range map[string]string{
		"missing":  "",
		"garbage":  "not-a-jwt",
		"audience": signToken(t, wrongAud),
		"issuer":   signToken(t, untrusted),
	} {
		t.Run(name, func(t *testing.T) {
			w := postQuery(t, svc.Router(), "/api/query", token, map[string]any{"query": "hi"})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"detail":"Invalid or missing IAP authorization token."}`, w.Body.String())
		})
	}
	assert.Zero(t, search.creates)
}

func TestService_EmptyAudienceRejectsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.Audience = ""
	svc, _ := newTestService(t, cfg)

	w := postQuery(t, svc.Router(), "/api/query", signToken(t, validClaims()), map[string]any{"query": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestService_NoAuthRoute(t *testing.T) {
	svc, _ := newTestService(t, testConfig())

	w := postQuery(t, svc.Router(), "/api/noauth", "", map[string]any{"query": "curl test"})
	assert.Equal(t, http.StatusOK, w.Code)

	cfg := testConfig()
	cfg.NoAuthEnabled = false
	disabled, _ := newTestService(t, cfg)
	w = postQuery(t, disabled.Router(), "/api/noauth", "", map[string]any{"query": "curl test"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestService_NoAuthRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.NoAuthRateLimit = 0.001
	cfg.NoAuthRateBurst = 1
	svc, _ := newTestService(t, cfg)

	w := postQuery(t, svc.Router(), "/api/noauth", "", map[string]any{"query": "one"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = postQuery(t, svc.Router(), "/api/noauth", "", map[string]any{"query": "two"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestService_CustomOptions(t *testing.T) {
	ext := extensions.DefaultOptions().WithAuth(&extensions.StaticAuthProvider{Email: "ops@example.com"})
	svc, err := New(context.Background(), testConfig(), &ext, &stubSearch{})
	require.NoError(t, err)
	defer func() { _ = svc.Close(context.Background()) }()

	w := postQuery(t, svc.Router(), "/api/query", "anything", map[string]any{"query": "hi"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestService_HealthAndMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.MetricExporter = "prometheus"
	svc, _ := newTestService(t, cfg)

	postQuery(t, svc.Router(), "/api/noauth", "", map[string]any{"query": "count me"})

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "vertexchat_conversation_turns_total")
	assert.Contains(t, body, "go_goroutines")
	assert.True(t, strings.Contains(body, "http_server_requests"), "otel http metrics exported")
}

func TestService_LogDirWritesServiceLog(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.LogDir = dir
	svc, err := New(context.Background(), cfg, nil, &stubSearch{})
	require.NoError(t, err)

	svc.Logger().Info("log dir check", "component", "test")
	w := postQuery(t, svc.Router(), "/api/noauth", "", map[string]any{"query": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, svc.Close(context.Background()))

	files, err := filepath.Glob(filepath.Join(dir, "backend_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"log dir check"`)
	assert.Contains(t, string(raw), `"path":"/api/noauth"`)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestService_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Port = freePort(t)
	search := &stubSearch{}
	svc, err := New(context.Background(), cfg, nil, search)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()
	var port int
	_, err := fmt.Sscanf(addr[strings.LastIndex(addr, ":")+1:], "%d", &port)
	require.NoError(t, err)
	return port
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vertexchat/pkg/chatclient"
	"github.com/AleutianAI/vertexchat/pkg/identity"
	"github.com/AleutianAI/vertexchat/pkg/logging"
	"github.com/AleutianAI/vertexchat/pkg/ux"
	"github.com/AleutianAI/vertexchat/services/backend/datatypes"
)

func TestAsk(t *testing.T) {
	fb, srv := newFakeBackend(t)
	machineMode(t)

	t.Run("new conversation", func(t *testing.T) {
		var out bytes.Buffer
		session := chatclient.NewSession(chatclient.New(srv.URL, chatclient.StaticToken("tok")), nil)

		err := ask(context.Background(), session, ux.NewChatUIWithWriter(&out, ux.PersonalityMachine), "What is IAP?")
		require.NoError(t, err)
		assert.Equal(t, "RESPONSE: echo: What is IAP?\nNOTICE: conversation_id: "+testConversation+"\n", out.String())
	})

	t.Run("continued conversation", func(t *testing.T) {
		session := chatclient.NewSession(chatclient.New(srv.URL, chatclient.StaticToken("tok")), nil)
		handle := "projects/123/conversations/7"
		session.Transcript().SetHandle(&handle)

		require.NoError(t, ask(context.Background(), session, ux.NewChatUIWithWriter(io.Discard, ux.PersonalityMachine), "more"))
		last := fb.requests[len(fb.requests)-1]
		require.NotNil(t, last.ConversationID)
		assert.Equal(t, handle, *last.ConversationID)
	})

	t.Run("backend failure is returned", func(t *testing.T) {
		fb.status = http.StatusUnauthorized
		t.Cleanup(func() { fb.status = 0 })

		var out bytes.Buffer
		session := chatclient.NewSession(chatclient.New(srv.URL, chatclient.StaticToken("tok")), nil)
		err := ask(context.Background(), session, ux.NewChatUIWithWriter(&out, ux.PersonalityMachine), "hi")
		require.Error(t, err)
		assert.True(t, chatclient.IsUnauthorized(err))
		assert.Contains(t, out.String(), "CHAT_ERROR: ")
	})

	t.Run("local mode", func(t *testing.T) {
		var out bytes.Buffer
		session := chatclient.NewSession(chatclient.New(srv.URL, chatclient.StaticToken("")), nil)
		require.NoError(t, ask(context.Background(), session, ux.NewChatUIWithWriter(&out, ux.PersonalityMachine), "hi"))
		assert.Contains(t, out.String(), "RESPONSE: I am in local mode. I cannot connect to the backend.")
	})
}

func TestShowToken(t *testing.T) {
	t.Run("decodes claims", func(t *testing.T) {
		var out bytes.Buffer
		token := signedToken(t, "bob@example.com")
		require.NoError(t, showToken(context.Background(), chatclient.StaticToken(token),
			ux.NewChatUIWithWriter(&out, ux.PersonalityMachine)))
		assert.Contains(t, out.String(), "TOKEN: "+token)
		assert.Contains(t, out.String(), `TOKEN_HEADER: {"alg":"HS256","typ":"JWT"}`)
		assert.Contains(t, out.String(), `"email":"bob@example.com"`)
	})

	t.Run("no token", func(t *testing.T) {
		var out bytes.Buffer
		err := showToken(context.Background(), chatclient.StaticToken(""),
			ux.NewChatUIWithWriter(&out, ux.PersonalityMachine))
		assert.ErrorIs(t, err, chatclient.ErrNoToken)
		assert.Contains(t, out.String(), "local mode")
	})
}

func TestChatEnvHeader(t *testing.T) {
	newEnv := func(tokens chatclient.TokenSource) *chatEnv {
		return &chatEnv{
			settings: settings{ChatConfig: ChatConfig{Route: chatclient.NoAuthRoute}},
			tokens:   tokens,
			client:   chatclient.New("http://backend:8000", tokens),
			logger:   logging.New(logging.Config{Quiet: true}),
		}
	}

	h := newEnv(chatclient.StaticToken(signedToken(t, "carol@example.com"))).header(context.Background())
	assert.Equal(t, "http://backend:8000", h.BackendURL)
	assert.Equal(t, "/api/noauth", h.Route)
	assert.Equal(t, "carol@example.com", h.Identity)
	assert.False(t, h.LocalMode)

	h = newEnv(chatclient.StaticToken("")).header(context.Background())
	assert.True(t, h.LocalMode)
	assert.Empty(t, h.Identity)
}

func TestShowRemoteToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")[len("Bearer "):]
		header, payload := identity.Introspect(raw)
		_ = json.NewEncoder(w).Encode(datatypes.EchoResponse{
			Echo:       r.URL.Query().Get("query"),
			JWTDetails: datatypes.JWTDetails{RawToken: raw, DecodedHeader: header, DecodedPayload: payload},
		})
	}))
	t.Cleanup(srv.Close)

	token := signedToken(t, "dave@example.com")
	var out bytes.Buffer
	ui := ux.NewChatUIWithWriter(&out, ux.PersonalityMachine)

	require.NoError(t, showRemoteToken(context.Background(), chatclient.New(srv.URL, chatclient.StaticToken(token)), ui))
	assert.Contains(t, out.String(), "TOKEN: "+token)
	assert.Contains(t, out.String(), `"email":"dave@example.com"`)

	out.Reset()
	err := showRemoteToken(context.Background(), chatclient.New(srv.URL, chatclient.StaticToken("")), ui)
	assert.ErrorIs(t, err, chatclient.ErrNoToken)
	assert.Contains(t, out.String(), "local mode")
}

func TestSetup_LogDirWritesClientLog(t *testing.T) {
	machineMode(t)
	prevFlags, prevLogger := flags, slog.Default()
	t.Cleanup(func() {
		flags = prevFlags
		slog.SetDefault(prevLogger)
	})

	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")
	flags = chatFlags{
		configPath:  filepath.Join(dir, "chat.yaml"),
		backendURL:  "http://127.0.0.1:1",
		token:       "static-token",
		personality: "machine",
		logLevel:    "info",
		logDir:      logDir,
	}

	env, err := setup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, logDir, env.settings.LogDir)
	env.logger.Info("client log check")
	require.NoError(t, env.logger.Close())

	files, err := filepath.Glob(filepath.Join(logDir, "chat_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "client log check")
}

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
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vertexchat/pkg/chatclient"
	"github.com/AleutianAI/vertexchat/pkg/ux"
	"github.com/AleutianAI/vertexchat/services/backend/datatypes"
)

const testConversation = "projects/123/locations/global/collections/default_collection/dataStores/ds/conversations/42"

// fakeBackend answers /api/query with "echo: <query>" and a fixed handle.
type fakeBackend struct {
	mu       sync.Mutex
	requests []datatypes.QueryRequest
	auth     []string
	status   int
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req datatypes.QueryRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.requests = append(f.requests, req)
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"detail":"Invalid or missing IAP authorization token."}`))
		return
	}
	conv := testConversation
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(datatypes.QueryResponse{Reply: "echo: " + req.Query, ConversationID: &conv})
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{}
	mux := http.NewServeMux()
	mux.Handle("/api/query", fb)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fb, srv
}

// fakeArchiver records archived transcripts.
type fakeArchiver struct {
	data   [][]byte
	err    error
	closed bool
}

func (a *fakeArchiver) Archive(_ context.Context, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.data = append(a.data, data)
	return "gs://bucket/transcripts/test.json", nil
}

func (a *fakeArchiver) Close() error {
	a.closed = true
	return nil
}

func machineMode(t *testing.T) {
	t.Helper()
	prev := ux.GetPersonality()
	ux.SetPersonalityLevel(ux.PersonalityMachine)
	t.Cleanup(func() { ux.SetPersonality(prev) })
}

func signedToken(t *testing.T, email string) string {
	t.Helper()
	claims := jwt.MapClaims{"aud": "test-audience", "exp": time.Now().Add(time.Hour).Unix()}
	if email != "" {
		claims["email"] = email
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return raw
}

type runnerFixture struct {
	backend  *fakeBackend
	out      *bytes.Buffer
	archiver *fakeArchiver
	session  *chatclient.Session
	runner   ChatRunner
}

func newRunnerFixture(t *testing.T, tokens chatclient.TokenSource, inputs ...string) *runnerFixture {
	t.Helper()
	machineMode(t)
	fb, srv := newFakeBackend(t)

	f := &runnerFixture{backend: fb, out: &bytes.Buffer{}, archiver: &fakeArchiver{}}
	f.session = chatclient.NewSession(chatclient.New(srv.URL, tokens), nil)
	f.runner = NewChatRunner(ChatRunnerConfig{
		Session:  f.session,
		Tokens:   tokens,
		UI:       ux.NewChatUIWithWriter(f.out, ux.PersonalityMachine),
		Reader:   NewMockInputReader(inputs),
		Archiver: f.archiver,
		Header:   ux.HeaderConfig{BackendURL: srv.URL, Route: chatclient.DefaultRoute},
	})
	return f
}

func TestChatRunner_TurnsKeepHandle(t *testing.T) {
	f := newRunnerFixture(t, chatclient.StaticToken(signedToken(t, "alice@example.com")),
		"What is IAP?", "", "And Vertex AI Search?", "exit", "never read")

	require.NoError(t, f.runner.Run(context.Background()))

	require.Len(t, f.backend.requests, 2)
	assert.Nil(t, f.backend.requests[0].ConversationID)
	require.NotNil(t, f.backend.requests[1].ConversationID)
	assert.Equal(t, testConversation, *f.backend.requests[1].ConversationID)
	assert.True(t, strings.HasPrefix(f.backend.auth[0], "Bearer "))

	out := f.out.String()
	assert.Contains(t, out, "CHAT_START: backend=")
	assert.Contains(t, out, "RESPONSE: Hello! How can I help you today?\n")
	assert.Contains(t, out, "RESPONSE: echo: What is IAP?\n")
	assert.Contains(t, out, "RESPONSE: echo: And Vertex AI Search?\n")
	assert.Contains(t, out, "CHAT_END: turns=2 errors=0")
	assert.Contains(t, out, "conversation="+testConversation)
}

func TestChatRunner_LocalMode(t *testing.T) {
	f := newRunnerFixture(t, chatclient.StaticToken(""), "hello")

	require.NoError(t, f.runner.Run(context.Background()))

	assert.Empty(t, f.backend.requests)
	out := f.out.String()
	assert.Contains(t, out, "local mode")
	assert.Contains(t, out, "RESPONSE: I am in local mode. I cannot connect to the backend.\n")
	assert.Contains(t, out, "CHAT_END: turns=1 errors=0")
}

func TestChatRunner_BackendError(t *testing.T) {
	f := newRunnerFixture(t, chatclient.StaticToken("bad-token"), "hello")
	f.backend.status = http.StatusUnauthorized

	require.NoError(t, f.runner.Run(context.Background()))

	out := f.out.String()
	assert.Contains(t, out, "CHAT_ERROR: ")
	assert.Contains(t, out, "RESPONSE: An error occurred. Please check the details above.\n")
	assert.Contains(t, out, "CHAT_END: turns=1 errors=1")
}

func TestChatRunner_Commands(t *testing.T) {
	token := signedToken(t, "alice@example.com")
	f := newRunnerFixture(t, chatclient.StaticToken(token),
		"/help", "/token", "first question", "/save", "/reset", "after reset", "quit")

	require.NoError(t, f.runner.Run(context.Background()))
	require.NoError(t, f.runner.Close())
	assert.True(t, f.archiver.closed)

	out := f.out.String()
	assert.Contains(t, out, "COMMAND: /save\t")
	assert.Contains(t, out, "TOKEN: "+token+"\n")
	assert.Contains(t, out, `"email":"alice@example.com"`)
	assert.Contains(t, out, "NOTICE: Transcript saved to gs://bucket/transcripts/test.json")
	assert.Contains(t, out, "NOTICE: Started a new conversation.")

	require.Len(t, f.archiver.data, 1)
	assert.Contains(t, string(f.archiver.data[0]), "first question")
	assert.Contains(t, string(f.archiver.data[0]), testConversation)

	require.Len(t, f.backend.requests, 2)
	assert.Nil(t, f.backend.requests[1].ConversationID, "reset drops the handle")
}

func TestChatRunner_SaveWithoutArchiver(t *testing.T) {
	machineMode(t)
	var out bytes.Buffer
	session := chatclient.NewSession(chatclient.New("http://unused", chatclient.StaticToken("")), nil)
	runner := NewChatRunner(ChatRunnerConfig{
		Session: session,
		Tokens:  chatclient.StaticToken(""),
		UI:      ux.NewChatUIWithWriter(&out, ux.PersonalityMachine),
		Reader:  NewMockInputReader([]string{"/save", "/token"}),
	})

	require.NoError(t, runner.Run(context.Background()))
	require.NoError(t, runner.Close())

	assert.Contains(t, out.String(), "NOTICE: No transcript bucket configured")
	assert.Contains(t, out.String(), "local mode")
}

func TestChatRunner_SaveFailure(t *testing.T) {
	f := newRunnerFixture(t, chatclient.StaticToken("tok"), "/save")
	f.archiver.err = errors.New("permission denied")

	require.NoError(t, f.runner.Run(context.Background()))
	assert.Contains(t, f.out.String(), "NOTICE: Could not save transcript: permission denied")
}

func TestChatRunner_StopsOnCancelledContext(t *testing.T) {
	f := newRunnerFixture(t, chatclient.StaticToken("tok"), "hello")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.runner.Run(ctx))
	assert.Empty(t, f.backend.requests)
	assert.Contains(t, f.out.String(), "CHAT_END: turns=0")
}

type errReader struct{}

func (errReader) ReadLine() (string, error) { return "", errors.New("terminal gone") }

func TestChatRunner_ReadError(t *testing.T) {
	machineMode(t)
	session := chatclient.NewSession(chatclient.New("http://unused", chatclient.StaticToken("")), nil)
	runner := NewChatRunner(ChatRunnerConfig{
		Session: session,
		Tokens:  chatclient.StaticToken(""),
		UI:      ux.NewChatUIWithWriter(&bytes.Buffer{}, ux.PersonalityMachine),
		Reader:  errReader{},
	})

	assert.ErrorContains(t, runner.Run(context.Background()), "terminal gone")
}

// promptingReader records the prompt it was given.
type promptingReader struct {
	*MockInputReader
	prompt string
}

func (p *promptingReader) SetPrompt(prompt string) { p.prompt = prompt }

func TestChatRunner_Prompt(t *testing.T) {
	machineMode(t)
	session := chatclient.NewSession(chatclient.New("http://unused", chatclient.StaticToken("")), nil)

	t.Run("prompting reader draws its own", func(t *testing.T) {
		var promptOut bytes.Buffer
		reader := &promptingReader{MockInputReader: NewMockInputReader([]string{"exit"})}
		runner := NewChatRunner(ChatRunnerConfig{
			Session:      session,
			Tokens:       chatclient.StaticToken(""),
			UI:           ux.NewChatUIWithWriter(&bytes.Buffer{}, ux.PersonalityMachine),
			Reader:       reader,
			PromptWriter: &promptOut,
		})
		require.NoError(t, runner.Run(context.Background()))
		assert.Equal(t, "> ", reader.prompt)
		assert.Empty(t, promptOut.String())
	})

	t.Run("plain reader gets printed prompt", func(t *testing.T) {
		var promptOut bytes.Buffer
		runner := NewChatRunner(ChatRunnerConfig{
			Session:      session,
			Tokens:       chatclient.StaticToken(""),
			UI:           ux.NewChatUIWithWriter(&bytes.Buffer{}, ux.PersonalityMachine),
			Reader:       NewMockInputReader([]string{"exit"}),
			PromptWriter: &promptOut,
		})
		require.NoError(t, runner.Run(context.Background()))
		assert.Equal(t, "> ", promptOut.String())
	})
}

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
	"log/slog"
)

// Turn is the outcome of one Session.Send.
type Turn struct {
	// Reply is what the assistant says, already appended to the transcript.
	Reply string

	// LocalMode is true when no identity token was available.
	LocalMode bool

	// Err is the backend failure behind an ErrorReply, if any.
	Err error
}

// Session runs turns against the backend and records them in a Transcript.
type Session struct {
	client     *Client
	transcript *Transcript
	logger     *slog.Logger
}

// NewSession creates a session with a fresh transcript.
func NewSession(client *Client, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{client: client, transcript: NewTranscript(), logger: logger}
}

// Transcript returns the session transcript.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// Send records text, runs one turn and records the reply.
//
// The handle returned by the backend replaces the stored one, including a
// null handle after a failed session creation. On a transport or HTTP
// failure the stored handle is kept and Turn.Err is set.
func (s *Session) Send(ctx context.Context, text string) Turn {
	s.transcript.AddUser(text)

	resp, err := s.client.Query(ctx, text, s.transcript.Handle())
	var turn Turn
	switch {
	case errors.Is(err, ErrNoToken):
		turn = Turn{Reply: LocalModeReply, LocalMode: true}
	case err != nil:
		s.logger.Error("backend request failed", "url", s.client.BaseURL(), "error", err)
		turn = Turn{Reply: ErrorReply, Err: err}
	default:
		s.transcript.SetHandle(resp.ConversationID)
		s.logger.Debug("conversation handle updated", "has_conversation", resp.ConversationID != nil)
		turn = Turn{Reply: resp.Reply}
	}

	s.transcript.AddAssistant(turn.Reply)
	return turn
}

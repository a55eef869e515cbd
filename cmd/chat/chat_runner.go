// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

// Chat runner architecture:
//
//	runChat (cobra)
//	    │
//	    ▼
//	ChatRunner.Run ──► InputReader.ReadLine ──► command or turn
//	    │                                          │
//	    │                         /token /reset /save /help exit
//	    ▼                                          ▼
//	ux.ChatUI (render)                  chatclient.Session.Send

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/vertexchat/pkg/chatclient"
	"github.com/AleutianAI/vertexchat/pkg/identity"
	"github.com/AleutianAI/vertexchat/pkg/ux"
)

// ChatRunner drives one interactive chat session.
type ChatRunner interface {
	// Run reads input until exit, EOF or ctx cancellation.
	Run(ctx context.Context) error

	// Close releases the archiver. Call after Run returns.
	Close() error
}

// ChatRunnerConfig groups what a chat session needs.
//
// # Fields
//
//   - Session: required, runs turns and owns the transcript
//   - Tokens: required, the same source the session's client uses
//   - UI: required
//   - Reader: required
//   - Archiver: optional, nil disables /save
//   - Header: shown once at start
//   - PromptWriter: where the prompt goes for readers that do not draw
//     their own; nil prints no prompt
//   - Logger: optional
type ChatRunnerConfig struct {
	Session      *chatclient.Session
	Tokens       chatclient.TokenSource
	UI           ux.ChatUI
	Reader       InputReader
	Archiver     TranscriptArchiver
	Header       ux.HeaderConfig
	PromptWriter io.Writer
	Logger       *slog.Logger
}

type chatRunner struct {
	cfg    ChatRunnerConfig
	logger *slog.Logger
	now    func() time.Time

	turns  int
	errors int
}

// NewChatRunner creates a ChatRunner from cfg.
func NewChatRunner(cfg ChatRunnerConfig) ChatRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &chatRunner{cfg: cfg, logger: logger, now: time.Now}
}

func (r *chatRunner) Run(ctx context.Context) error {
	start := r.now()
	ui := r.cfg.UI

	ui.Header(r.cfg.Header)
	for _, m := range r.cfg.Session.Transcript().Messages() {
		if m.Role == chatclient.RoleAssistant {
			ui.Assistant(m.Content)
		}
	}

loop:
	for ctx.Err() == nil {
		line, err := r.readLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		switch {
		case line == "":
			continue
		case isExitCommand(line):
			break loop
		case line == "/help":
			ui.Help()
		case line == "/token":
			r.showToken(ctx)
		case line == "/reset":
			r.cfg.Session.Transcript().Reset()
			ui.Notice("Started a new conversation.")
			ui.Assistant(chatclient.Greeting)
		case line == "/save":
			r.save(ctx)
		default:
			r.turn(ctx, line)
		}
	}

	ui.SessionEnd(ux.SessionStats{
		Turns:          r.turns,
		Errors:         r.errors,
		Duration:       r.now().Sub(start),
		ConversationID: r.cfg.Session.Transcript().Handle(),
	})
	return nil
}

func (r *chatRunner) readLine() (string, error) {
	prompt := r.cfg.UI.Prompt()
	if p, ok := r.cfg.Reader.(PromptingInputReader); ok {
		p.SetPrompt(prompt)
	} else if r.cfg.PromptWriter != nil {
		_, _ = fmt.Fprint(r.cfg.PromptWriter, prompt)
	}
	return r.cfg.Reader.ReadLine()
}

func (r *chatRunner) turn(ctx context.Context, text string) {
	var t chatclient.Turn
	_ = ux.WithSpinner("Thinking...", func() error {
		t = r.cfg.Session.Send(ctx, text)
		return nil
	})

	r.turns++
	if t.LocalMode {
		r.cfg.UI.LocalMode()
	}
	if t.Err != nil {
		r.errors++
		r.cfg.UI.Error(t.Err)
	}
	r.cfg.UI.Assistant(t.Reply)
}

func (r *chatRunner) showToken(ctx context.Context) {
	raw, err := r.cfg.Tokens.Token(ctx)
	if errors.Is(err, chatclient.ErrNoToken) {
		r.cfg.UI.LocalMode()
		return
	}
	if err != nil {
		r.cfg.UI.Notice(fmt.Sprintf("Could not fetch identity token: %v", err))
		return
	}
	header, payload := identity.Introspect(raw)
	r.cfg.UI.TokenDetails(raw, header, payload)
}

func (r *chatRunner) save(ctx context.Context) {
	if r.cfg.Archiver == nil {
		r.cfg.UI.Notice("No transcript bucket configured (use --bucket or TRANSCRIPT_BUCKET).")
		return
	}
	data, err := r.cfg.Session.Transcript().Export()
	if err != nil {
		r.cfg.UI.Notice(fmt.Sprintf("Could not export transcript: %v", err))
		return
	}
	loc, err := r.cfg.Archiver.Archive(ctx, data)
	if err != nil {
		r.logger.Error("transcript upload failed", "error", err)
		r.cfg.UI.Notice(fmt.Sprintf("Could not save transcript: %v", err))
		return
	}
	r.cfg.UI.Notice("Transcript saved to " + loc)
}

func (r *chatRunner) Close() error {
	if r.cfg.Archiver == nil {
		return nil
	}
	return r.cfg.Archiver.Close()
}

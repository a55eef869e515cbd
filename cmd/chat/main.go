// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command chat is a terminal client for the conversation backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vertexchat/pkg/chatclient"
	"github.com/AleutianAI/vertexchat/pkg/identity"
	"github.com/AleutianAI/vertexchat/pkg/logging"
	"github.com/AleutianAI/vertexchat/pkg/ux"
)

var (
	flags          chatFlags
	conversationID string
	remoteToken    bool
)

var rootCmd = &cobra.Command{
	Use:           "chat",
	Short:         "Chat with the Vertex AI Search agent behind IAP",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the identity token sent to the backend and its decoded claims",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", defaultConfigPath, "client config file")
	pf.StringVar(&flags.backendURL, "backend-url", "", "backend base URL (env BACKEND_URL)")
	pf.StringVar(&flags.audience, "audience", "", "audience for minted ID tokens (env AUDIENCE)")
	pf.StringVar(&flags.token, "token", "", "use this IAP assertion instead of minting a token (env IAP_JWT_ASSERTION)")
	pf.StringVar(&flags.route, "route", "", "query route, /api/query or /api/noauth")
	pf.StringVar(&flags.personality, "personality", "", "output style: full, standard, minimal, machine (env CHAT_PERSONALITY)")
	pf.StringVar(&flags.bucket, "bucket", "", "GCS bucket for /save (env TRANSCRIPT_BUCKET)")
	pf.StringVar(&flags.logLevel, "log-level", "", "client log level")
	pf.StringVar(&flags.logDir, "log-dir", "", "also write JSON logs to this directory (env CHAT_LOG_DIR)")

	askCmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	tokenCmd.Flags().BoolVar(&remoteToken, "remote", false, "show the token as decoded by the backend echo route")

	rootCmd.AddCommand(chatCmd, askCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
}

// chatEnv is everything a command needs after configuration is resolved.
type chatEnv struct {
	settings settings
	tokens   chatclient.TokenSource
	client   *chatclient.Client
	logger   *logging.Logger
	ui       ux.ChatUI
}

func setup(ctx context.Context) (*chatEnv, error) {
	fileCfg, err := LoadChatConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	s := resolveSettings(fileCfg, os.Getenv, flags)

	ux.InitPersonality(s.Personality)

	level, _ := logging.ParseLevel(s.LogLevel)
	logger := logging.New(logging.Config{Level: level, Service: "chat", LogDir: s.LogDir})
	slog.SetDefault(logger.Slog())

	tokens := chatclient.ResolveTokenSource(ctx, s.Assertion, s.Audience, logger.Slog())
	return &chatEnv{
		settings: s,
		tokens:   tokens,
		client:   chatclient.New(s.BackendURL, tokens, chatclient.WithRoute(s.Route)),
		logger:   logger,
		ui:       ux.NewChatUI(),
	}, nil
}

// header describes the session, decoding the caller's email from the
// token when one is available.
func (e *chatEnv) header(ctx context.Context) ux.HeaderConfig {
	h := ux.HeaderConfig{BackendURL: e.client.BaseURL(), Route: e.settings.Route}
	raw, err := e.tokens.Token(ctx)
	switch {
	case errors.Is(err, chatclient.ErrNoToken):
		h.LocalMode = true
	case err != nil:
		e.logger.Warn("could not fetch identity token", "error", err)
	default:
		_, payload := identity.Introspect(raw)
		h.Identity, _ = payload["email"].(string)
	}
	return h
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.logger.Close()

	cfg := ChatRunnerConfig{
		Session: chatclient.NewSession(env.client, env.logger.Slog()),
		Tokens:  env.tokens,
		UI:      env.ui,
		Header:  env.header(ctx),
		Logger:  env.logger.Slog(),
	}
	if ux.IsInteractive() {
		cfg.Reader = NewInteractiveInputReader(100)
	} else {
		cfg.Reader = NewStdinReader(os.Stdin)
	}
	if ux.GetPersonality().Level != ux.PersonalityMachine {
		cfg.PromptWriter = os.Stdout
	}
	if bucket := env.settings.TranscriptBucket; bucket != "" {
		archiver, err := NewGCSArchiver(ctx, bucket)
		if err != nil {
			ux.Warning(fmt.Sprintf("transcript archive disabled: %v", err))
		} else {
			cfg.Archiver = archiver
		}
	}

	runner := NewChatRunner(cfg)
	defer runner.Close()
	return runner.Run(ctx)
}

func runAsk(cmd *cobra.Command, args []string) error {
	env, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer env.logger.Close()

	session := chatclient.NewSession(env.client, env.logger.Slog())
	if conversationID != "" {
		session.Transcript().SetHandle(&conversationID)
	}
	return ask(cmd.Context(), session, env.ui, strings.Join(args, " "))
}

// ask runs one turn and renders it. A backend failure is returned so the
// process exits non-zero.
func ask(ctx context.Context, session *chatclient.Session, ui ux.ChatUI, query string) error {
	turn := session.Send(ctx, query)
	if turn.LocalMode {
		ui.LocalMode()
	}
	if turn.Err != nil {
		ui.Error(turn.Err)
		return turn.Err
	}
	ui.Assistant(turn.Reply)
	if handle := session.Transcript().Handle(); handle != nil {
		ui.Notice("conversation_id: " + *handle)
	}
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	env, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer env.logger.Close()

	if remoteToken {
		return showRemoteToken(cmd.Context(), env.client, env.ui)
	}
	return showToken(cmd.Context(), env.tokens, env.ui)
}

func showToken(ctx context.Context, tokens chatclient.TokenSource, ui ux.ChatUI) error {
	raw, err := tokens.Token(ctx)
	if errors.Is(err, chatclient.ErrNoToken) {
		ui.LocalMode()
		return err
	}
	if err != nil {
		return fmt.Errorf("fetch identity token: %w", err)
	}
	header, payload := identity.Introspect(raw)
	ui.TokenDetails(raw, header, payload)
	return nil
}

// showRemoteToken renders the token as the backend sees it.
func showRemoteToken(ctx context.Context, client *chatclient.Client, ui ux.ChatUI) error {
	resp, err := client.Echo(ctx, "token")
	if errors.Is(err, chatclient.ErrNoToken) {
		ui.LocalMode()
		return err
	}
	if err != nil {
		ui.Error(err)
		return err
	}
	d := resp.JWTDetails
	ui.TokenDetails(d.RawToken, d.DecodedHeader, d.DecodedPayload)
	return nil
}

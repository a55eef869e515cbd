// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command backend serves the authenticated conversation proxy.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vertexchat/pkg/logging"
	"github.com/AleutianAI/vertexchat/services/backend"
	"github.com/AleutianAI/vertexchat/services/backend/conversation"
)

var (
	envFile    string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:           "backend",
	Short:         "Serve the IAP-authenticated Vertex AI Search conversation API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBackend,
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.Flags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var cfgErr *conversation.ConfigurationError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", cfgErr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}
}

func runBackend(cmd *cobra.Command, _ []string) error {
	cfg, err := backend.LoadConfig(envFile, configFile)
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	slog.SetDefault(logging.New(logging.Config{
		Level:   level,
		Service: "backend",
		JSON:    cfg.LogJSON,
	}).Slog())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := backend.New(ctx, cfg, nil, nil)
	if err != nil {
		return err
	}
	slog.SetDefault(svc.Logger())

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

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

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/vertexchat/pkg/chatclient"
	"github.com/AleutianAI/vertexchat/pkg/logging"
	"gopkg.in/yaml.v3"
)

// defaultConfigPath is where the chat client keeps its settings.
const defaultConfigPath = "~/.vertexchat/chat.yaml"

// ChatConfig is the persisted client configuration.
type ChatConfig struct {
	BackendURL       string `yaml:"backend_url"`
	Audience         string `yaml:"audience"`
	Route            string `yaml:"route"`
	Personality      string `yaml:"personality"`
	TranscriptBucket string `yaml:"transcript_bucket"`
	LogLevel         string `yaml:"log_level"`
	LogDir           string `yaml:"log_dir,omitempty"`
}

// DefaultChatConfig returns the settings written on first run.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		BackendURL: chatclient.DefaultBaseURL,
		Route:      chatclient.DefaultRoute,
		LogLevel:   "warn",
	}
}

// LoadChatConfig reads the YAML config at path, creating it with defaults
// when it does not exist. Empty fields fall back to the defaults.
func LoadChatConfig(path string) (ChatConfig, error) {
	if path == "" {
		path = defaultConfigPath
	}
	path = logging.ExpandPath(path)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Info("first run detected, creating the config", "path", path)
		if err := createDefault(path); err != nil {
			return ChatConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ChatConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	var cfg ChatConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ChatConfig{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultChatConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c ChatConfig) withDefaults() ChatConfig {
	def := DefaultChatConfig()
	if c.BackendURL == "" {
		c.BackendURL = def.BackendURL
	}
	if c.Route == "" {
		c.Route = def.Route
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c
}

// chatFlags holds command-line overrides. Empty means not set.
type chatFlags struct {
	configPath  string
	backendURL  string
	audience    string
	token       string
	route       string
	personality string
	bucket      string
	logLevel    string
	logDir      string
}

// settings is the effective configuration for one command.
type settings struct {
	ChatConfig
	Assertion string
}

// resolveSettings layers flags over environment over the config file.
func resolveSettings(file ChatConfig, getenv func(string) string, flags chatFlags) settings {
	s := settings{ChatConfig: file}

	pick := func(dst *string, env, flag string) {
		if env != "" {
			if v := getenv(env); v != "" {
				*dst = v
			}
		}
		if flag != "" {
			*dst = flag
		}
	}
	pick(&s.BackendURL, "BACKEND_URL", flags.backendURL)
	pick(&s.Audience, "AUDIENCE", flags.audience)
	pick(&s.Assertion, "IAP_JWT_ASSERTION", flags.token)
	pick(&s.Route, "", flags.route)
	pick(&s.Personality, "CHAT_PERSONALITY", flags.personality)
	pick(&s.TranscriptBucket, "TRANSCRIPT_BUCKET", flags.bucket)
	pick(&s.LogLevel, "", flags.logLevel)
	pick(&s.LogDir, "CHAT_LOG_DIR", flags.logDir)
	return s
}

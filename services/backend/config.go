// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/AleutianAI/vertexchat/pkg/identity"
	"github.com/AleutianAI/vertexchat/services/backend/conversation"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures the backend service.
//
// Project and datastore are not checked here; a missing one surfaces as a
// *conversation.ConfigurationError from New.
type Config struct {
	// ProjectNumber is the GCP project id or number. Env: GCP_PROJECT_NUMBER
	ProjectNumber string

	// DataStoreID is the Vertex AI Search datastore. Env: VERTEX_AI_DATASTORE_ID
	DataStoreID string

	// Location of the datastore. Env: VERTEX_AI_LOCATION. Default: global
	Location string

	// ServingConfig id. Env: VERTEX_AI_SERVING_CONFIG. Default: default_config
	ServingConfig string

	// Audience every identity token must carry. Empty rejects all tokens.
	// Env: AUDIENCE
	Audience string

	// TrustedIssuers restricts accepted token issuers. Env: AUTH_TRUSTED_ISSUERS (comma list)
	TrustedIssuers []string

	// DevSharedSecret switches token verification to HS256 with this secret.
	// Env: AUTH_DEV_SHARED_SECRET
	DevSharedSecret string

	// Port is the HTTP listen port. Env: PORT. Default: 8000
	Port int `validate:"min=1,max=65535"`

	// NoAuthEnabled registers POST /api/noauth. Env: NOAUTH_ENABLED. Default: true
	NoAuthEnabled bool

	// NoAuthRateLimit in requests per second; 0 is unlimited. Env: NOAUTH_RATE_LIMIT
	NoAuthRateLimit float64 `validate:"gte=0"`

	// NoAuthRateBurst is the limiter burst. Env: NOAUTH_RATE_BURST. Default: 5
	NoAuthRateBurst int `validate:"min=1"`

	// LogLevel is debug, info, warn or error. Env: LOG_LEVEL. Default: info
	LogLevel string `validate:"oneof=debug info warn warning error"`

	// LogJSON selects JSON log output. Env: LOG_JSON. Default: true
	LogJSON bool

	// LogDir additionally writes a daily JSON log file there. Env: LOG_DIR
	LogDir string

	// AllowedOrigins may open the chat websocket from another host.
	// Env: WS_ALLOWED_ORIGINS (comma list)
	AllowedOrigins []string

	// LogWriter overrides stderr for logs. Not loaded from the environment.
	LogWriter io.Writer

	// TraceExporter is otlp, stdout or none. Env: OTEL_TRACES_EXPORTER
	TraceExporter string `validate:"oneof=otlp stdout none"`

	// MetricExporter is prometheus, stdout or none. Env: OTEL_METRICS_EXPORTER
	MetricExporter string `validate:"oneof=prometheus stdout none"`

	// OTLPEndpoint is the collector address. Env: OTEL_EXPORTER_OTLP_ENDPOINT
	OTLPEndpoint string

	// GinMode is debug, release or test. Env: GIN_MODE. Default: release
	GinMode string `validate:"oneof=debug release test"`
}

// Resource returns the Discovery Engine coordinates named by the config.
func (c Config) Resource() conversation.Resource {
	return conversation.Resource{
		Project:       c.ProjectNumber,
		Location:      c.Location,
		DataStore:     c.DataStoreID,
		ServingConfig: c.ServingConfig,
	}
}

var configValidator = validator.New()

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid backend config: %w", err)
	}
	return nil
}

// LoadConfig builds a Config from the environment.
//
// # Description
//
// Variables from envFile are loaded first without overriding variables
// already set in the process. When configFile is non-empty it is read by
// viper; its keys are the lower-case variable names and the environment
// wins over it. Defaults apply last.
//
// # Inputs
//
//   - envFile: dotenv file path. A missing file is not an error. Empty skips it.
//   - configFile: optional YAML/JSON/TOML file read by viper.
//
// # Outputs
//
//   - Config: populated and validated
//   - error: unreadable files or invalid values
func LoadConfig(envFile, configFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	setConfigDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		ProjectNumber:   v.GetString("gcp_project_number"),
		DataStoreID:     v.GetString("vertex_ai_datastore_id"),
		Location:        v.GetString("vertex_ai_location"),
		ServingConfig:   v.GetString("vertex_ai_serving_config"),
		Audience:        v.GetString("audience"),
		TrustedIssuers:  splitList(v.GetString("auth_trusted_issuers")),
		DevSharedSecret: v.GetString("auth_dev_shared_secret"),
		Port:            v.GetInt("port"),
		NoAuthEnabled:   v.GetBool("noauth_enabled"),
		NoAuthRateLimit: v.GetFloat64("noauth_rate_limit"),
		NoAuthRateBurst: v.GetInt("noauth_rate_burst"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		LogJSON:         v.GetBool("log_json"),
		LogDir:          v.GetString("log_dir"),
		AllowedOrigins:  splitList(v.GetString("ws_allowed_origins")),
		TraceExporter:   v.GetString("otel_traces_exporter"),
		MetricExporter:  v.GetString("otel_metrics_exporter"),
		OTLPEndpoint:    v.GetString("otel_exporter_otlp_endpoint"),
		GinMode:         v.GetString("gin_mode"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("vertex_ai_location", conversation.GlobalLocation)
	v.SetDefault("vertex_ai_serving_config", conversation.DefaultServingConfig)
	v.SetDefault("auth_trusted_issuers", strings.Join(identity.DefaultTrustedIssuers, ","))
	v.SetDefault("port", defaultPort)
	v.SetDefault("noauth_enabled", true)
	v.SetDefault("noauth_rate_limit", 0)
	v.SetDefault("noauth_rate_burst", defaultNoAuthBurst)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	v.SetDefault("otel_traces_exporter", "none")
	v.SetDefault("otel_metrics_exporter", "prometheus")
	v.SetDefault("otel_exporter_otlp_endpoint", "localhost:4317")
	v.SetDefault("gin_mode", "release")
}

// applyConfigDefaults fills zero values for a Config built in code.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Location == "" {
		cfg.Location = conversation.GlobalLocation
	}
	if cfg.ServingConfig == "" {
		cfg.ServingConfig = conversation.DefaultServingConfig
	}
	if cfg.TrustedIssuers == nil {
		cfg.TrustedIssuers = identity.DefaultTrustedIssuers
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.NoAuthRateBurst == 0 {
		cfg.NoAuthRateBurst = defaultNoAuthBurst
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = "none"
	}
	if cfg.MetricExporter == "" {
		cfg.MetricExporter = "prometheus"
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	return cfg
}

// splitList splits a comma list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config provides configuration loading for syncbridge.
//
// Configuration is loaded from environment variables over hardcoded
// defaults. Credentials are held in Secret values that redact
// themselves when logged or serialized.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/trancendos/syncbridge/internal/logging"
)

// Config holds the complete syncbridge configuration.
type Config struct {
	Server ServerConfig   `koanf:"server"`
	Log    logging.Config `koanf:"log"`
	GitHub GitHubConfig   `koanf:"github"`
	Linear LinearConfig   `koanf:"linear"`
	Notion NotionConfig   `koanf:"notion"`
	Buffer BufferConfig   `koanf:"buffer"`
	Sync   SyncConfig     `koanf:"sync"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// GitHubConfig holds source-platform credentials and context.
type GitHubConfig struct {
	Token         Secret `koanf:"token"`
	WebhookSecret Secret `koanf:"webhook_secret"`
	Owner         string `koanf:"owner"`
}

// LinearConfig holds tracker-platform credentials and context.
type LinearConfig struct {
	APIKey        Secret `koanf:"api_key"`
	WebhookSecret Secret `koanf:"webhook_secret"`
	TeamKey       string `koanf:"team_key"`
}

// NotionConfig holds documentation-platform credentials.
//
// When MirrorBuffer is true every buffer append/update is mirrored to
// the Notion action-log database, matching the workspace dashboard the
// buffer originally lived in.
type NotionConfig struct {
	Token            Secret `koanf:"token"`
	BufferDatabaseID string `koanf:"buffer_database_id"`
	MirrorBuffer     bool   `koanf:"mirror_buffer"`
}

// BufferConfig holds action-buffer storage configuration.
type BufferConfig struct {
	Path string `koanf:"path"`
}

// SyncConfig holds propagation and reconciliation settings.
type SyncConfig struct {
	Enabled            bool          `koanf:"enabled"`
	ValidationSchedule string        `koanf:"validation_schedule"`
	PollInterval       time.Duration `koanf:"poll_interval"`
	Concurrency        int           `koanf:"concurrency"`
}

// envMapping maps recognized environment variables to config paths.
// Unlisted variables are ignored.
var envMapping = map[string]string{
	"PORT":                    "server.port",
	"SERVER_SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	"LOG_LEVEL":               "log.level",
	"LOG_FORMAT":              "log.format",
	"GITHUB_TOKEN":            "github.token",
	"WEBHOOK_SECRET":          "github.webhook_secret",
	"GITHUB_OWNER":            "github.owner",
	"LINEAR_API_KEY":          "linear.api_key",
	"LINEAR_WEBHOOK_SECRET":   "linear.webhook_secret",
	"LINEAR_TEAM_KEY":         "linear.team_key",
	"NOTION_TOKEN":            "notion.token",
	"NOTION_BUFFER_DB_ID":     "notion.buffer_database_id",
	"NOTION_MIRROR_ENABLED":   "notion.mirror_buffer",
	"BUFFER_DB_PATH":          "buffer.path",
	"SYNC_ENABLED":            "sync.enabled",
	"VALIDATION_SCHEDULE":     "sync.validation_schedule",
	"POLL_INTERVAL":           "sync.poll_interval",
	"RECONCILE_CONCURRENCY":   "sync.concurrency",
}

// Default returns the hardcoded defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: *logging.NewDefaultConfig(),
		GitHub: GitHubConfig{
			Owner: "Trancendos",
		},
		Linear: LinearConfig{
			TeamKey: "TRA",
		},
		Buffer: BufferConfig{
			Path: "syncbridge.db",
		},
		Sync: SyncConfig{
			Enabled:            false,
			ValidationSchedule: "0 */6 * * *",
			PollInterval:       5 * time.Minute,
			Concurrency:        4,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := Default()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envMapping[s] // "" drops unrecognized variables
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration can run the service.
// Missing credentials are fatal at startup, never later.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if !c.GitHub.Token.IsSet() {
		return errors.New("GITHUB_TOKEN not set")
	}
	if !c.GitHub.WebhookSecret.IsSet() {
		return errors.New("WEBHOOK_SECRET not set")
	}
	if !c.Linear.APIKey.IsSet() {
		return errors.New("LINEAR_API_KEY not set")
	}
	if c.Notion.MirrorBuffer {
		if !c.Notion.Token.IsSet() {
			return errors.New("NOTION_TOKEN required when NOTION_MIRROR_ENABLED is true")
		}
		if c.Notion.BufferDatabaseID == "" {
			return errors.New("NOTION_BUFFER_DB_ID required when NOTION_MIRROR_ENABLED is true")
		}
	}
	if c.Sync.Concurrency < 1 {
		return errors.New("reconcile concurrency must be at least 1")
	}
	if c.Sync.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

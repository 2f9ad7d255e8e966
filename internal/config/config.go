// Package config handles loading, validation and persistence of the
// slackbridge JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for slackbridge.
type Config struct {
	General     GeneralConfig     `json:"general"`
	Slack       SlackConfig       `json:"slack"`
	Attachments AttachmentsConfig `json:"attachments"`
	Registry    RegistryConfig    `json:"registry"`
	Outbound    OutboundConfig    `json:"outbound"`
	CatchUp     CatchUpConfig     `json:"catchUp"`
	Store       StoreConfig       `json:"store"`
	Metrics     MetricsConfig     `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	DataDir  string `json:"dataDir"`
}

type SlackConfig struct {
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

type AttachmentsConfig struct {
	Dir                  string `json:"dir"`
	MaxSizeBytes         int64  `json:"maxSizeBytes"`
	TTLDays              int    `json:"ttlDays"`
	SweepIntervalMinutes int    `json:"sweepIntervalMinutes"`
}

type RegistryConfig struct {
	Dir string `json:"dir"`
}

type OutboundConfig struct {
	RatePerMinute float64 `json:"ratePerMinute"`
	Burst         int     `json:"burst"`
}

type CatchUpConfig struct {
	WindowHours int `json:"windowHours"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// DefaultConfigDir returns the default config directory (~/.slackbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slackbridge"
	}
	return filepath.Join(home, ".slackbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.Attachments.Dir = ExpandPath(cfg.Attachments.Dir)
	cfg.Registry.Dir = ExpandPath(cfg.Registry.Dir)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Slack.BotToken == "" || strings.Contains(cfg.Slack.BotToken, "${") {
		errs = append(errs, "slack.botToken is not set (export SLACK_BOT_TOKEN or edit the config)")
	}
	if cfg.Slack.AppToken == "" || strings.Contains(cfg.Slack.AppToken, "${") {
		errs = append(errs, "slack.appToken is not set (export SLACK_APP_TOKEN or edit the config)")
	}

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Outbound.RatePerMinute <= 0 {
		errs = append(errs, "outbound.ratePerMinute must be > 0")
	}
	if cfg.Outbound.Burst < 1 {
		errs = append(errs, "outbound.burst must be >= 1")
	}
	if cfg.Attachments.MaxSizeBytes < 1 {
		errs = append(errs, "attachments.maxSizeBytes must be >= 1")
	}
	if cfg.Attachments.TTLDays < 1 {
		errs = append(errs, "attachments.ttlDays must be >= 1")
	}
	if cfg.Attachments.SweepIntervalMinutes < 1 {
		errs = append(errs, "attachments.sweepIntervalMinutes must be >= 1")
	}
	if cfg.CatchUp.WindowHours < 1 {
		errs = append(errs, "catchUp.windowHours must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

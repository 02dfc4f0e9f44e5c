// Package config loads, validates, and persists the JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration.
type Config struct {
	General GeneralConfig `json:"general"`
	Gateway GatewayConfig `json:"gateway"`
	Gemini  GeminiConfig  `json:"gemini"`
	Audio   AudioConfig   `json:"audio"`
	History HistoryConfig `json:"history"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// GatewayConfig points at the Evolution API instance and the webhook this
// process exposes to it.
type GatewayConfig struct {
	BaseURL  string `json:"baseUrl"`
	APIKey   string `json:"apiKey"`
	Instance string `json:"instance"`
	// TargetJID restricts replies to one conversation. Empty replies to all.
	TargetJID   string `json:"targetJid,omitempty"`
	WebhookPort int    `json:"webhookPort"`
	WebhookPath string `json:"webhookPath"`
}

type GeminiConfig struct {
	APIKey      string `json:"apiKey"`
	Model       string `json:"model"`
	PersonaFile string `json:"personaFile,omitempty"`
}

type AudioConfig struct {
	FFmpegPath string `json:"ffmpegPath"`
	Workers    int    `json:"workers"`
	TempDir    string `json:"tempDir,omitempty"` // empty means os.TempDir
}

type HistoryConfig struct {
	DBPath   string `json:"dbPath,omitempty"` // empty disables the archive
	MaxPages int    `json:"maxPages"`
	PageSize int    `json:"pageSize"`
}

// DefaultConfigDir returns the default config directory (~/.zapgem).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zapgem"
	}
	return filepath.Join(home, ".zapgem")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Gateway: GatewayConfig{
			BaseURL:     "http://localhost:8084",
			WebhookPort: 8080,
			WebhookPath: "/webhook",
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash",
		},
		Audio: AudioConfig{
			FFmpegPath: "ffmpeg",
			Workers:    2,
		},
		History: HistoryConfig{
			DBPath:   "~/.zapgem/history.db",
			MaxPages: 20,
			PageSize: 50,
		},
	}
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

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

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Gemini.PersonaFile = ExpandPath(cfg.Gemini.PersonaFile)
	cfg.Audio.TempDir = ExpandPath(cfg.Audio.TempDir)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)

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
			return match // keep original if no env var and no default
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

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Gateway.BaseURL == "" {
		errs = append(errs, "gateway.baseUrl is required")
	}
	if cfg.Gateway.APIKey == "" {
		errs = append(errs, "gateway.apiKey is required")
	}
	if cfg.Gateway.Instance == "" {
		errs = append(errs, "gateway.instance is required")
	}
	if cfg.Gateway.WebhookPort < 1 || cfg.Gateway.WebhookPort > 65535 {
		errs = append(errs, "gateway.webhookPort must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Gateway.WebhookPath, "/") {
		errs = append(errs, "gateway.webhookPath must start with /")
	}

	if cfg.Gemini.APIKey == "" {
		errs = append(errs, "gemini.apiKey is required")
	}

	if cfg.Audio.Workers < 1 || cfg.Audio.Workers > 16 {
		errs = append(errs, "audio.workers must be between 1 and 16")
	}
	if cfg.Audio.FFmpegPath == "" {
		errs = append(errs, "audio.ffmpegPath is required")
	}

	if cfg.History.MaxPages < 1 {
		errs = append(errs, "history.maxPages must be >= 1")
	}
	if cfg.History.PageSize < 1 {
		errs = append(errs, "history.pageSize must be >= 1")
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

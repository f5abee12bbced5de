package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	DataDir           string `json:"data_dir"`
	LogLevel          string `json:"log_level"`
	Server            string `json:"server"`
	APIKey            string `json:"api_key" secret:"true"`
	GraphQLURL        string `json:"graphql_url"`
	TelemetryDisabled bool   `json:"telemetry_disabled"`
	Upload            struct {
		Concurrency        int   `json:"concurrency"`
		PartConcurrency    int   `json:"part_concurrency"`
		MultipartThreshold int64 `json:"multipart_threshold"`
		PartSize           int64 `json:"part_size"`
		Process            bool  `json:"process"`
		CommandTimeout     int   `json:"command_timeout_seconds"`
	} `json:"upload"`
	Watch struct {
		Schedule   string `json:"schedule"`
		DebounceMS int    `json:"debounce_ms"`
		StatusAddr string `json:"status_addr"`
	} `json:"watch"`
}

// Environment variables, in precedence order, for each overridable field.
var (
	EnvDataDir   = []string{"REPLAY_DIR", "RECORD_REPLAY_DIRECTORY"}
	EnvAPIKey    = []string{"REPLAY_API_KEY", "RECORD_REPLAY_API_KEY"}
	EnvServer    = []string{"REPLAY_SERVER", "RECORD_REPLAY_SERVER"}
	EnvTelemetry = []string{"REPLAY_TELEMETRY_DISABLED", "RECORD_REPLAY_TELEMETRY_DISABLED"}
)

// DefaultPath returns ~/.replaykit/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".replaykit", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:    filepath.Join(os.Getenv("HOME"), ".replay"),
		LogLevel:   "info",
		Server:     "wss://dispatch.replay.io",
		GraphQLURL: "https://api.replay.io/v1/graphql",
	}
	cfg.Upload.Concurrency = 3
	cfg.Upload.PartConcurrency = 4
	cfg.Upload.MultipartThreshold = 100 << 20
	cfg.Upload.PartSize = 10 << 20
	cfg.Upload.CommandTimeout = 60
	cfg.Watch.Schedule = "@every 1m"
	cfg.Watch.DebounceMS = 500
	cfg.Watch.StatusAddr = "127.0.0.1:8089"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		if cfg, err = readFile(path); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if v := firstEnv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := firstEnv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := firstEnv(EnvServer); v != "" {
		cfg.Server = v
	}
	if v := firstEnv(EnvTelemetry); v != "" {
		if off, err := strconv.ParseBool(v); err == nil {
			cfg.TelemetryDisabled = off
		} else {
			cfg.TelemetryDisabled = true
		}
	}

	return cfg, nil
}

// readFile decodes the file at path over the defaults, without
// environment overrides.
func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// firstEnv returns the first non-empty variable in names.
func firstEnv(names []string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// CommandTimeout returns the protocol command timeout.
func (c *Config) CommandTimeout() time.Duration {
	if c.Upload.CommandTimeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Upload.CommandTimeout) * time.Second
}

// Debounce returns the watch debounce interval.
func (c *Config) Debounce() time.Duration {
	if c.Watch.DebounceMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// Save writes cfg to path atomically (temp file + rename).
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

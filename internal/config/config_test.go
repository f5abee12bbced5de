package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, group := range [][]string{EnvDataDir, EnvAPIKey, EnvServer, EnvTelemetry} {
		for _, name := range group {
			t.Setenv(name, "")
		}
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log_level=info, got %s", cfg.LogLevel)
	}
	if cfg.Upload.Concurrency != 3 {
		t.Errorf("expected default upload.concurrency=3, got %d", cfg.Upload.Concurrency)
	}
	if cfg.Watch.Schedule != "@every 1m" {
		t.Errorf("unexpected default schedule %q", cfg.Watch.Schedule)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults not written: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	original := defaults()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.APIKey = "rwk_round_trip"
	original.Upload.Concurrency = 8
	original.Upload.Process = true
	original.Watch.StatusAddr = "127.0.0.1:0"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != original.LogLevel {
		t.Errorf("LogLevel mismatch: %v != %v", loaded.LogLevel, original.LogLevel)
	}
	if loaded.APIKey != original.APIKey {
		t.Errorf("APIKey mismatch: %v != %v", loaded.APIKey, original.APIKey)
	}
	if loaded.Upload.Concurrency != 8 || !loaded.Upload.Process {
		t.Errorf("Upload mismatch: %+v", loaded.Upload)
	}
	if loaded.Watch.StatusAddr != "127.0.0.1:0" {
		t.Errorf("Watch mismatch: %+v", loaded.Watch)
	}
}

func TestLoad_EnvPrecedence(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	cfg := defaults()
	cfg.APIKey = "from-file"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RECORD_REPLAY_API_KEY", "legacy")
	t.Setenv("REPLAY_API_KEY", "preferred")
	t.Setenv("RECORD_REPLAY_DIRECTORY", "/legacy/dir")
	t.Setenv("RECORD_REPLAY_SERVER", "wss://legacy")
	t.Setenv("REPLAY_TELEMETRY_DISABLED", "1")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.APIKey != "preferred" {
		t.Errorf("expected REPLAY_API_KEY to win, got %s", loaded.APIKey)
	}
	if loaded.DataDir != "/legacy/dir" {
		t.Errorf("expected legacy dir fallback, got %s", loaded.DataDir)
	}
	if loaded.Server != "wss://legacy" {
		t.Errorf("expected legacy server fallback, got %s", loaded.Server)
	}
	if !loaded.TelemetryDisabled {
		t.Error("expected telemetry to be disabled")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestDurations(t *testing.T) {
	cfg := &Config{}
	if cfg.CommandTimeout() != 60*time.Second {
		t.Errorf("zero timeout should fall back, got %v", cfg.CommandTimeout())
	}
	cfg.Upload.CommandTimeout = 5
	cfg.Watch.DebounceMS = 20
	if cfg.CommandTimeout() != 5*time.Second || cfg.Debounce() != 20*time.Millisecond {
		t.Errorf("got %v / %v", cfg.CommandTimeout(), cfg.Debounce())
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, &Config{LogLevel: "info"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")
	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestListValues(t *testing.T) {
	cfg := &Config{LogLevel: "info", APIKey: "rwk_secret_1234"}

	values := func(mask bool) map[string]any {
		out := make(map[string]any)
		for _, s := range ListValues(cfg, mask) {
			out[s.Name] = s.Value
		}
		return out
	}

	flat := values(false)
	if flat["api_key"] != "rwk_secret_1234" {
		t.Errorf("expected unmasked api_key, got %v", flat["api_key"])
	}
	if _, ok := flat["upload.concurrency"]; !ok {
		t.Error("nested keys missing from listing")
	}
	if masked := values(true); masked["api_key"] != "***1234" {
		t.Errorf("expected masked api_key, got %v", masked["api_key"])
	}
}

func TestGetValue(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
	v, err = GetValue(path, "upload.part_size")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if v != int64(10<<20) {
		t.Errorf("expected default part size, got %v (%T)", v, v)
	}

	if _, err := GetValue(path, "nonexistent.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSetValue(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key, raw string
		want     any
	}{
		{"log_level", "debug", "debug"},
		{"upload.concurrency", "1", 1},
		{"upload.process", "true", true},
		{"upload.part_size", "4096", int64(4096)},
		{"watch.schedule", "@every 30s", "@every 30s"},
		{"api_key", "1234567890", "1234567890"},
		{"telemetry_disabled", "1", true},
	}
	for _, tt := range tests {
		stored, err := SetValue(path, tt.key, tt.raw)
		if err != nil {
			t.Fatalf("SetValue(%s) failed: %v", tt.key, err)
		}
		if stored != tt.want {
			t.Errorf("SetValue(%s) stored %v (%T), want %v", tt.key, stored, stored, tt.want)
		}
		v, err := GetValue(path, tt.key)
		if err != nil {
			t.Fatalf("GetValue(%s) failed: %v", tt.key, err)
		}
		if v != tt.want {
			t.Errorf("%s = %v (%T), want %v", tt.key, v, v, tt.want)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upload.Concurrency != 1 || !cfg.Upload.Process {
		t.Errorf("typed config did not pick up changes: %+v", cfg.Upload)
	}
	if cfg.APIKey != "1234567890" {
		t.Errorf("numeric-looking api key stored as %q", cfg.APIKey)
	}
}

func TestSetValue_RejectsBadValues(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key, raw string
		wantErr  string
	}{
		{"custom.ratio", "0.5", "unknown config key"},
		{"upload", "3", "unknown config key"},
		{"upload.concurrency", "many", "expects an integer"},
		{"upload.concurrency", "0", "must be positive"},
		{"upload.part_size", "-1", "must be positive"},
		{"upload.process", "maybe", "expects true or false"},
		{"watch.schedule", "every minute", "watch.schedule"},
		{"log_level", "loud", "log_level"},
		{"server", "https://dispatch.replay.io", "server"},
		{"watch.status_addr", "8089", "watch.status_addr"},
	}
	for _, tt := range tests {
		_, err := SetValue(path, tt.key, tt.raw)
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("SetValue(%s, %q) error = %v, want %q", tt.key, tt.raw, err, tt.wantErr)
		}
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Errorf("rejected values changed the file:\n%s", after)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("config no longer loads: %v", err)
	}
}

func TestSetValue_KeepsEnvOutOfFile(t *testing.T) {
	clearEnv(t)
	path := tempConfigPath(t)
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REPLAY_API_KEY", "from-env")

	if _, err := SetValue(path, "log_level", "warn"); err != nil {
		t.Fatal(err)
	}
	cfg, err := readFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "" {
		t.Errorf("env api key written to file: %q", cfg.APIKey)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if _, err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestValidate(t *testing.T) {
	if err := defaults().Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}

	cfg := defaults()
	cfg.Watch.Schedule = "bogus"
	cfg.Upload.PartConcurrency = 0
	cfg.GraphQLURL = "ftp://api"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, key := range []string{"watch.schedule", "upload.part_concurrency", "graphql_url"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error does not name %s: %v", key, err)
		}
	}
}

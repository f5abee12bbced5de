package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/user/replaykit/internal/scheduler"
)

// Setting is a key paired with its current value.
type Setting struct {
	Key
	Value any
}

// ListValues returns every key with its value in cfg, sorted by name.
// Secrets are masked when mask is true.
func ListValues(cfg *Config, mask bool) []Setting {
	out := make([]Setting, 0, len(keys))
	for _, k := range keys {
		v := k.Get(cfg)
		if s, ok := v.(string); ok && mask && k.Secret {
			v = Mask(s)
		}
		out = append(out, Setting{Key: k, Value: v})
	}
	return out
}

// GetValue loads the config at path and returns the value of key, with
// environment overrides applied.
func GetValue(path, key string) (any, error) {
	k, ok := LookupKey(key)
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return k.Get(cfg), nil
}

// SetValue stores value under key in the existing config file at path and
// returns the value as stored. The value is parsed as the key's type and
// the whole config must pass Validate, otherwise the file is left as is.
// Environment overrides are never written back.
func SetValue(path, key, value string) (any, error) {
	k, ok := LookupKey(key)
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := k.Set(cfg, value); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("set %s: %w", key, err)
	}
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return k.Get(cfg), nil
}

// Validate checks the values a command would fail on later: the sweep
// schedule, the log level, endpoint URLs and upload sizes.
func (c *Config) Validate() error {
	var errs []error
	check := func(key string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	check("watch.schedule", scheduler.Validate(c.Watch.Schedule))
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		check("log_level", fmt.Errorf("unknown level %q, want debug, info, warn or error", c.LogLevel))
	}
	check("server", checkURL(c.Server, "ws", "wss"))
	check("graphql_url", checkURL(c.GraphQLURL, "http", "https"))
	if c.Watch.StatusAddr != "" {
		_, _, err := net.SplitHostPort(c.Watch.StatusAddr)
		check("watch.status_addr", err)
	}

	for _, f := range []struct {
		key string
		n   int64
	}{
		{"upload.concurrency", int64(c.Upload.Concurrency)},
		{"upload.part_concurrency", int64(c.Upload.PartConcurrency)},
		{"upload.multipart_threshold", c.Upload.MultipartThreshold},
		{"upload.part_size", c.Upload.PartSize},
		{"upload.command_timeout_seconds", int64(c.Upload.CommandTimeout)},
	} {
		if f.n <= 0 {
			check(f.key, fmt.Errorf("must be positive, got %d", f.n))
		}
	}
	if c.Watch.DebounceMS < 0 {
		check("watch.debounce_ms", fmt.Errorf("must not be negative, got %d", c.Watch.DebounceMS))
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q is not a %s URL", raw, strings.Join(schemes, " or "))
}

// Package config loads sopsync settings from an optional YAML file and
// SOPSYNC_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sopsync/internal/stream"
)

// Persistence backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Namespace   string            `yaml:"namespace"`
	Persistence Persistence       `yaml:"persistence"`
	Assistant   Assistant         `yaml:"assistant"`
	Store       Store             `yaml:"store"`
	Templates   Templates         `yaml:"templates"`
	Profile     map[string]string `yaml:"profile"`
}

type Persistence struct {
	Backend     string        `yaml:"backend"`
	SQLitePath  string        `yaml:"sqlite_path"`
	RedisURL    string        `yaml:"redis_url"`
	RedisPrefix string        `yaml:"redis_prefix"`
	RedisTTL    time.Duration `yaml:"redis_ttl"`
}

type Assistant struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	OpenMarker  string        `yaml:"open_marker"`
	CloseMarker string        `yaml:"close_marker"`
}

type Store struct {
	// Debounce coalesces snapshot writes; zero writes on every change.
	Debounce time.Duration `yaml:"debounce"`
}

type Templates struct {
	Dir string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Namespace: "default",
		Persistence: Persistence{
			Backend:     BackendSQLite,
			SQLitePath:  "sopsync.db",
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "sopsync:",
		},
		Assistant: Assistant{
			Model:       "gpt-4o-mini",
			Timeout:     2 * time.Minute,
			OpenMarker:  stream.DefaultOpenMarker,
			CloseMarker: stream.DefaultCloseMarker,
		},
		Templates: Templates{Dir: "templates"},
		Profile:   map[string]string{},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if cfg.Profile == nil {
		cfg.Profile = map[string]string{}
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Namespace, "SOPSYNC_NAMESPACE")
	set(&cfg.Persistence.Backend, "SOPSYNC_BACKEND")
	set(&cfg.Persistence.SQLitePath, "SOPSYNC_DB")
	set(&cfg.Persistence.RedisURL, "SOPSYNC_REDIS_URL")
	set(&cfg.Assistant.Endpoint, "SOPSYNC_ASSISTANT_URL")
	set(&cfg.Assistant.Model, "SOPSYNC_ASSISTANT_MODEL")
	set(&cfg.Assistant.APIKey, "SOPSYNC_ASSISTANT_KEY")
	set(&cfg.Templates.Dir, "SOPSYNC_TEMPLATES")

	if v := getenv("SOPSYNC_ASSISTANT_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("SOPSYNC_ASSISTANT_TIMEOUT_SECONDS: invalid value %q", v)
		}
		cfg.Assistant.Timeout = time.Duration(secs) * time.Second
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace must not be empty"))
	}
	switch c.Persistence.Backend {
	case BackendSQLite:
		if c.Persistence.SQLitePath == "" {
			errs = append(errs, errors.New("persistence.sqlite_path is required for the sqlite backend"))
		}
	case BackendRedis:
		if c.Persistence.RedisURL == "" {
			errs = append(errs, errors.New("persistence.redis_url is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("persistence.backend: unknown backend %q", c.Persistence.Backend))
	}
	if c.Assistant.Timeout < 0 {
		errs = append(errs, errors.New("assistant.timeout must not be negative"))
	}
	if c.Assistant.OpenMarker == "" || c.Assistant.CloseMarker == "" {
		errs = append(errs, errors.New("assistant markers must not be empty"))
	} else if c.Assistant.OpenMarker == c.Assistant.CloseMarker {
		errs = append(errs, errors.New("assistant open and close markers must differ"))
	}
	if c.Store.Debounce < 0 {
		errs = append(errs, errors.New("store.debounce must not be negative"))
	}
	return errors.Join(errs...)
}

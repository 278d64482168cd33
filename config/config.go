// Package config loads service configuration from defaults, an optional YAML
// file and COMICWATCH_* environment variables, in increasing precedence.
package config

import (
	"comicwatch/registry"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "COMICWATCH_"
	// PathEnvVar names the optional YAML config file.
	PathEnvVar = "COMICWATCH_CONFIG"
)

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendSQLite = "sqlite"
)

// Config is the full service configuration.
type Config struct {
	DiscordToken string          `koanf:"discord_token"`
	LogLevel     string          `koanf:"log_level"`
	Storage      StorageConfig   `koanf:"storage"`
	Poll         PollConfig      `koanf:"poll"`
	Delivery     DeliveryConfig  `koanf:"delivery"`
	Crosspost    CrosspostConfig `koanf:"crosspost"`
	HTTP         HTTPConfig      `koanf:"http"`
	Sources      registry.URLs   `koanf:"sources"`
}

// StorageConfig selects where announcements and subscriptions live.
type StorageConfig struct {
	Backend    string `koanf:"backend"`
	LocalPath  string `koanf:"local_path"`
	Bucket     string `koanf:"bucket"`
	SQLitePath string `koanf:"sqlite_path"`
}

// PollConfig controls the poll scheduler.
type PollConfig struct {
	Interval      time.Duration `koanf:"interval"`
	FetchTimeout  time.Duration `koanf:"fetch_timeout"`
	FetchAttempts uint          `koanf:"fetch_attempts"`
}

// DeliveryConfig controls fan-out.
type DeliveryConfig struct {
	Timeout     time.Duration `koanf:"timeout"`
	Concurrency int           `koanf:"concurrency"`
	Mentions    bool          `koanf:"mentions"` // false in development: roles are never pinged
}

// CrosspostConfig configures the optional announcement mirror.
type CrosspostConfig struct {
	WebhookURL string `koanf:"webhook_url"`
	Mock       bool   `koanf:"mock"`
}

// HTTPConfig configures the operator API.
type HTTPConfig struct {
	Port       int    `koanf:"port"`
	AdminToken string `koanf:"admin_token"`
	TrustProxy bool   `koanf:"trust_proxy"` // Honor X-Forwarded-For for rate limiting
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Backend:    BackendLocal,
			LocalPath:  "./data",
			SQLitePath: "./data/comicwatch.db",
		},
		Poll: PollConfig{
			Interval:      600 * time.Second,
			FetchTimeout:  time.Minute,
			FetchAttempts: 3,
		},
		Delivery: DeliveryConfig{
			Timeout:     30 * time.Second,
			Concurrency: 8,
			Mentions:    true,
		},
		HTTP: HTTPConfig{
			Port: 8080,
		},
		Sources: registry.DefaultURLs(),
	}
}

// sections are the nested config groups; the first underscore after one of
// these in an env var name becomes the key delimiter.
var sections = []string{"storage", "poll", "delivery", "crosspost", "http", "sources"}

// envKey maps COMICWATCH_POLL_FETCH_TIMEOUT to poll.fetch_timeout.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, s := range sections {
		if strings.HasPrefix(key, s+"_") {
			return s + "." + strings.TrimPrefix(key, s+"_")
		}
	}
	return key
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := os.Getenv(PathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// PORT is set by the hosting platform; COMICWATCH_HTTP_PORT still wins.
	port := env.Provider("PORT", ".", func(name string) string {
		if name != "PORT" {
			return ""
		}
		return "http.port"
	})
	if err := k.Load(port, nil); err != nil {
		return nil, fmt.Errorf("load PORT: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DiscordToken) == "" {
		errs = append(errs, errors.New("discord_token is required"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}

	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.LocalPath == "" {
			errs = append(errs, errors.New("storage.local_path is required for the local backend"))
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.bucket is required for the gcs backend"))
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be local, gcs or sqlite", c.Storage.Backend))
	}

	if c.Poll.Interval < time.Minute || c.Poll.Interval > 24*time.Hour {
		errs = append(errs, fmt.Errorf("poll.interval %s must be between 1m and 24h", c.Poll.Interval))
	}
	if c.Poll.FetchTimeout <= 0 {
		errs = append(errs, errors.New("poll.fetch_timeout must be positive"))
	}
	if c.Poll.FetchAttempts < 1 {
		errs = append(errs, errors.New("poll.fetch_attempts must be at least 1"))
	}
	if c.Delivery.Timeout <= 0 {
		errs = append(errs, errors.New("delivery.timeout must be positive"))
	}
	if c.Delivery.Concurrency < 1 {
		errs = append(errs, errors.New("delivery.concurrency must be at least 1"))
	}

	if c.Crosspost.WebhookURL != "" {
		u, err := url.Parse(c.Crosspost.WebhookURL)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("crosspost.webhook_url %q is not an http(s) URL", c.Crosspost.WebhookURL))
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}

	return errors.Join(errs...)
}

// Package config loads server settings. Sources apply in order: defaults, an
// optional TOML file, environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults.
const (
	DefaultPort              = "8080"
	DefaultDriver            = "sqlite"
	DefaultSQLitePath        = "data/todoless.db"
	DefaultRelayChannel      = "todoless:events"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultStreamBuffer      = 64
	DefaultOutboxSize        = 1024
	DefaultDeduperTTL        = 24 * time.Hour
	DefaultLabelCacheTTL     = 5 * time.Minute
	DefaultJWKSCacheTTL      = 15 * time.Minute
	DefaultBodyLimit         = "1M"
)

// EnvConfigFile names the config file when --config is not given.
const EnvConfigFile = "TODOLESS_CONFIG"

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full server configuration.
type Config struct {
	Debug     bool   `toml:"debug"`
	LogFormat string `toml:"log_format"`
	Port      string `toml:"port"`

	Storage Storage `toml:"storage"`
	Redis   Redis   `toml:"redis"`
	Auth    Auth    `toml:"auth"`
	Stream  Stream  `toml:"stream"`
	HTTP    HTTP    `toml:"http"`
}

// Storage selects the persistence backend.
type Storage struct {
	Driver           string `toml:"driver"`
	SQLitePath       string `toml:"sqlite_path"`
	ConnectionString string `toml:"connection_string"`
	ExportQueue      string `toml:"export_queue"`
	Tables           Tables `toml:"tables"`
}

// Tables names the Azure tables of the aztables driver.
type Tables struct {
	Users     string `toml:"users"`
	Tasks     string `toml:"tasks"`
	Notes     string `toml:"notes"`
	Labels    string `toml:"labels"`
	Workflows string `toml:"workflows"`
	Filters   string `toml:"filters"`
}

// Redis is optional; without it the server runs single-instance with no
// label cache and in-memory idempotency keys.
type Redis struct {
	ConnectionString string   `toml:"connection_string"`
	Channel          string   `toml:"channel"`
	LabelCacheTTL    Duration `toml:"label_cache_ttl"`
	DeduperTTL       Duration `toml:"deduper_ttl"`
}

// Auth configures JWT validation.
type Auth struct {
	Domain       string   `toml:"domain"`
	Audience     string   `toml:"audience"`
	LocalMode    string   `toml:"local_mode"`
	SharedSecret string   `toml:"shared_secret"`
	JWKSCacheTTL Duration `toml:"jwks_cache_ttl"`
}

// Stream tunes the server-push channel.
type Stream struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	BufferSize        int      `toml:"buffer_size"`
	OutboxSize        int      `toml:"outbox_size"`
}

// HTTP holds server middleware settings.
type HTTP struct {
	AllowOrigins []string `toml:"allow_origins"`
	BodyLimit    string   `toml:"body_limit"`
}

// Local reports whether tokens are verified with the shared HS256 secret.
func (a Auth) Local() bool { return a.LocalMode != "" }

// Default returns a Config holding every default value.
func Default() *Config {
	return &Config{
		LogFormat: "text",
		Port:      DefaultPort,
		Storage: Storage{
			Driver:     DefaultDriver,
			SQLitePath: DefaultSQLitePath,
			Tables: Tables{
				Users:     "Users",
				Tasks:     "Tasks",
				Notes:     "Notes",
				Labels:    "Labels",
				Workflows: "Workflows",
				Filters:   "Filters",
			},
		},
		Redis: Redis{
			Channel:       DefaultRelayChannel,
			LabelCacheTTL: Duration{DefaultLabelCacheTTL},
			DeduperTTL:    Duration{DefaultDeduperTTL},
		},
		Auth: Auth{JWKSCacheTTL: Duration{DefaultJWKSCacheTTL}},
		Stream: Stream{
			HeartbeatInterval: Duration{DefaultHeartbeatInterval},
			BufferSize:        DefaultStreamBuffer,
			OutboxSize:        DefaultOutboxSize,
		},
		HTTP: HTTP{AllowOrigins: []string{"*"}, BodyLimit: DefaultBodyLimit},
	}
}

// Load builds a Config from defaults, the TOML file at path (or
// $TODOLESS_CONFIG when path is empty) and the environment. Flags are applied
// by the caller before Validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	if err := loadFromEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends are fully configured.
func (c *Config) Validate() error {
	errs := []error{c.ValidateStorage()}
	switch strings.ToLower(c.Auth.LocalMode) {
	case "":
		if c.Auth.Domain == "" || c.Auth.Audience == "" {
			errs = append(errs, errors.New("missing Auth0 config"))
		}
	case "hs256":
		if c.Auth.SharedSecret == "" {
			errs = append(errs, errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", c.Auth.LocalMode))
	}

	if c.Stream.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be positive"))
	}
	if c.Stream.BufferSize <= 0 {
		errs = append(errs, errors.New("STREAM_BUFFER_SIZE must be positive"))
	}
	if c.Redis.DeduperTTL.Duration <= 0 {
		errs = append(errs, errors.New("DEDUPER_TTL must be positive"))
	}
	if c.Auth.JWKSCacheTTL.Duration < 0 {
		errs = append(errs, errors.New("JWKS_CACHE_TTL must not be negative"))
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("invalid PORT %q", c.Port))
	}
	return errors.Join(errs...)
}

// ValidateStorage checks only the storage settings, which is all
// init-storage needs.
func (c *Config) ValidateStorage() error {
	var errs []error
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("missing SQLITE_PATH"))
		}
	case "aztables":
		if c.Storage.ConnectionString == "" {
			errs = append(errs, errors.New("missing STORAGE_CONNECTION_STRING"))
		}
		t := c.Storage.Tables
		for _, name := range []string{t.Users, t.Tasks, t.Notes, t.Labels, t.Workflows, t.Filters} {
			if name == "" {
				errs = append(errs, errors.New("missing storage table name"))
				break
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver))
	}
	if c.Storage.ExportQueue != "" && c.Storage.ConnectionString == "" {
		errs = append(errs, errors.New("CHANGE_EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return ":" + c.Port
}

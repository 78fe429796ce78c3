package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort       = 8080
	DefaultCacheTTL       = 5 * time.Minute
	DefaultCourseTTL      = 20 * time.Minute
	DefaultSweepInterval  = 60 * time.Second
	DefaultGridPeriod     = 5 * time.Second
	DefaultStoreTimeout   = 5 * time.Second
	DefaultUTCOffsetHours = 8
	DefaultNotifyTimeout  = 10 * time.Second
	DefaultFeedInterval   = 5 * time.Second
	DefaultDSNEnv         = "QRRELAY_DATABASE_URL"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, metrics and WebSocket feed listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates REST clients.
	Auth AuthConfig `yaml:"auth"`

	// Session holds the timing policy for cached sessions and regenerated codes.
	Session SessionConfig `yaml:"session"`

	// Storage selects the persistent session store.
	Storage StorageConfig `yaml:"storage"`

	// Notify holds webhook delivery targets for scan and expiry events.
	Notify NotifyConfig `yaml:"notify"`

	// Feed controls the live WebSocket session feed.
	Feed FeedConfig `yaml:"feed"`

	Log LogConfig `yaml:"log"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// SessionConfig is the session timing policy. Every field except
// UTCOffsetHours and GridPeriod can be changed by a hot reload.
type SessionConfig struct {
	// CacheTTL is how long a record stays cached before a sweep drops it.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CourseTTL is how long after its scan a session stays valid.
	CourseTTL time.Duration `yaml:"course_ttl"`

	// SweepInterval is the period of the cleanup scheduler.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// GridPeriod is the step of the regenerated code's time grid.
	GridPeriod time.Duration `yaml:"grid_period"`

	// StoreTimeout bounds every call to the persistent store.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// UTCOffsetHours is the fixed zone that observation times are read and written in.
	UTCOffsetHours int `yaml:"utc_offset_hours"`
}

// UTCOffset returns UTCOffsetHours as a duration.
func (s SessionConfig) UTCOffset() time.Duration {
	return time.Duration(s.UTCOffsetHours) * time.Hour
}

// StorageConfig selects the persistent store.
type StorageConfig struct {
	// Driver is one of: memory | postgres.
	Driver string `yaml:"driver"`

	// DSNEnv is the name of the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`

	// Migrate applies embedded schema migrations at startup when true.
	Migrate bool `yaml:"migrate"`
}

// DSN returns the database connection string resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// NotifyConfig lists webhook targets.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// Timeout bounds one webhook delivery.
	Timeout time.Duration `yaml:"timeout"`
}

// FeedConfig controls the WebSocket feed.
type FeedConfig struct {
	// Interval is how often active sessions are pushed to connected clients.
	Interval time.Duration `yaml:"interval"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config { return defaults() }

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Session: SessionConfig{
				CacheTTL:       DefaultCacheTTL,
				CourseTTL:      DefaultCourseTTL,
				SweepInterval:  DefaultSweepInterval,
				GridPeriod:     DefaultGridPeriod,
				StoreTimeout:   DefaultStoreTimeout,
				UTCOffsetHours: DefaultUTCOffsetHours,
			},
			Storage: StorageConfig{
				Driver: "memory",
				DSNEnv: DefaultDSNEnv,
			},
			Notify: NotifyConfig{
				Timeout: DefaultNotifyTimeout,
			},
			Feed: FeedConfig{
				Interval: DefaultFeedInterval,
			},
			Log: LogConfig{
				Level: "info",
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Auth.Mode == "apikey" && s.Auth.KeyEnv == "" {
		return fmt.Errorf("server.auth.key_env is required when mode is apikey")
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"session.cache_ttl", s.Session.CacheTTL},
		{"session.course_ttl", s.Session.CourseTTL},
		{"session.sweep_interval", s.Session.SweepInterval},
		{"session.grid_period", s.Session.GridPeriod},
		{"session.store_timeout", s.Session.StoreTimeout},
		{"feed.interval", s.Feed.Interval},
	}
	for _, f := range durations {
		if f.d <= 0 {
			return fmt.Errorf("server.%s must be positive, got %v", f.name, f.d)
		}
	}
	if s.Session.UTCOffsetHours < -12 || s.Session.UTCOffsetHours > 14 {
		return fmt.Errorf("server.session.utc_offset_hours %d is out of range [-12, 14]", s.Session.UTCOffsetHours)
	}

	switch s.Storage.Driver {
	case "memory":
	case "postgres":
		if s.Storage.DSNEnv == "" {
			return fmt.Errorf("server.storage.dsn_env is required for the postgres driver")
		}
	default:
		return fmt.Errorf("server.storage.driver %q unknown: want memory|postgres", s.Storage.Driver)
	}

	for i, wh := range s.Notify.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.notify.webhooks[%d].type %q unknown: want slack|teams|http", i, wh.Type)
		}
	}
	if s.Notify.Timeout < 0 {
		return fmt.Errorf("server.notify.timeout must not be negative")
	}

	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the agent configuration.
const (
	DefaultBufferSize  = 100
	DefaultSendTimeout = 10 * time.Second
)

// Config holds the agent-side configuration parsed from the `agent:` section
// of config.yaml. The `server:` key in the same file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the base URL of qrrelay-server, e.g. "http://relay.local:8080".
	ServerURL string `yaml:"server_url"`

	// BufferSize is how many scans are held while the server is unreachable.
	// When full, the oldest scan is dropped. Default: 100.
	BufferSize int `yaml:"buffer_size"`

	// SendTimeout bounds one submission. Default: 10s.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// ServerAuth configures how the agent authenticates to the server.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// AuthConfig holds the credentials sent to the server.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header that carries the key. Default: "x-api-key".
	Header string `yaml:"header"`

	// KeyEnv is the environment variable holding the API key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
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

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			BufferSize:  DefaultBufferSize,
			SendTimeout: DefaultSendTimeout,
		},
	}
}

func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	u, err := url.Parse(a.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.server_url %q must be an http(s) URL", a.ServerURL)
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive, got %d", a.BufferSize)
	}
	if a.SendTimeout <= 0 {
		return fmt.Errorf("agent.send_timeout must be positive, got %v", a.SendTimeout)
	}
	switch a.ServerAuth.Mode {
	case "apikey":
		if a.ServerAuth.KeyEnv == "" {
			return fmt.Errorf("agent.server_auth.key_env is required when mode is apikey")
		}
	case "none", "":
	default:
		return fmt.Errorf("agent.server_auth.mode %q unknown: want apikey|none", a.ServerAuth.Mode)
	}
	return nil
}

// Package config provides configuration loading, defaulting, and validation
// for the case pipeline daemon.
//
// Configuration is read from a YAML file with ${ENV_VAR} substitution, so
// secrets such as API keys and the JWT secret stay out of the file itself.
// Defaults are applied after parsing; validation rejects configs the daemon
// could not run with.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderConfig   `yaml:"provider"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Storage    StorageConfig    `yaml:"storage"`
	Auth       AuthConfig       `yaml:"auth"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	StreamTimeout time.Duration `yaml:"stream_timeout"`
}

// ProviderConfig selects the LLM backend used for all stages.
type ProviderConfig struct {
	// Name is one of anthropic, openai, google, ollama, or mock.
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	HostURL string `yaml:"host_url"`
}

// PipelineConfig tunes the dispatcher and per-stage execution.
type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// StorageConfig locates the database and event log.
type StorageConfig struct {
	DBPath      string `yaml:"db_path"`
	EventLogDir string `yaml:"event_log_dir"`
}

// AuthConfig configures bearer token validation. An empty secret disables
// authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Audience  string `yaml:"audience"`
}

// PrometheusConfig points the metrics query CLI at a Prometheus server.
type PrometheusConfig struct {
	URL string `yaml:"url"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with the environment value. Unset
// variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads, expands, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.StreamTimeout <= 0 {
		cfg.Server.StreamTimeout = 10 * time.Minute
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "mock"
	}
	if cfg.Pipeline.Workers <= 0 {
		cfg.Pipeline.Workers = 2
	}
	if cfg.Pipeline.QueueSize <= 0 {
		cfg.Pipeline.QueueSize = 64
	}
	if cfg.Pipeline.StageTimeout <= 0 {
		cfg.Pipeline.StageTimeout = 3 * time.Minute
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = "caseflow.db"
	}
	if cfg.Storage.EventLogDir == "" {
		cfg.Storage.EventLogDir = "logs"
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = "authenticated"
	}
	if cfg.Prometheus.URL == "" {
		cfg.Prometheus.URL = "http://localhost:9090"
	}
}

// Validate rejects configurations the daemon could not run with.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai", "google":
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider %s requires an api_key", c.Provider.Name)
		}
	case "ollama", "mock":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Pipeline.Workers > 64 {
		return fmt.Errorf("workers %d exceeds the maximum of 64", c.Pipeline.Workers)
	}
	return nil
}

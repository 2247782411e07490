// Package config loads and validates the daemon configuration: global
// defaults, secret-provider credentials, and the list of managed services.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is where the daemon looks for its configuration when no
	// --config flag is given.
	DefaultPath = "/etc/envsyncd/config.yaml"

	defaultPollInterval = 5 * time.Minute
	defaultStateDir     = "/var/lib/envsyncd"
)

// Duration wraps time.Duration so YAML values like "30s" or "5m" decode.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Provider holds secret-provider connection defaults. Token and TokenFile
// are mutually exclusive; TokenFile keeps the credential out of the YAML.
type Provider struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token,omitempty"`
	TokenFile string `yaml:"token_file,omitempty"`
}

// Service describes one managed unit: a container, its variable file, and
// the secret-provider coordinates the variables come from. Immutable after
// load; a reload replaces descriptors wholesale.
type Service struct {
	Name        string   `yaml:"name"`
	Container   string   `yaml:"container"`
	EnvFile     string   `yaml:"env_file"`
	Project     string   `yaml:"project"`
	Environment string   `yaml:"environment"`
	Interval    Duration `yaml:"interval,omitempty"`
	Token       string   `yaml:"token,omitempty"`
	InjectEnv   bool     `yaml:"inject_env,omitempty"`
}

// Config is the full daemon configuration document.
type Config struct {
	LogLevel     string    `yaml:"log_level,omitempty"`
	StateDir     string    `yaml:"state_dir,omitempty"`
	PollInterval Duration  `yaml:"poll_interval,omitempty"`
	Provider     Provider  `yaml:"provider"`
	Services     []Service `yaml:"services"`
}

// EffectiveInterval resolves the poll cadence for a service: its own
// override if present, else the global default.
func (c *Config) EffectiveInterval(svc Service) time.Duration {
	if svc.Interval > 0 {
		return time.Duration(svc.Interval)
	}
	return time.Duration(c.PollInterval)
}

// ServiceToken resolves the credential for a service: per-service override
// first, then the provider token, then the provider token file.
func (c *Config) ServiceToken(svc Service) (string, error) {
	if svc.Token != "" {
		return svc.Token, nil
	}
	if c.Provider.Token != "" {
		return c.Provider.Token, nil
	}
	if c.Provider.TokenFile != "" {
		data, err := os.ReadFile(c.Provider.TokenFile)
		if err != nil {
			return "", fmt.Errorf("read provider token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("no token configured for service %q", svc.Name)
}

// Load reads and validates the configuration at path. A failed load never
// mutates anything; callers keep running on their previous configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if time.Duration(c.PollInterval) < time.Second {
		return fmt.Errorf("poll_interval %s is below the 1s minimum", time.Duration(c.PollInterval))
	}
	if c.Provider.URL == "" {
		return fmt.Errorf("provider.url is required")
	}
	if c.Provider.Token != "" && c.Provider.TokenFile != "" {
		return fmt.Errorf("provider.token and provider.token_file are mutually exclusive")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service is required")
	}

	seen := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true

		if svc.Container == "" {
			return fmt.Errorf("service %q: container is required", svc.Name)
		}
		if svc.EnvFile == "" {
			return fmt.Errorf("service %q: env_file is required", svc.Name)
		}
		if svc.Project == "" {
			return fmt.Errorf("service %q: project is required", svc.Name)
		}
		if svc.Environment == "" {
			return fmt.Errorf("service %q: environment is required", svc.Name)
		}
		if svc.Interval != 0 && time.Duration(svc.Interval) < time.Second {
			return fmt.Errorf("service %q: interval %s is below the 1s minimum", svc.Name, time.Duration(svc.Interval))
		}
	}
	return nil
}

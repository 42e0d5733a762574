// Package config handles loading and validating the bbf.yaml dev server
// configuration. The server runs with zero config (sensible local defaults);
// bbf.yaml overrides the listen address, manifests directory, CORS origins,
// invocation deadline, and Browserbase connection details.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultListenAddr is the bridge address handlers poll by default.
const DefaultListenAddr = "127.0.0.1:14113"

// DefaultInvokeTimeout is the invocation deadline advertised to the runtime.
const DefaultInvokeTimeout = 5 * time.Minute

// Config represents the top-level bbf.yaml configuration.
type Config struct {
	Listen        string            `yaml:"listen"`
	ManifestsDir  string            `yaml:"manifests_dir"`
	CORSOrigins   []string          `yaml:"cors_origins"`
	InvokeTimeout string            `yaml:"invoke_timeout"`
	Browserbase   BrowserbaseConfig `yaml:"browserbase"`
}

// BrowserbaseConfig describes how to reach the session-provisioning API.
// The API key itself comes from the environment, never from the file.
type BrowserbaseConfig struct {
	APIURL    string `yaml:"api_url"`
	ProjectID string `yaml:"project_id"`
}

// DefaultConfig returns local development defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:        DefaultListenAddr,
		CORSOrigins:   []string{"*"},
		InvokeTimeout: DefaultInvokeTimeout.String(),
	}
}

// Load parses a bbf.yaml file and validates it. If path is empty, returns
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListenAddr
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.InvokeTimeout == "" {
		cfg.InvokeTimeout = DefaultInvokeTimeout.String()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: BBF_CONFIG env var > ./bbf.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("BBF_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("bbf.yaml"); err == nil {
		return "bbf.yaml"
	}
	return ""
}

// Deadline parses the configured invocation timeout.
func (c *Config) Deadline() time.Duration {
	d, err := time.ParseDuration(c.InvokeTimeout)
	if err != nil || d <= 0 {
		return DefaultInvokeTimeout
	}
	return d
}

// validate checks field formats so bad config fails at startup, not mid-invoke.
func (c *Config) validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen %q: must be host:port (%v)", c.Listen, err)
	}
	if _, err := time.ParseDuration(c.InvokeTimeout); err != nil {
		return fmt.Errorf("invoke_timeout %q: must be a valid Go duration (e.g. 5m) (%v)", c.InvokeTimeout, err)
	}
	return nil
}

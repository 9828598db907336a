// Package config loads weaverd's layered runtime configuration: YAML
// file, then environment-variable overrides, mirroring the precedence
// and per-concern-file layout the teacher repo uses for its own config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all weaverd daemon configuration.
type Config struct {
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Sandbox      SandboxConfig      `yaml:"sandbox"`
	Plugins      PluginConfig       `yaml:"plugins"`
	Capability   CapabilityConfig   `yaml:"capability"`
	Verification VerificationConfig `yaml:"verification"`
	Logging      LoggingConfig      `yaml:"logging"`
	Audit        AuditConfig        `yaml:"audit"`
}

// DefaultConfig returns the built-in defaults, used when no config file
// is present and as the base that a loaded file and env overrides are
// layered onto.
func DefaultConfig() *Config {
	return &Config{
		Runtime:      DefaultRuntimeConfig(),
		Sandbox:      DefaultSandboxConfig(),
		Plugins:      DefaultPluginConfig(),
		Capability:   DefaultCapabilityConfig(),
		Verification: DefaultVerificationConfig(),
		Logging:      DefaultLoggingConfig(),
		Audit:        DefaultAuditConfig(),
	}
}

// Load reads a YAML config file (if it exists) over the defaults, then
// applies environment-variable overrides. A missing file is not an
// error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults stand.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Runtime.applyEnvOverrides()
	c.Plugins.applyEnvOverrides()
}

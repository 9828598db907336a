package config

import "time"

// SandboxConfig configures plugin and tool process execution.
// ExecutableDirs feeds cmd/weaverd's sandbox profile; DefaultTimeout and
// MaxOutputBytes are loaded but not read by any component.
type SandboxConfig struct {
	ExecutableDirs []string      `yaml:"executable_dirs"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		ExecutableDirs: []string{"/usr/libexec/weaverd/plugins"},
		DefaultTimeout: 30 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

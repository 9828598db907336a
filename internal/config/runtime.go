package config

import "os"

// RuntimeConfig controls the socket endpoint and daemon-side file logging.
type RuntimeConfig struct {
	Endpoint          string `yaml:"endpoint"`
	EnableFileLogging bool   `yaml:"enable_file_logging"`
}

// DefaultRuntimeConfig returns the built-in runtime defaults.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Endpoint:          "unix:///run/weaverd/weaverd.sock",
		EnableFileLogging: true,
	}
}

func (c *RuntimeConfig) applyEnvOverrides() {
	if v := os.Getenv("WEAVERD_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("WEAVERD_FILE_LOGGING"); v != "" {
		c.EnableFileLogging = v != "0" && v != "false"
	}
}

package config

// LoggingConfig controls the zap-backed structured logger used for
// stderr/stdout boot diagnostics, distinct from obslog's per-category
// file streams. It is loaded with the rest of the config, but
// cmd/weaverd does not read it: the boot logger's level comes from the
// --verbose flag.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultLoggingConfig returns the built-in logging defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level: "info",
		JSON:  false,
	}
}

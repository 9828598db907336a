package config

// CapabilityConfig locates the declarative override matrix source.
type CapabilityConfig struct {
	MatrixPath string `yaml:"matrix_path"`
	WatchMatrix bool  `yaml:"watch_matrix"`
}

// DefaultCapabilityConfig returns the built-in capability defaults.
func DefaultCapabilityConfig() CapabilityConfig {
	return CapabilityConfig{
		MatrixPath:  "/etc/weaverd/capabilities.mangle",
		WatchMatrix: true,
	}
}

package config

import "os"

// PluginConfig locates plugin manifests and toggles watching them.
type PluginConfig struct {
	ManifestDir    string `yaml:"manifest_dir"`
	WatchManifests bool   `yaml:"watch_manifests"`
}

// DefaultPluginConfig returns the built-in plugin defaults.
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{
		ManifestDir:    "/etc/weaverd/plugins.d",
		WatchManifests: true,
	}
}

func (c *PluginConfig) applyEnvOverrides() {
	if v := os.Getenv("WEAVERD_PLUGIN_MANIFEST_DIR"); v != "" {
		c.ManifestDir = v
	}
}

package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile is the on-disk YAML shape for one plugin manifest.
type manifestFile struct {
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	Kind         string   `yaml:"kind"`
	Languages    []string `yaml:"languages"`
	Executable   string   `yaml:"executable"`
	Args         []string `yaml:"args"`
	TimeoutSecs  int      `yaml:"timeout_secs"`
	Capabilities []string `yaml:"capabilities"`
}

// LoadManifestFile parses one YAML manifest file into a Manifest.
func LoadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read manifest %s: %w", path, err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("plugin: parse manifest %s: %w", path, err)
	}

	caps := make([]CapabilityID, 0, len(mf.Capabilities))
	for _, c := range mf.Capabilities {
		caps = append(caps, CapabilityID(c))
	}

	m := &Manifest{
		Name:         mf.Name,
		Version:      mf.Version,
		Kind:         Kind(mf.Kind),
		Languages:    mf.Languages,
		Executable:   mf.Executable,
		Args:         mf.Args,
		TimeoutSecs:  mf.TimeoutSecs,
		Capabilities: caps,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("plugin: invalid manifest %s: %w", path, err)
	}
	return m, nil
}

// LoadManifestDir loads every *.yaml/*.yml manifest in dir. A missing
// directory yields an empty slice, not an error: manifests are
// optional.
func LoadManifestDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read manifest dir %s: %w", dir, err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		m, err := LoadManifestFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// Package plugin implements the plugin broker: a manifest registry,
// capability-contract validation, and one-shot stdio execution with
// timeout and output parsing.
package plugin

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind distinguishes the two plugin roles.
type Kind string

const (
	KindSensor   Kind = "Sensor"
	KindActuator Kind = "Actuator"
)

// Manifest describes one plugin: how to launch it, which languages and
// capabilities it serves.
type Manifest struct {
	Name         string
	Version      string
	Kind         Kind
	Languages    []string
	Executable   string // must be absolute
	Args         []string
	TimeoutSecs  int
	Capabilities []CapabilityID
}

// Validate enforces the manifest invariants: non-empty trimmed name,
// absolute executable path.
func (m *Manifest) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("plugin manifest: name must be non-empty")
	}
	if !filepath.IsAbs(m.Executable) {
		return fmt.Errorf("plugin manifest %s: executable must be absolute: %s", m.Name, m.Executable)
	}
	return nil
}

// HasLanguage reports case-insensitive language membership.
func (m *Manifest) HasLanguage(language string) bool {
	want := strings.ToLower(strings.TrimSpace(language))
	for _, l := range m.Languages {
		if strings.ToLower(l) == want {
			return true
		}
	}
	return false
}

// HasCapability reports whether the manifest declares a capability.
func (m *Manifest) HasCapability(id CapabilityID) bool {
	for _, c := range m.Capabilities {
		if c == id {
			return true
		}
	}
	return false
}

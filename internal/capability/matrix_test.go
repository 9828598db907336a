package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverrideForCaseAndWhitespaceInsensitive(t *testing.T) {
	m := NewMatrix()
	m.Set("  Go  ", KindDefinition, DecisionForce)

	dec, ok := m.OverrideFor("GO", KindDefinition)
	require.True(t, ok)
	assert.Equal(t, DecisionForce, dec)
}

func TestOverrideForMissingReturnsFalse(t *testing.T) {
	m := NewMatrix()
	_, ok := m.OverrideFor("python", KindReferences)
	assert.False(t, ok)
}

func TestSetLaterWinsOnDuplicateKey(t *testing.T) {
	m := NewMatrix()
	m.Set("go", KindDiagnostics, DecisionAllow)
	m.Set("go", KindDiagnostics, DecisionDeny)

	dec, ok := m.OverrideFor("go", KindDiagnostics)
	require.True(t, ok)
	assert.Equal(t, DecisionDeny, dec)
}

func TestLoadSourceImportsFacts(t *testing.T) {
	source := `capability_override(/go, /diagnostics, /deny).`
	m, err := LoadSource(source)
	require.NoError(t, err)

	dec, ok := m.OverrideFor("go", KindDiagnostics)
	require.True(t, ok)
	assert.Equal(t, DecisionDeny, dec)
}

package capability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubServer struct {
	caps ServerCapabilitySet
	err  error
}

func (s *stubServer) Initialise() (ServerCapabilitySet, error) {
	return s.caps, s.err
}

func TestResolveForceOverrideWins(t *testing.T) {
	matrix := NewMatrix()
	matrix.Set("go", KindDiagnostics, DecisionForce)

	summary := Resolve("go", ServerCapabilitySet{}, matrix)
	assert.True(t, summary[KindDiagnostics].Enabled)
	assert.Equal(t, SourceForcedOverride, summary[KindDiagnostics].Source)
}

func TestResolveDenyOverrideWins(t *testing.T) {
	matrix := NewMatrix()
	matrix.Set("go", KindDefinition, DecisionDeny)

	summary := Resolve("go", ServerCapabilitySet{Definition: true}, matrix)
	assert.False(t, summary[KindDefinition].Enabled)
	assert.Equal(t, SourceDeniedOverride, summary[KindDefinition].Source)
}

func TestResolveMirrorsServerWhenNoOverride(t *testing.T) {
	matrix := NewMatrix()
	summary := Resolve("go", ServerCapabilitySet{References: true}, matrix)
	assert.True(t, summary[KindReferences].Enabled)
	assert.Equal(t, SourceServerAdvertised, summary[KindReferences].Source)

	assert.False(t, summary[KindCallHierarchy].Enabled)
	assert.Equal(t, SourceMissingOnServer, summary[KindCallHierarchy].Source)
}

func TestRegisterLanguageRejectsDuplicate(t *testing.T) {
	h := NewHost(NewMatrix())
	require.NoError(t, h.RegisterLanguage("go", &stubServer{}))
	err := h.RegisterLanguage("GO", &stubServer{})
	require.Error(t, err)
	_, ok := err.(*ErrDuplicateLanguage)
	assert.True(t, ok)
}

func TestEnsureReadyTransitionsPendingToReady(t *testing.T) {
	h := NewHost(NewMatrix())
	require.NoError(t, h.RegisterLanguage("go", &stubServer{caps: ServerCapabilitySet{Definition: true}}))

	summary, err := h.EnsureReady("go")
	require.NoError(t, err)
	assert.True(t, summary[KindDefinition].Enabled)
}

func TestCheckCapabilityUnavailable(t *testing.T) {
	h := NewHost(NewMatrix())
	require.NoError(t, h.RegisterLanguage("go", &stubServer{}))

	err := h.CheckCapability("go", KindDefinition)
	require.Error(t, err)
	_, ok := err.(*CapabilityUnavailableError)
	assert.True(t, ok)
}

func TestCheckCapabilityPropagatesInitialiseError(t *testing.T) {
	h := NewHost(NewMatrix())
	require.NoError(t, h.RegisterLanguage("go", &stubServer{err: errors.New("boom")}))

	err := h.CheckCapability("go", KindDefinition)
	require.Error(t, err)
}

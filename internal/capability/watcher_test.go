package capability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capabilities.mangle")

	matrix := NewMatrix()
	w, err := NewWatcher(path, matrix)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	_, ok := matrix.OverrideFor("rust", KindDefinition)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte(
		`capability_override(/rust, /definition, /deny).`), 0o644))

	require.Eventually(t, func() bool {
		dec, ok := matrix.OverrideFor("rust", KindDefinition)
		return ok && dec == DecisionDeny
	}, 2*time.Second, 20*time.Millisecond)
}

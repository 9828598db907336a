package transaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leynos/weaverd/internal/audit"
	"github.com/leynos/weaverd/internal/safety"
)

type stubSource struct {
	byContent map[string][]safety.Diagnostic
}

func (s *stubSource) Diagnostics(path string, content []byte) ([]safety.Diagnostic, error) {
	return s.byContent[string(content)], nil
}

func openLedger(t *testing.T) *audit.Ledger {
	t.Helper()
	ledger, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestRunCommitsOnCleanVerification(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	vctx := &safety.VerificationContext{Changes: []safety.FileChange{
		{Path: target, Kind: safety.ChangeWrite, OriginalContent: []byte("old"), ProposedContent: []byte("new")},
	}}
	src := &stubSource{byContent: map[string][]safety.Diagnostic{}}
	ledger := openLedger(t)

	outcome := Run(context.Background(), vctx, nil, src, true, ledger)
	assert.Equal(t, OutcomeCommitted, outcome.Kind)
	assert.Equal(t, []string{target}, outcome.FilesModified)
	assert.NotEmpty(t, outcome.ID)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	recs, err := ledger.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, audit.KindCommit, recs[0].Kind)
}

func TestRunFailsSemanticLockWithoutCommitting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	vctx := &safety.VerificationContext{Changes: []safety.FileChange{
		{Path: target, Kind: safety.ChangeWrite, OriginalContent: []byte("old"), ProposedContent: []byte("new")},
	}}
	src := &stubSource{byContent: map[string][]safety.Diagnostic{
		"new": {{File: target, Line: 1, Message: "undefined symbol", Severity: safety.SeverityError}},
	}}
	ledger := openLedger(t)

	outcome := Run(context.Background(), vctx, nil, src, true, ledger)
	assert.Equal(t, OutcomeSemanticLockFailed, outcome.Kind)
	require.Len(t, outcome.Failures, 1)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "commit must not run after a failed lock")
}

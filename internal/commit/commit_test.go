package commit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitAppliesWritesAndDeletes(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.txt")
	fresh := filepath.Join(dir, "fresh.txt")
	gone := filepath.Join(dir, "gone.txt")

	require.NoError(t, os.WriteFile(keep, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(gone, []byte("bye"), 0o644))

	err := Commit([]Write{
		{Path: keep, Content: []byte("new")},
		{Path: fresh, Content: []byte("created")},
	}, []string{gone})
	require.NoError(t, err)

	data, err := os.ReadFile(keep)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	data, err = os.ReadFile(fresh)
	require.NoError(t, err)
	assert.Equal(t, "created", string(data))

	_, err = os.Stat(gone)
	assert.True(t, os.IsNotExist(err))
}

func TestCommitCreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c.txt")

	err := Commit([]Write{{Path: nested, Content: []byte("hi")}}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(nested)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestCommitSkipsMissingDeleteTarget(t *testing.T) {
	dir := t.TempDir()
	written := filepath.Join(dir, "written.txt")
	require.NoError(t, os.WriteFile(written, []byte("original"), 0o644))

	missing := filepath.Join(dir, "subdir-that-does-not-exist", "missing.txt")

	err := Commit([]Write{{Path: written, Content: []byte("changed")}}, []string{missing})
	require.NoError(t, err, "a delete target that never existed is skipped, not a failure")

	data, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.Equal(t, "changed", string(data))
}

func TestRollbackWritesRestoresOriginalAndRemovesNew(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("original"), 0o644))
	created := filepath.Join(dir, "created.txt")

	journal := []*preparedWrite{
		{path: existing, original: []byte("original"), existedBefore: true},
		{path: created, existedBefore: false},
	}
	require.NoError(t, os.WriteFile(existing, []byte("mutated"), 0o644))
	require.NoError(t, os.WriteFile(created, []byte("new file"), 0o644))

	rollbackWrites(journal)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	_, err = os.Stat(created)
	assert.True(t, os.IsNotExist(err))
}

package fschange

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "restart.txt")
	c := NewChecker(4)

	// First observation only records state.
	changed, err := c.Changed(path, 0)
	require.NoError(t, err)
	assert.False(t, changed, "first observation is never a change")

	// Creation is a change.
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	changed, err = c.Changed(path, 0)
	require.NoError(t, err)
	assert.True(t, changed, "file creation must be detected")

	// Steady state.
	changed, err = c.Changed(path, 0)
	require.NoError(t, err)
	assert.False(t, changed)

	// An mtime bump is a change even with identical content size.
	newTime := time.Now().Add(10 * time.Second)
	require.NoError(t, os.Chtimes(path, newTime, newTime))
	changed, err = c.Changed(path, 0)
	require.NoError(t, err)
	assert.True(t, changed, "mtime change must be detected")

	// Deletion is a change; continued absence is not.
	require.NoError(t, os.Remove(path))
	changed, err = c.Changed(path, 0)
	require.NoError(t, err)
	assert.True(t, changed, "deletion must be detected")

	changed, err = c.Changed(path, 0)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCheckerExistingFileAtFirstObservation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "restart.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	c := NewChecker(4)
	changed, err := c.Changed(path, 0)
	require.NoError(t, err)
	assert.False(t, changed, "a pre-existing sentinel is not a change by itself")
}

func TestCheckerReset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "restart.txt")
	c := NewChecker(4)

	_, err := c.Changed(path, 0)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	c.Reset()

	changed, err := c.Changed(path, 0)
	require.NoError(t, err)
	assert.False(t, changed, "reset must forget prior observations")
}

package fschange

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedStatThrottling(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "probe.txt")
	c := NewCachedStat(4)

	// First observation is always real: the file does not exist.
	_, err := c.Stat(path, time.Hour)
	require.True(t, os.IsNotExist(err))

	// The file appears, but the throttled entry still reports the cached
	// not-found result.
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err = c.Stat(path, time.Hour)
	assert.True(t, os.IsNotExist(err), "throttled stat must serve the cached result")

	// A zero throttle bypasses the cache entirely.
	info, err := c.Stat(path, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size())
}

func TestCachedStatRefreshAfterInterval(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "probe.txt")
	c := NewCachedStat(4)

	_, err := c.Stat(path, 10*time.Millisecond)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(path, []byte("xy"), 0o644))
	require.Eventually(t, func() bool {
		info, err := c.Stat(path, 10*time.Millisecond)

		return err == nil && info.Size() == 2
	}, 2*time.Second, 5*time.Millisecond, "entry must refresh once the interval elapses")
}

func TestCachedStatReset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "probe.txt")
	c := NewCachedStat(4)

	_, err := c.Stat(path, time.Hour)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	c.Reset()

	_, err = c.Stat(path, time.Hour)
	assert.NoError(t, err, "reset must force a fresh observation")
}

func TestCachedStatEviction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c := NewCachedStat(2)

	for _, name := range []string{"a", "b", "c"} {
		_, err := c.Stat(filepath.Join(dir, name), time.Hour)
		require.True(t, os.IsNotExist(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.entries, 2, "cache must not grow past its capacity")
}

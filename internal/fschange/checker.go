package fschange

import (
	"io/fs"
	"os"
	"sync"
	"syscall"
	"time"
)

// fileState captures the identity of one observation of a file.
type fileState struct {
	exists  bool
	modTime time.Time
	size    int64
	inode   uint64
}

// Checker reports whether a file changed between consecutive observations.
// The first observation of a path only records its state; a change is
// reported once a later observation differs in existence, mtime, size or
// inode. Stat calls are throttled through a CachedStat.
type Checker struct {
	mu    sync.Mutex
	cstat *CachedStat
	seen  map[string]fileState
}

// NewChecker returns a checker tracking up to maxEntries paths.
func NewChecker(maxEntries int) *Checker {
	return &Checker{
		cstat: NewCachedStat(maxEntries),
		seen:  make(map[string]fileState),
	}
}

// Changed observes path and reports whether it differs from the previous
// observation. A missing file is a valid observation, not an error; any other
// stat failure is returned to the caller.
func (c *Checker) Changed(path string, throttle time.Duration) (bool, error) {
	info, err := c.cstat.Stat(path, throttle)

	var state fileState
	switch {
	case err == nil:
		state = fileState{
			exists:  true,
			modTime: info.ModTime(),
			size:    info.Size(),
			inode:   inodeOf(info),
		}
	case os.IsNotExist(err):
		state = fileState{}
	default:
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.seen[path]
	c.seen[path] = state
	if !ok {
		return false, nil
	}

	return prev != state, nil
}

// Reset forgets all previous observations.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]fileState)
	c.cstat.Reset()
}

func inodeOf(info fs.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}

	return 0
}

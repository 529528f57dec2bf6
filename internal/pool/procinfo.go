package pool

import (
	"container/list"
	"fmt"
	"strings"
	"time"
)

// procInfo is the pool's record of one worker. All fields are guarded by the
// shared lock.
type procInfo struct {
	process   Process
	startTime time.Time
	lastUsed  time.Time
	sessions  uint
	processed uint64

	// elem is this record's node in its group's process list. iaElem is its
	// node in the shared inactive list and is only meaningful while
	// sessions == 0.
	elem   *list.Element
	iaElem *list.Element

	// retired marks a record that has been removed from the pool, so that a
	// late session close callback becomes a no-op.
	retired bool
}

func newProcInfo(process Process) *procInfo {
	return &procInfo{
		process:   process,
		startTime: time.Now(),
	}
}

// uptime returns how long this worker has been running, as "Nh Mm Ss".
func (pi *procInfo) uptime() string {
	seconds := int64(time.Since(pi.startTime) / time.Second)

	var b strings.Builder
	if seconds >= 60 {
		minutes := seconds / 60
		if minutes >= 60 {
			fmt.Fprintf(&b, "%dh ", minutes/60)
			minutes %= 60
		}
		seconds %= 60
		fmt.Fprintf(&b, "%dm ", minutes)
	}
	fmt.Fprintf(&b, "%ds", seconds)

	return b.String()
}

// group collects the workers of one application plus its retirement policy.
type group struct {
	// processes keeps the ordering invariant: idle workers precede busy ones.
	processes list.List
	size      uint
	// maxRequests retires a worker after that many processed sessions; zero
	// disables retirement. Fixed at group creation.
	maxRequests uint64
}

func newGroup(maxRequests uint64) *group {
	g := &group{maxRequests: maxRequests}
	g.processes.Init()

	return g
}

package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	alwaysRestartFile = "always_restart.txt"
	restartFile       = "restart.txt"
)

// restartDir resolves where restart sentinels are looked up for an
// application: <appRoot>/tmp by default, opts.RestartDir verbatim when
// absolute, joined with appRoot when relative.
func restartDir(opts Options) string {
	switch {
	case opts.RestartDir == "":
		return filepath.Join(opts.AppRoot, "tmp")
	case filepath.IsAbs(opts.RestartDir):
		return opts.RestartDir
	default:
		return filepath.Join(opts.AppRoot, opts.RestartDir)
	}
}

// needsRestart reports whether the application's workers must be purged:
// either always_restart.txt exists, or restart.txt changed since the last
// observation. A missing sentinel is not an error.
func (p *Pool) needsRestart(opts Options) (bool, error) {
	dir := restartDir(opts)
	throttle := time.Duration(opts.StatThrottleRate) * time.Second

	_, err := p.cstat.Stat(filepath.Join(dir, alwaysRestartFile), throttle)
	if err == nil {
		return true, nil
	}
	if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking restart sentinel for %q: %w",
			opts.AppRoot, err)
	}

	changed, err := p.checker.Changed(filepath.Join(dir, restartFile), throttle)
	if err != nil {
		return false, fmt.Errorf("checking restart sentinel for %q: %w",
			opts.AppRoot, err)
	}

	return changed, nil
}

// purgeGroup removes every worker of appRoot from the pool and terminates
// them. Caller holds the lock.
func (p *Pool) purgeGroup(appRoot string, g *group) {
	d := p.data
	for el := g.processes.Front(); el != nil; {
		next := el.Next()
		pi := el.Value.(*procInfo)
		if pi.sessions == 0 {
			d.inactive.Remove(pi.iaElem)
			pi.iaElem = nil
		} else {
			d.active--
		}
		g.processes.Remove(el)
		d.count--
		pi.retired = true
		closeProcess(pi.process)
		el = next
	}
	delete(d.groups, appRoot)
}

// spawnOrUseExisting is the acquisition decision tree. It is entered and left
// with the lock held; waits on the change condition release the lock and
// restart the tree from the top. On success the selected worker has its
// session count incremented and lastUsed refreshed.
func (p *Pool) spawnOrUseExisting(
	ctx context.Context, opts Options,
) (*procInfo, *group, error) {
	d := p.data
	appRoot := opts.AppRoot

	for {
		needs, err := p.needsRestart(opts)
		if err != nil {
			return nil, nil, err
		}
		if needs {
			if g, ok := d.groups[appRoot]; ok {
				log.Debug().Str("app_root", appRoot).Msg("restarting application")
				p.purgeGroup(appRoot, g)
				d.change.Broadcast()
			}
			p.spawner.Reload(appRoot)
		}

		g, ok := d.groups[appRoot]

		var pi *procInfo
		switch {
		case ok && g.processes.Front().Value.(*procInfo).sessions == 0:
			// An idle worker is at the front by the ordering invariant.
			pi = g.processes.Front().Value.(*procInfo)
			g.processes.MoveToBack(pi.elem)
			d.inactive.Remove(pi.iaElem)
			pi.iaElem = nil
			d.active++
			d.change.Broadcast()

		case ok && (d.count >= d.max || (d.maxPerApp != 0 && g.size >= d.maxPerApp)):
			// All of the group's workers are busy and there is no room to
			// grow: wait on the global queue or multiplex onto the least
			// busy worker.
			if opts.UseGlobalQueue {
				d.waitingOnGlobalQueue++
				err := p.waitChange(ctx)
				d.waitingOnGlobalQueue--
				if err != nil {
					return nil, nil, err
				}

				continue
			}

			smallest := g.processes.Front()
			for el := smallest.Next(); el != nil; el = el.Next() {
				if el.Value.(*procInfo).sessions <
					smallest.Value.(*procInfo).sessions {
					smallest = el
				}
			}
			pi = smallest.Value.(*procInfo)
			g.processes.MoveToBack(pi.elem)

		case ok:
			// All busy, but capacity allows growing the group.
			process, err := p.spawn(opts)
			if err != nil {
				return nil, nil, err
			}
			pi = newProcInfo(process)
			pi.elem = g.processes.PushBack(pi)
			g.size++
			d.count++
			d.active++
			d.change.Broadcast()

		default:
			// No group for this application yet.
			if d.active >= d.max {
				if err := p.waitChange(ctx); err != nil {
					return nil, nil, err
				}

				continue
			}
			if d.count == d.max {
				p.evictLRU()
			}

			process, err := p.spawn(opts)
			if err != nil {
				return nil, nil, err
			}
			pi = newProcInfo(process)
			g = newGroup(opts.MaxRequests)
			g.size = 1
			d.groups[appRoot] = g
			pi.elem = g.processes.PushBack(pi)
			d.count++
			d.active++
			d.change.Broadcast()
		}

		pi.lastUsed = time.Now()
		pi.sessions++

		return pi, g, nil
	}
}

// evictLRU removes the globally least recently used idle worker to make room
// for a new one. Caller holds the lock; the inactive list is nonempty here
// because count == max while active < max.
func (p *Pool) evictLRU() {
	d := p.data

	el := d.inactive.Front()
	victim := el.Value.(*procInfo)
	d.inactive.Remove(el)
	victim.iaElem = nil

	victimRoot := victim.process.AppRoot()
	vg := d.groups[victimRoot]
	vg.processes.Remove(victim.elem)
	if vg.processes.Len() == 0 {
		delete(d.groups, victimRoot)
	} else {
		vg.size--
	}
	d.count--
	victim.retired = true

	log.Debug().
		Str("app_root", victimRoot).
		Int("pid", victim.process.Pid()).
		Msg("evicting least recently used idle worker")
	closeProcess(victim.process)
}

// spawn asks the spawn service for a new worker, wrapping failures with the
// application root. Counters are only touched by the caller after a
// successful spawn, so a failure leaves the pool state untouched.
func (p *Pool) spawn(opts Options) (Process, error) {
	process, err := p.spawner.Spawn(opts)
	if err != nil {
		return nil, fmt.Errorf("cannot spawn application %q: %w", opts.AppRoot, err)
	}

	return process, nil
}

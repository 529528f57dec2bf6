// Package pool implements a thread-safe cache and scheduler of long-lived
// application worker processes. Callers obtain sessions bound to workers;
// workers are reused, spawned, evicted across applications by LRU, or shared
// within an application by least-busy selection when capacity runs out.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_appool/internal/fschange"
)

const (
	defaultMaxIdleTime = 120 * time.Second
	defaultMax         = 20
	defaultMaxPerApp   = 0
	maxGetAttempts     = 10

	statCacheEntries = defaultMax
)

// sharedData is the locked heart of the pool: every map, list and counter
// below is guarded by mu, and the invariants hold at every lock release.
type sharedData struct {
	mu     sync.Mutex
	change *sync.Cond // signaled when a worker frees up or limits change

	groups    map[string]*group
	max       uint
	count     uint // total workers across all groups
	active    uint // workers with sessions > 0
	maxPerApp uint

	// inactive orders all idle workers across groups, front = least recently
	// used, back = most recently used.
	inactive list.List

	waitingOnGlobalQueue uint

	closed bool
}

func newSharedData() *sharedData {
	d := &sharedData{
		groups:    make(map[string]*group),
		max:       defaultMax,
		maxPerApp: defaultMaxPerApp,
	}
	d.inactive.Init()
	d.change = sync.NewCond(&d.mu)

	return d
}

// Pool caches and schedules application worker processes. It is fully
// thread-safe, but lives inside one process: it is unusable after forking.
type Pool struct {
	spawner Manager
	data    *sharedData

	// maxIdleTime is guarded by data.mu; the reaper re-reads it every cycle.
	maxIdleTime time.Duration

	cstat   *fschange.CachedStat
	checker *fschange.Checker

	reaperWake chan struct{}
	done       chan struct{}
	wg         sync.WaitGroup

	// debug enables invariant verification after every mutation sequence.
	debug bool
}

// New returns a pool backed by the given spawn service and starts its
// background reaper.
func New(spawner Manager) *Pool {
	p := &Pool{
		spawner:     spawner,
		data:        newSharedData(),
		maxIdleTime: defaultMaxIdleTime,
		cstat:       fschange.NewCachedStat(statCacheEntries),
		checker:     fschange.NewChecker(statCacheEntries),
		reaperWake:  make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	p.wg.Add(1)
	go p.reaperLoop()

	return p
}

// Get returns a session on a worker serving opts.AppRoot, spawning, reusing,
// evicting or waiting as capacity dictates. The caller must close the session
// to release the worker. Get blocks until a worker is available or ctx is
// done.
func (p *Pool) Get(ctx context.Context, opts Options) (Session, error) {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxGetAttempts; attempt++ {
		pi, g, err := p.spawnOrUseExisting(ctx, opts)
		if err != nil {
			return nil, err
		}
		p.verify()

		sess, err := pi.process.Connect(func() { p.sessionClosed(pi) })
		if err == nil {
			return sess, nil
		}
		lastErr = err

		// The worker is unusable: retire it and try again.
		log.Warn().
			Str("app_root", opts.AppRoot).
			Int("pid", pi.process.Pid()).
			Int("attempt", attempt).
			Err(err).
			Msg("connect to worker failed, retiring it")

		pi.sessions--
		g.processes.Remove(pi.elem)
		g.size--
		if g.processes.Len() == 0 {
			delete(d.groups, opts.AppRoot)
		}
		d.count--
		d.active--
		pi.retired = true
		closeProcess(pi.process)
		d.change.Broadcast()
		p.verify()
	}

	return nil, fmt.Errorf(
		"cannot connect to an existing application instance for %q: %w",
		opts.AppRoot, lastErr)
}

// Clear removes all workers from the pool and terminates their processes.
func (p *Pool) Clear() {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()

	p.clearLocked()
}

// clearLocked empties every group and the inactive list. Caller holds the
// lock. Sentinel observation state is kept, matching the pool's historical
// behavior; a restart is still detected through the usual sentinels.
func (p *Pool) clearLocked() {
	d := p.data
	for appRoot, g := range d.groups {
		for el := g.processes.Front(); el != nil; el = el.Next() {
			pi := el.Value.(*procInfo)
			pi.retired = true
			closeProcess(pi.process)
		}
		delete(d.groups, appRoot)
	}
	d.inactive.Init()
	d.count = 0
	d.active = 0
	d.change.Broadcast()
	p.verify()
}

// SetMaxIdleTime updates the idle retirement threshold and wakes the reaper.
// Zero disables idle retirement.
func (p *Pool) SetMaxIdleTime(idle time.Duration) {
	d := p.data
	d.mu.Lock()
	p.maxIdleTime = idle
	d.mu.Unlock()

	select {
	case p.reaperWake <- struct{}{}:
	default:
	}
}

// SetMax updates the global worker cap and wakes queued callers.
func (p *Pool) SetMax(n uint) {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()
	d.max = n
	d.change.Broadcast()
}

// SetMaxPerApp updates the per-application worker cap. Zero disables it.
func (p *Pool) SetMaxPerApp(n uint) {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxPerApp = n
	d.change.Broadcast()
}

// Active returns the number of workers currently serving sessions.
func (p *Pool) Active() uint {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.active
}

// Count returns the total number of workers in the pool.
func (p *Pool) Count() uint {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.count
}

// WaitingOnGlobalQueue returns how many callers are blocked on the global
// queue.
func (p *Pool) WaitingOnGlobalQueue() uint {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.waitingOnGlobalQueue
}

// SpawnServerPid returns the pid of the spawn service.
func (p *Pool) SpawnServerPid() int {
	return p.spawner.ServerPid()
}

// Close shuts the pool down: the reaper stops, blocked Get callers fail with
// ErrPoolClosed and all worker processes are terminated.
func (p *Pool) Close() {
	d := p.data
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return
	}
	d.closed = true
	close(p.done)
	p.clearLocked()
	d.mu.Unlock()

	p.wg.Wait()
}

// waitChange blocks on the change condition until signaled, the context is
// done or the pool closes. Caller holds the lock; the lock is held again on
// return. Wakeups are spurious-safe: callers re-evaluate their state.
func (p *Pool) waitChange(ctx context.Context) error {
	d := p.data
	if d.closed {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.change.Broadcast()
		d.mu.Unlock()
	})
	d.change.Wait()
	stop()

	if err := ctx.Err(); err != nil {
		return err
	}
	if d.closed {
		return ErrPoolClosed
	}

	return nil
}

// closeProcess terminates a worker process, logging the failure if any.
func closeProcess(process Process) {
	if err := process.Close(); err != nil {
		log.Error().
			Int("pid", process.Pid()).
			Str("app_root", process.AppRoot()).
			Err(err).
			Msg("failed to terminate worker process")
	}
}

// verify asserts the pool invariants when debug checking is on. Invariant
// violations are programmer errors.
func (p *Pool) verify() {
	if !p.debug {
		return
	}
	if err := p.verifyState(); err != nil {
		panic(fmt.Sprintf("pool state is invalid: %v\n%s", err, p.inspectLocked()))
	}
}

// verifyState checks every structural invariant. Caller holds the lock.
func (p *Pool) verifyState() error {
	d := p.data

	var totalSize uint
	for appRoot, g := range d.groups {
		if g.size != uint(g.processes.Len()) {
			return fmt.Errorf("group %q size %d != list length %d",
				appRoot, g.size, g.processes.Len())
		}
		if g.processes.Len() == 0 {
			return fmt.Errorf("group %q is empty", appRoot)
		}
		totalSize += g.size

		seenBusy := false
		for el := g.processes.Front(); el != nil; el = el.Next() {
			pi := el.Value.(*procInfo)
			if pi.sessions > 0 {
				seenBusy = true
			} else if seenBusy {
				return fmt.Errorf(
					"group %q is not sorted from idle to busy", appRoot)
			}
			if pi.elem != el {
				return fmt.Errorf(
					"group %q has a worker with a stale group position", appRoot)
			}
			if (pi.sessions == 0) != (pi.iaElem != nil) {
				return fmt.Errorf(
					"group %q worker pid %d: idle/inactive membership mismatch",
					appRoot, pi.process.Pid())
			}
		}
	}
	if totalSize != d.count {
		return fmt.Errorf("sum of group sizes %d != count %d", totalSize, d.count)
	}
	if d.active > d.count {
		return fmt.Errorf("active %d > count %d", d.active, d.count)
	}
	if uint(d.inactive.Len()) != d.count-d.active {
		return fmt.Errorf("inactive length %d != count %d - active %d",
			d.inactive.Len(), d.count, d.active)
	}
	for el := d.inactive.Front(); el != nil; el = el.Next() {
		pi := el.Value.(*procInfo)
		if pi.iaElem != el {
			return fmt.Errorf("inactive list holds a worker (pid %d) with a stale position",
				pi.process.Pid())
		}
		if pi.sessions != 0 {
			return fmt.Errorf("inactive list holds a busy worker (pid %d)",
				pi.process.Pid())
		}
	}

	return nil
}

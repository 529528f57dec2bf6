package pool

import (
	"time"

	"github.com/rs/zerolog/log"
)

// reaperLoop retires workers that have been idle longer than maxIdleTime. It
// re-arms its timer at maxIdleTime + 1s, and is woken early when the
// threshold changes or the pool shuts down.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	for {
		p.data.mu.Lock()
		idle := p.maxIdleTime
		p.data.mu.Unlock()

		timer := time.NewTimer(idle + time.Second)
		select {
		case <-p.done:
			timer.Stop()

			return
		case <-p.reaperWake:
			// maxIdleTime changed; re-arm with the new threshold.
			timer.Stop()

			continue
		case <-timer.C:
		}

		p.reapIdle()
	}
}

// reapIdle scans the inactive list and retires every worker idle beyond the
// threshold. Candidates are all idle, so active is never touched. A group is
// deleted only when a retirement empties it.
func (p *Pool) reapIdle() {
	d := p.data
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if p.maxIdleTime <= 0 {
		return
	}

	for el := d.inactive.Front(); el != nil; {
		next := el.Next()
		pi := el.Value.(*procInfo)
		if now.Sub(pi.lastUsed) > p.maxIdleTime {
			appRoot := pi.process.AppRoot()
			g := d.groups[appRoot]

			log.Debug().
				Str("app_root", appRoot).
				Int("pid", pi.process.Pid()).
				Msg("reaping idle worker")

			g.processes.Remove(pi.elem)
			d.inactive.Remove(el)
			pi.iaElem = nil
			g.size--
			d.count--
			pi.retired = true
			closeProcess(pi.process)

			if g.processes.Len() == 0 {
				delete(d.groups, appRoot)
			}
		}
		el = next
	}
	p.verify()
}

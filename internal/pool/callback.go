package pool

import (
	"time"

	"github.com/rs/zerolog/log"
)

// sessionClosed releases a worker when one of its sessions ends. The record
// may already have been retired or its group purged; both cases are no-ops,
// which is what lets a session safely outlive its worker.
func (p *Pool) sessionClosed(pi *procInfo) {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()
	defer p.verify()

	if pi.retired {
		return
	}

	appRoot := pi.process.AppRoot()
	g, ok := d.groups[appRoot]
	if !ok {
		return
	}

	pi.processed++
	if g.maxRequests > 0 && pi.processed >= g.maxRequests {
		// The worker served its share: retire it.
		log.Debug().
			Str("app_root", appRoot).
			Int("pid", pi.process.Pid()).
			Uint64("processed", pi.processed).
			Msg("retiring worker at max requests")

		g.processes.Remove(pi.elem)
		g.size--
		if g.processes.Len() == 0 {
			delete(d.groups, appRoot)
		}
		d.count--
		d.active--
		pi.retired = true
		closeProcess(pi.process)
		d.change.Broadcast()

		return
	}

	pi.lastUsed = time.Now()
	pi.sessions--
	if pi.sessions == 0 {
		// Back to idle: front of its group, most recently used end of the
		// shared inactive list.
		g.processes.MoveToFront(pi.elem)
		pi.iaElem = d.inactive.PushBack(pi)
		d.active--
		d.change.Broadcast()
	}
}

package pool

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
)

// Inspect returns a textual report of the pool state for operators.
func (p *Pool) Inspect() string {
	d := p.data
	d.mu.Lock()
	defer d.mu.Unlock()

	return p.inspectLocked()
}

func (p *Pool) inspectLocked() string {
	d := p.data

	var b strings.Builder
	fmt.Fprintf(&b, "----------- General information -----------\n")
	fmt.Fprintf(&b, "max      = %d\n", d.max)
	fmt.Fprintf(&b, "count    = %d\n", d.count)
	fmt.Fprintf(&b, "active   = %d\n", d.active)
	fmt.Fprintf(&b, "inactive = %d\n", d.inactive.Len())
	fmt.Fprintf(&b, "Waiting on global queue: %d\n", d.waitingOnGlobalQueue)
	fmt.Fprintf(&b, "\n")

	fmt.Fprintf(&b, "----------- Groups -----------\n")
	for _, appRoot := range p.sortedGroupNames() {
		g := d.groups[appRoot]
		fmt.Fprintf(&b, "%s:\n", appRoot)
		for el := g.processes.Front(); el != nil; el = el.Next() {
			pi := el.Value.(*procInfo)
			fmt.Fprintf(&b, "  PID: %-5d   Sessions: %-2d   Processed: %-5d   Uptime: %s\n",
				pi.process.Pid(), pi.sessions, pi.processed, pi.uptime())
		}
		fmt.Fprintf(&b, "\n")
	}

	return b.String()
}

type xmlProcess struct {
	Pid       int    `xml:"pid"`
	Sessions  uint   `xml:"sessions"`
	Processed uint64 `xml:"processed"`
	Uptime    string `xml:"uptime"`
}

type xmlGroup struct {
	Name      string       `xml:"name"`
	Processes []xmlProcess `xml:"processes>process"`
}

type xmlInfo struct {
	XMLName        xml.Name   `xml:"info"`
	SpawnServerPid *int       `xml:"spawn_server_pid,omitempty"`
	Groups         []xmlGroup `xml:"groups>group"`
}

// ToXML returns the pool state as XML. Sensitive details (currently the spawn
// service pid) are only included when requested.
func (p *Pool) ToXML(includeSensitive bool) (string, error) {
	d := p.data
	d.mu.Lock()

	info := xmlInfo{Groups: make([]xmlGroup, 0, len(d.groups))}
	for _, appRoot := range p.sortedGroupNames() {
		g := d.groups[appRoot]
		xg := xmlGroup{
			Name:      appRoot,
			Processes: make([]xmlProcess, 0, g.processes.Len()),
		}
		for el := g.processes.Front(); el != nil; el = el.Next() {
			pi := el.Value.(*procInfo)
			xg.Processes = append(xg.Processes, xmlProcess{
				Pid:       pi.process.Pid(),
				Sessions:  pi.sessions,
				Processed: pi.processed,
				Uptime:    pi.uptime(),
			})
		}
		info.Groups = append(info.Groups, xg)
	}
	d.mu.Unlock()

	if includeSensitive {
		pid := p.spawner.ServerPid()
		info.SpawnServerPid = &pid
	}

	out, err := xml.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshaling pool state: %w", err)
	}

	return xml.Header + string(out), nil
}

// sortedGroupNames returns group keys in stable order. Caller holds the lock.
func (p *Pool) sortedGroupNames() []string {
	d := p.data
	names := make([]string, 0, len(d.groups))
	for appRoot := range d.groups {
		names = append(names, appRoot)
	}
	sort.Strings(names)

	return names
}

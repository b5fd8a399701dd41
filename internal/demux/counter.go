package demux

import (
	"slices"
	"sync"

	"github.com/Comcast/gots/packet"
)

// PIDCount is the traffic seen on one PID.
type PIDCount struct {
	PID        int    `json:"pid"`
	Packets    uint64 `json:"packets"`
	UnitStarts uint64 `json:"unit_starts"`
}

// Counter tallies packets per PID.
type Counter struct {
	mu     sync.Mutex
	counts map[int]*PIDCount
	total  uint64
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[int]*PIDCount)}
}

// Observe records one packet.
func (c *Counter) Observe(pkt *packet.Packet) {
	pid := pkt.PID()
	pusi := packet.PayloadUnitStartIndicator(pkt)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.counts[pid]
	if !ok {
		entry = &PIDCount{PID: pid}
		c.counts[pid] = entry
	}
	entry.Packets++
	if pusi {
		entry.UnitStarts++
	}
	c.total++
}

// Total returns the number of packets observed.
func (c *Counter) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Snapshot returns the per-PID counts ordered by PID.
func (c *Counter) Snapshot() []PIDCount {
	c.mu.Lock()
	out := make([]PIDCount, 0, len(c.counts))
	for _, entry := range c.counts {
		out = append(out, *entry)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b PIDCount) int { return a.PID - b.PID })
	return out
}

// Reset forgets every count.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.counts)
	c.total = 0
}

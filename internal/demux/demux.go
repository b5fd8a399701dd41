package demux

import (
	"fmt"
	"sync"

	"github.com/Comcast/gots/packet"
)

// Demux is the packet sink of one device. It counts traffic per PID and
// copies every packet to the attached outputs. PID selection is left to
// whoever reads the outputs.
type Demux struct {
	counter *Counter

	mu      sync.RWMutex
	outputs []*Writer
}

func New() *Demux {
	return &Demux{counter: NewCounter()}
}

// DeliverPackets splits buf into count packets.
func (d *Demux) DeliverPackets(buf []byte, count int) error {
	if len(buf) < count*packet.PacketSize {
		return fmt.Errorf("buffer holds %d bytes, need %d for %d packets", len(buf), count*packet.PacketSize, count)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var pkt packet.Packet
	for i := 0; i < count; i++ {
		copy(pkt[:], buf[i*packet.PacketSize:(i+1)*packet.PacketSize])
		d.counter.Observe(&pkt)
		for _, out := range d.outputs {
			out.Enqueue(pkt)
		}
	}
	return nil
}

// AddOutput attaches w.
func (d *Demux) AddOutput(w *Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs = append(d.outputs, w)
}

// CloseOutputs detaches and closes every output.
func (d *Demux) CloseOutputs() error {
	d.mu.Lock()
	outputs := d.outputs
	d.outputs = nil
	d.mu.Unlock()

	var firstErr error
	for _, out := range outputs {
		if err := out.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Outputs returns the stats of the attached outputs.
func (d *Demux) Outputs() []WriterStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]WriterStats, 0, len(d.outputs))
	for _, w := range d.outputs {
		out = append(out, w.Stats())
	}
	return out
}

// Counter exposes the per-PID tallies.
func (d *Demux) Counter() *Counter {
	return d.counter
}

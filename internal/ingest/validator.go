package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Comcast/gots/packet"

	"vtunerd/internal/logging"
)

var (
	// ErrTooShort rejects buffers smaller than one transport stream packet.
	ErrTooShort = errors.New("buffer shorter than one ts packet")
	// ErrMisalignedStream rejects buffers whose packets do not start with
	// the sync byte. Nothing from such a buffer is forwarded.
	ErrMisalignedStream = errors.New("ts data not on packet boundary")
	// ErrCancelled rejects writes while the device is shutting down.
	ErrCancelled = errors.New("device shutting down")
)

// Sink receives whole packets. buf always holds count*188 bytes.
type Sink interface {
	DeliverPackets(buf []byte, count int) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(buf []byte, count int) error

func (f SinkFunc) DeliverPackets(buf []byte, count int) error {
	return f(buf, count)
}

// Stats counts ingest outcomes.
type Stats struct {
	AcceptedBytes  uint64 `json:"accepted_bytes"`
	DiscardedBytes uint64 `json:"discarded_bytes"`
	Rejected       uint64 `json:"rejected"`
}

// Validator checks bulk TS writes from the control process and hands them
// to the demultiplexer.
type Validator struct {
	sink   Sink
	logger *slog.Logger

	check   atomic.Bool
	closing atomic.Bool

	// serializes writes into the sink
	mu sync.Mutex

	accepted  atomic.Uint64
	discarded atomic.Uint64
	rejected  atomic.Uint64
}

// NewValidator returns a validator forwarding to sink. When check is set
// every packet must begin with the sync byte.
func NewValidator(sink Sink, check bool, logger *slog.Logger) *Validator {
	v := &Validator{
		sink:   sink,
		logger: logging.NewComponentLogger(logger, "ingest"),
	}
	v.check.Store(check)
	return v
}

// SetCheck toggles sync byte validation.
func (v *Validator) SetCheck(check bool) {
	v.check.Store(check)
}

// Checking reports whether sync byte validation is on.
func (v *Validator) Checking() bool {
	return v.check.Load()
}

// SetClosing marks the owning device as shutting down or back in service.
func (v *Validator) SetClosing(closing bool) {
	v.closing.Store(closing)
}

// Ingest validates buf and forwards its whole packets. A trailing partial
// packet is dropped, not kept for the next call. It returns the number of
// bytes forwarded.
func (v *Validator) Ingest(buf []byte) (int, error) {
	if v.closing.Load() {
		v.rejected.Add(1)
		return 0, ErrCancelled
	}
	if len(buf) < packet.PacketSize {
		v.rejected.Add(1)
		return 0, fmt.Errorf("%w: got %d bytes", ErrTooShort, len(buf))
	}
	tail := len(buf) % packet.PacketSize
	n := len(buf) - tail
	data := buf[:n]

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.check.Load() {
		if idx, ok := findMisaligned(data); ok {
			v.rejected.Add(1)
			off := idx * packet.PacketSize
			v.logger.Warn("ts write rejected",
				logging.Int("packet_index", idx),
				logging.String("head", fmt.Sprintf("% x", data[off:off+5])),
				logging.String(logging.FieldEventType, "ts_misaligned"),
				logging.String(logging.FieldErrorHint, "write whole 188-byte packets starting with 0x47"),
				logging.String(logging.FieldImpact, "buffer dropped"),
			)
			return 0, fmt.Errorf("%w: packet %d starts with %#02x", ErrMisalignedStream, idx, data[off])
		}
	}

	if err := v.sink.DeliverPackets(data, n/packet.PacketSize); err != nil {
		return 0, fmt.Errorf("deliver packets: %w", err)
	}
	v.accepted.Add(uint64(n))
	if tail > 0 {
		v.discarded.Add(uint64(tail))
		v.logger.Debug("partial packet discarded", logging.Int("bytes", tail))
	}
	return n, nil
}

// Stats returns the counters.
func (v *Validator) Stats() Stats {
	return Stats{
		AcceptedBytes:  v.accepted.Load(),
		DiscardedBytes: v.discarded.Load(),
		Rejected:       v.rejected.Load(),
	}
}

func findMisaligned(data []byte) (int, bool) {
	for off := 0; off < len(data); off += packet.PacketSize {
		if data[off] != packet.SyncByte {
			return off / packet.PacketSize, true
		}
	}
	return 0, false
}

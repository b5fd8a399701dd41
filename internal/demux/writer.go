package demux

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Comcast/gots/packet"
	"golang.org/x/sys/unix"

	"vtunerd/internal/logging"
)

// PacketChannel carries whole TS packets between goroutines.
type PacketChannel chan packet.Packet

// DefaultQueueDepth is the writer backlog in packets.
const DefaultQueueDepth = 4096

// Writer copies packets to an io.WriteCloser from its own goroutine. When
// the backlog is full new packets are dropped so a slow reader never stalls
// ingest.
type Writer struct {
	name   string
	dst    io.WriteCloser
	queue  PacketChannel
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	written atomic.Uint64
	dropped atomic.Uint64
	errs    atomic.Uint64
}

// NewWriter starts a writer draining into dst.
func NewWriter(name string, dst io.WriteCloser, depth int, logger *slog.Logger) *Writer {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	w := &Writer{
		name:   name,
		dst:    dst,
		queue:  make(PacketChannel, depth),
		done:   make(chan struct{}),
		logger: logging.NewComponentLogger(logger, "dvr"),
	}
	go w.run()
	return w
}

// OpenDVR opens path for TS output. With fifo set a named pipe is created
// when nothing exists at path; the pipe is opened read-write so opening
// never waits for a reader.
func OpenDVR(path string, fifo bool, depth int, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dvr directory: %w", err)
	}
	var (
		file *os.File
		err  error
	)
	if fifo {
		if err := ensureFIFO(path); err != nil {
			return nil, err
		}
		file, err = os.OpenFile(path, os.O_RDWR, 0)
	} else {
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("open dvr output: %w", err)
	}
	return NewWriter(path, file, depth, logger), nil
}

func ensureFIFO(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Mode()&fs.ModeNamedPipe == 0 {
			return fmt.Errorf("dvr output %s exists and is not a fifo", path)
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, 0o644); err != nil {
			return fmt.Errorf("create fifo %s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("stat dvr output: %w", err)
	}
}

// Name identifies the writer in logs and status output.
func (w *Writer) Name() string {
	return w.name
}

// Enqueue hands pkt to the writer goroutine. It reports false when the
// packet was dropped.
func (w *Writer) Enqueue(pkt packet.Packet) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.queue <- pkt:
		return true
	default:
		if w.dropped.Add(1) == 1 {
			logging.WarnWithContext(w.logger, "dvr backlog full", "dvr_overflow",
				logging.String("output", w.name),
				logging.String(logging.FieldImpact, "packets dropped until the reader catches up"),
				logging.String(logging.FieldErrorHint, "attach a reader to the dvr output"),
			)
		}
		return false
	}
}

// Close stops accepting packets, flushes the backlog and closes the
// destination.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
		<-w.done
		err = w.dst.Close()
	})
	return err
}

// WriterStats counts writer outcomes.
type WriterStats struct {
	Name    string `json:"name"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Errors  uint64 `json:"errors"`
}

// Stats returns the counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Name:    w.name,
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Errors:  w.errs.Load(),
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for pkt := range w.queue {
		if _, err := w.dst.Write(pkt[:]); err != nil {
			if w.errs.Add(1) == 1 {
				w.logger.Warn("dvr write failed",
					logging.String("output", w.name),
					logging.Error(err),
					logging.String(logging.FieldEventType, "dvr_write_failed"),
					logging.String(logging.FieldErrorHint, "check the dvr output path"),
					logging.String(logging.FieldImpact, "packets are not recorded"),
				)
			}
			continue
		}
		w.written.Add(1)
	}
}

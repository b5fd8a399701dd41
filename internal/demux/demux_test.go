package demux_test

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"vtunerd/internal/demux"
	"vtunerd/internal/logging"
)

func tsPacket(pid int, start bool) []byte {
	buf := make([]byte, 188)
	buf[0] = 0x47
	buf[1] = byte(pid>>8) & 0x1f
	if start {
		buf[1] |= 0x40
	}
	buf[2] = byte(pid)
	buf[3] = 0x10
	return buf
}

func stream(pids ...int) []byte {
	var out []byte
	for i, pid := range pids {
		out = append(out, tsPacket(pid, i == 0)...)
	}
	return out
}

func TestDeliverPacketsCountsPerPID(t *testing.T) {
	d := demux.New()
	buf := stream(0x100, 0x100, 0x1FFF, 0)
	if err := d.DeliverPackets(buf, 4); err != nil {
		t.Fatalf("DeliverPackets returned error: %v", err)
	}
	counts := d.Counter().Snapshot()
	if len(counts) != 3 {
		t.Fatalf("expected 3 pids, got %+v", counts)
	}
	if counts[0].PID != 0 || counts[1].PID != 0x100 || counts[2].PID != 0x1FFF {
		t.Fatalf("expected pid order 0, 0x100, 0x1fff, got %+v", counts)
	}
	if counts[1].Packets != 2 || counts[1].UnitStarts != 1 {
		t.Fatalf("unexpected count for 0x100: %+v", counts[1])
	}
	if d.Counter().Total() != 4 {
		t.Fatalf("total = %d, want 4", d.Counter().Total())
	}

	d.Counter().Reset()
	if d.Counter().Total() != 0 || len(d.Counter().Snapshot()) != 0 {
		t.Fatal("expected counters cleared")
	}
}

func TestDeliverPacketsRejectsShortBuffer(t *testing.T) {
	d := demux.New()
	if err := d.DeliverPackets(make([]byte, 188), 2); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestDVRFileReceivesPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dvr", "adapter0.ts")
	w, err := demux.OpenDVR(path, false, 0, logging.NewNop())
	if err != nil {
		t.Fatalf("OpenDVR returned error: %v", err)
	}
	d := demux.New()
	d.AddOutput(w)

	buf := stream(0x20, 0x21, 0x22)
	if err := d.DeliverPackets(buf, 3); err != nil {
		t.Fatalf("DeliverPackets returned error: %v", err)
	}
	if outs := d.Outputs(); len(outs) != 1 || outs[0].Name != path {
		t.Fatalf("unexpected outputs %+v", outs)
	}
	if err := d.CloseOutputs(); err != nil {
		t.Fatalf("CloseOutputs returned error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read dvr file: %v", err)
	}
	if !bytes.Equal(got, buf) {
		t.Fatalf("dvr file holds %d bytes, want %d identical bytes", len(got), len(buf))
	}
	if stats := w.Stats(); stats.Written != 3 || stats.Dropped != 0 {
		t.Fatalf("unexpected writer stats %+v", stats)
	}
}

func TestOpenDVRCreatesFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapter1.ts")
	w, err := demux.OpenDVR(path, true, 8, nil)
	if err != nil {
		t.Fatalf("OpenDVR returned error: %v", err)
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat fifo: %v", err)
	}
	if info.Mode()&fs.ModeNamedPipe == 0 {
		t.Fatalf("expected named pipe, got mode %v", info.Mode())
	}

	plain := filepath.Join(t.TempDir(), "plain.ts")
	if err := os.WriteFile(plain, nil, 0o644); err != nil {
		t.Fatalf("write plain file: %v", err)
	}
	if _, err := demux.OpenDVR(plain, true, 8, nil); err == nil {
		t.Fatal("expected error when a regular file occupies the fifo path")
	}
}

type blockingWriter struct {
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	n       int
}

func (b *blockingWriter) Write(p []byte) (int, error) {
	<-b.release
	b.mu.Lock()
	b.n++
	b.mu.Unlock()
	return len(p), nil
}

func (b *blockingWriter) Close() error {
	b.once.Do(func() { close(b.release) })
	return nil
}

func TestWriterDropsWhenBacklogIsFull(t *testing.T) {
	dst := &blockingWriter{release: make(chan struct{})}
	w := demux.NewWriter("slow", dst, 2, nil)
	d := demux.New()
	d.AddOutput(w)

	// One packet may already sit in the writer goroutine, two in the queue.
	if err := d.DeliverPackets(stream(1, 2, 3, 4, 5, 6), 6); err != nil {
		t.Fatalf("DeliverPackets returned error: %v", err)
	}
	if w.Stats().Dropped < 3 {
		t.Fatalf("expected at least 3 drops, got %+v", w.Stats())
	}
	dst.once.Do(func() { close(dst.release) })
	if err := w.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	stats := w.Stats()
	if stats.Written+stats.Dropped != 6 {
		t.Fatalf("written+dropped = %d, want 6", stats.Written+stats.Dropped)
	}
	if w.Enqueue([188]byte{0x47}) {
		t.Fatal("expected enqueue after close to fail")
	}
}

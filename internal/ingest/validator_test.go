package ingest_test

import (
	"errors"
	"testing"

	"vtunerd/internal/ingest"
	"vtunerd/internal/logging"
)

type captureSink struct {
	calls   int
	bytes   []byte
	packets int
}

func (c *captureSink) DeliverPackets(buf []byte, count int) error {
	c.calls++
	c.bytes = append(c.bytes, buf...)
	c.packets += count
	return nil
}

func packets(n int) []byte {
	buf := make([]byte, n*188)
	for i := 0; i < n; i++ {
		buf[i*188] = 0x47
		buf[i*188+1] = byte(i)
	}
	return buf
}

func TestMisalignedBufferForwardsNothing(t *testing.T) {
	buf := packets(3)
	buf[2*188] = 0x00

	sink := &captureSink{}
	v := ingest.NewValidator(sink, true, logging.NewNop())
	n, err := v.Ingest(buf)
	if !errors.Is(err, ingest.ErrMisalignedStream) {
		t.Fatalf("expected ErrMisalignedStream, got %v", err)
	}
	if n != 0 || sink.calls != 0 || len(sink.bytes) != 0 {
		t.Fatalf("expected nothing forwarded, got n=%d calls=%d bytes=%d", n, sink.calls, len(sink.bytes))
	}
	if v.Stats().Rejected != 1 {
		t.Fatalf("rejected = %d, want 1", v.Stats().Rejected)
	}

	v.SetCheck(false)
	n, err = v.Ingest(buf)
	if err != nil {
		t.Fatalf("Ingest without checking returned error: %v", err)
	}
	if n != 564 || len(sink.bytes) != 564 || sink.packets != 3 {
		t.Fatalf("expected all 564 bytes forwarded, got n=%d bytes=%d packets=%d", n, len(sink.bytes), sink.packets)
	}
}

func TestTailIsTruncated(t *testing.T) {
	buf := append(packets(2), make([]byte, 24)...)
	sink := &captureSink{}
	v := ingest.NewValidator(sink, true, nil)

	n, err := v.Ingest(buf)
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if n != 376 || len(sink.bytes) != 376 || sink.packets != 2 {
		t.Fatalf("expected 376 bytes in 2 packets, got n=%d bytes=%d packets=%d", n, len(sink.bytes), sink.packets)
	}
	stats := v.Stats()
	if stats.AcceptedBytes != 376 || stats.DiscardedBytes != 24 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// The tail is not carried into the next call.
	n, err = v.Ingest(packets(1))
	if err != nil || n != 188 {
		t.Fatalf("second Ingest = %d, %v", n, err)
	}
	if sink.bytes[376] != 0x47 {
		t.Fatalf("expected second write to start on a packet boundary")
	}
}

func TestShortBufferIsRejected(t *testing.T) {
	sink := &captureSink{}
	v := ingest.NewValidator(sink, false, nil)
	if _, err := v.Ingest(make([]byte, 187)); !errors.Is(err, ingest.ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if sink.calls != 0 {
		t.Fatal("short buffer must not reach the sink")
	}
}

func TestClosingDeviceRejectsWrites(t *testing.T) {
	sink := &captureSink{}
	v := ingest.NewValidator(sink, false, nil)
	v.SetClosing(true)
	if _, err := v.Ingest(packets(1)); !errors.Is(err, ingest.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	v.SetClosing(false)
	if n, err := v.Ingest(packets(1)); err != nil || n != 188 {
		t.Fatalf("Ingest after reopen = %d, %v", n, err)
	}
}

func TestSinkErrorIsReturned(t *testing.T) {
	boom := errors.New("demux gone")
	v := ingest.NewValidator(ingest.SinkFunc(func([]byte, int) error { return boom }), false, nil)
	n, err := v.Ingest(packets(2))
	if !errors.Is(err, boom) || n != 0 {
		t.Fatalf("expected sink error, got n=%d err=%v", n, err)
	}
	if v.Stats().AcceptedBytes != 0 {
		t.Fatal("failed delivery must not count as accepted")
	}
}

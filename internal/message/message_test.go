package message_test

import (
	"bytes"
	"testing"

	"vtunerd/internal/message"
)

func TestKindNames(t *testing.T) {
	if got := message.KindPIDList.String(); got != "pid_list" {
		t.Fatalf("expected pid_list, got %q", got)
	}
	if got := message.Kind(12).String(); got != "kind(12)" {
		t.Fatalf("expected kind(12), got %q", got)
	}
	if message.Kind(12).Valid() {
		t.Fatal("kind 12 is unassigned and must not be valid")
	}
	if !message.KindNone.Valid() || !message.KindGetProperty.Valid() {
		t.Fatal("expected defined kinds to be valid")
	}
}

func TestDiSEqCCommandBounds(t *testing.T) {
	cmd, err := message.NewDiSEqCCmd([]byte{0xe0, 0x10, 0x38, 0xf3})
	if err != nil {
		t.Fatalf("NewDiSEqCCmd: %v", err)
	}
	if !bytes.Equal(cmd.Bytes(), []byte{0xe0, 0x10, 0x38, 0xf3}) {
		t.Fatalf("unexpected bytes %x", cmd.Bytes())
	}
	if _, err := message.NewDiSEqCCmd(nil); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := message.NewDiSEqCCmd(make([]byte, message.DiSEqCMaxLen+1)); err == nil {
		t.Fatal("expected error for oversized command")
	}

	corrupt := message.DiSEqCCmd{Len: 200}
	if got := len(corrupt.Bytes()); got != message.DiSEqCMaxLen {
		t.Fatalf("expected length clamped to %d, got %d", message.DiSEqCMaxLen, got)
	}
}

func TestPIDsCopiesCountedEntries(t *testing.T) {
	msg := message.New(message.KindPIDList)
	msg.Body.PIDList[0] = 0x00
	msg.Body.PIDList[1] = 0x100
	msg.Body.PIDList[2] = 0x1FFF
	msg.Body.PIDCount = 2

	pids := msg.PIDs()
	if len(pids) != 2 || pids[0] != 0x00 || pids[1] != 0x100 {
		t.Fatalf("unexpected pids %v", pids)
	}
	pids[0] = 0x42
	if msg.Body.PIDList[0] != 0 {
		t.Fatal("PIDs must return a copy")
	}

	msg.Body.PIDCount = 255
	if got := len(msg.PIDs()); got != message.PIDListLen {
		t.Fatalf("expected count clamped to %d, got %d", message.PIDListLen, got)
	}
}

func TestNoResponse(t *testing.T) {
	if !message.New(message.KindNone).NoResponse() {
		t.Fatal("KindNone must report no response")
	}
	if message.New(message.KindReadStatus).NoResponse() {
		t.Fatal("a real answer must not report no response")
	}
}

package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

const (
	packetSize = 188
	syncByte   = 0x47
)

// TSPackets builds one minimal transport stream packet per pid. Every packet
// has the payload unit start flag set and a payload of 0xff filler.
func TSPackets(pids ...uint16) []byte {
	buf := make([]byte, 0, len(pids)*packetSize)
	for _, pid := range pids {
		pkt := make([]byte, packetSize)
		pkt[0] = syncByte
		pkt[1] = 0x40 | byte(pid>>8)&0x1f
		pkt[2] = byte(pid)
		pkt[3] = 0x10
		for i := 4; i < packetSize; i++ {
			pkt[i] = 0xff
		}
		buf = append(buf, pkt...)
	}
	return buf
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

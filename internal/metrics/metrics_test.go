package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"vtunerd/internal/demux"
	"vtunerd/internal/ingest"
	"vtunerd/internal/metrics"
	"vtunerd/internal/registry"
)

type staticSource []registry.Stats

func (s staticSource) Stats() []registry.Stats { return s }

func sampleStats() staticSource {
	return staticSource{{
		Index:          0,
		Name:           "living room",
		Type:           "DVB-S2",
		Frontend:       "vTuner proxyFE DVB-S2",
		Sessions:       1,
		SessionsOpened: 3,
		Exchanges:      12,
		PIDs:           []uint16{0, 0x100},
		PIDsDropped:    1,
		PIDListsSent:   4,
		TSCheck:        true,
		Ingest:         ingest.Stats{AcceptedBytes: 376, DiscardedBytes: 10, Rejected: 2},
		Packets:        2,
		Streams: []demux.PIDCount{
			{PID: 0, Packets: 1, UnitStarts: 1},
			{PID: 256, Packets: 1},
		},
		Outputs: []demux.WriterStats{{Name: "adapter0.ts", Written: 2, Dropped: 0, Errors: 0}},
	}}
}

func TestCollectorExportsDeviceStats(t *testing.T) {
	c := metrics.NewCollector(sampleStats())

	expected := `
# HELP vtunerd_pid_tracked PIDs currently tracked.
# TYPE vtunerd_pid_tracked gauge
vtunerd_pid_tracked{device="0"} 2
# HELP vtunerd_ingest_accepted_bytes_total TS bytes accepted from the control process.
# TYPE vtunerd_ingest_accepted_bytes_total counter
vtunerd_ingest_accepted_bytes_total{device="0"} 376
# HELP vtunerd_demux_stream_packets_total Packets delivered per PID.
# TYPE vtunerd_demux_stream_packets_total counter
vtunerd_demux_stream_packets_total{device="0",pid="0"} 1
vtunerd_demux_stream_packets_total{device="0",pid="256"} 1
# HELP vtunerd_device_info Configured delivery system and frontend of a tuner instance.
# TYPE vtunerd_device_info gauge
vtunerd_device_info{device="0",frontend="vTuner proxyFE DVB-S2",name="living room",type="DVB-S2"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"vtunerd_pid_tracked",
		"vtunerd_ingest_accepted_bytes_total",
		"vtunerd_demux_stream_packets_total",
		"vtunerd_device_info",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestRPCObserveCountsOutcomes(t *testing.T) {
	rpc := metrics.NewRPC()
	start := time.Now()
	rpc.Observe("Tuner.SetFrontend", start, nil)
	rpc.Observe("Tuner.SetFrontend", start, errors.New("boom"))
	rpc.Observe("Control.GetMessage", start, nil)

	expected := `
# HELP vtunerd_rpc_requests_total Control socket requests by method and outcome.
# TYPE vtunerd_rpc_requests_total counter
vtunerd_rpc_requests_total{code="error",method="Tuner.SetFrontend"} 1
vtunerd_rpc_requests_total{code="ok",method="Control.GetMessage"} 1
vtunerd_rpc_requests_total{code="ok",method="Tuner.SetFrontend"} 1
`
	if err := testutil.CollectAndCompare(rpc, strings.NewReader(expected), "vtunerd_rpc_requests_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}

	var nilRPC *metrics.RPC
	nilRPC.Observe("noop", start, nil)
}

func TestServerServesRegistry(t *testing.T) {
	reg, err := metrics.NewRegistry(sampleStats(), metrics.NewRPC())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := metrics.NewServer("127.0.0.1:0", "/metrics", reg, nil)
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	for _, name := range []string{"vtunerd_device_info", "vtunerd_build_info", "vtunerd_dvr_written_packets_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("expected %s in exposition", name)
		}
	}

	resp, err = http.Get("http://" + srv.Addr() + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

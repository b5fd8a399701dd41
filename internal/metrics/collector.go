package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"vtunerd/internal/registry"
)

const namespace = "vtunerd"

var deviceLabelNames = []string{"device"}

func newDeviceMetric(subsystemName, metricName, docString string, extraLabels ...string) *prometheus.Desc {
	labels := append(append([]string(nil), deviceLabelNames...), extraLabels...)
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystemName, metricName), docString, labels, nil)
}

var (
	deviceInfo       = newDeviceMetric("device", "info", "Configured delivery system and frontend of a tuner instance.", "type", "frontend", "name")
	deviceSessions   = newDeviceMetric("device", "sessions", "Open control sessions.")
	deviceOpened     = newDeviceMetric("device", "sessions_opened_total", "Control sessions opened since start.")
	deviceClosing    = newDeviceMetric("device", "closing", "Whether the instance is shutting down after its last session closed.")
	deviceTSCheck    = newDeviceMetric("device", "ts_check", "Whether pushed TS data is checked for sync bytes.")
	mailboxExchanges = newDeviceMetric("mailbox", "exchanges_total", "Request/response exchanges completed through the mailbox.")
	pidTracked       = newDeviceMetric("pid", "tracked", "PIDs currently tracked.")
	pidDropped       = newDeviceMetric("pid", "dropped_total", "Feed starts dropped because the PID table was full.")
	pidListsSent     = newDeviceMetric("pid", "lists_sent_total", "PID list notifications delivered to the control process.")
	ingestAccepted   = newDeviceMetric("ingest", "accepted_bytes_total", "TS bytes accepted from the control process.")
	ingestDiscarded  = newDeviceMetric("ingest", "discarded_bytes_total", "Trailing partial-packet bytes discarded.")
	ingestRejected   = newDeviceMetric("ingest", "rejected_total", "Writes rejected by validation or because the instance was closing.")
	demuxPackets     = newDeviceMetric("demux", "packets_total", "Packets delivered to the demultiplexer.")
	demuxStream      = newDeviceMetric("demux", "stream_packets_total", "Packets delivered per PID.", "pid")
	demuxUnitStarts  = newDeviceMetric("demux", "stream_unit_starts_total", "Payload unit starts seen per PID.", "pid")
	dvrWritten       = newDeviceMetric("dvr", "written_packets_total", "Packets written to a DVR output.", "output")
	dvrDropped       = newDeviceMetric("dvr", "dropped_packets_total", "Packets dropped because a DVR output fell behind.", "output")
	dvrErrors        = newDeviceMetric("dvr", "write_errors_total", "Write errors on a DVR output.", "output")

	allDescs = []*prometheus.Desc{
		deviceInfo, deviceSessions, deviceOpened, deviceClosing, deviceTSCheck,
		mailboxExchanges, pidTracked, pidDropped, pidListsSent,
		ingestAccepted, ingestDiscarded, ingestRejected,
		demuxPackets, demuxStream, demuxUnitStarts,
		dvrWritten, dvrDropped, dvrErrors,
	}
)

// Source yields point-in-time device stats.
type Source interface {
	Stats() []registry.Stats
}

// Collector exports registry stats as Prometheus metrics on every scrape.
type Collector struct {
	source Source
}

// NewCollector returns a collector reading from source.
func NewCollector(source Source) *Collector {
	return &Collector{source: source}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range allDescs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.Stats() {
		device := strconv.Itoa(s.Index)
		gauge := func(desc *prometheus.Desc, value float64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, value, append([]string{device}, labels...)...)
		}
		counter := func(desc *prometheus.Desc, value uint64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value), append([]string{device}, labels...)...)
		}

		gauge(deviceInfo, 1, s.Type, s.Frontend, s.Name)
		gauge(deviceSessions, float64(s.Sessions))
		counter(deviceOpened, s.SessionsOpened)
		gauge(deviceClosing, boolValue(s.Closing))
		gauge(deviceTSCheck, boolValue(s.TSCheck))
		counter(mailboxExchanges, s.Exchanges)
		gauge(pidTracked, float64(len(s.PIDs)))
		counter(pidDropped, s.PIDsDropped)
		counter(pidListsSent, s.PIDListsSent)
		counter(ingestAccepted, s.Ingest.AcceptedBytes)
		counter(ingestDiscarded, s.Ingest.DiscardedBytes)
		counter(ingestRejected, s.Ingest.Rejected)
		counter(demuxPackets, s.Packets)
		for _, stream := range s.Streams {
			pid := strconv.Itoa(stream.PID)
			counter(demuxStream, stream.Packets, pid)
			counter(demuxUnitStarts, stream.UnitStarts, pid)
		}
		for _, out := range s.Outputs {
			counter(dvrWritten, out.Written, out.Name)
			counter(dvrDropped, out.Dropped, out.Name)
			counter(dvrErrors, out.Errors, out.Name)
		}
	}
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Package metrics exports tuner instance counters to Prometheus.
//
// Device gauges and counters are produced on scrape from registry stats, so
// the hot paths never touch Prometheus types. Control socket latency is
// recorded through RPC.
package metrics

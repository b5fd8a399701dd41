// Package logging assembles structured slog loggers and formatting helpers used
// across vtunerd.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so code running on behalf of a
// tuner instance or control session tags its log lines automatically. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging

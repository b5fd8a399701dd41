// Package config loads, normalizes, and validates vtunerd configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the VTUNERD_TS_CHECK environment
// fallback. The Config type centralizes the instance count, TS checking, PID
// table sizing and daemon paths so the daemon and CLI discover them in one
// pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config

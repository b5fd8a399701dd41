// Package frontend adapts generic tuner operations to mailbox messages.
//
// A Frontend is attached for one delivery system. Every operation builds a
// single request, waits for the control process to answer and decodes the
// reply. Tuning parameters are encoded per delivery system; DVB-S2 requests
// with S2 signalling pack modulation and code rate into a composite inner
// FEC value and carry roll-off and pilot selection as flags in the inversion
// field.
//
// Capability descriptors default to the built-in tables and can be
// overridden per delivery system from a YAML profile file.
package frontend

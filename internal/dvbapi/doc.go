// Package dvbapi mirrors the numeric enumerations of the Linux DVB frontend
// API that travel inside vtuner messages: capability flags, code rates,
// modulations, LNB controls and lock status bits.
//
// Values match the kernel headers so that an external control process written
// against the original driver interprets them unchanged.
package dvbapi

// Package pidtab tracks the PIDs the tuner stack has asked a device to
// deliver and mirrors every change to the control process as a PIDList
// message.
package pidtab

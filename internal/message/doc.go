// Package message defines the fixed-shape Message exchanged through a device
// mailbox. Every payload variant is stored by value so a Message can be
// copied in and out of a slot without aliasing caller memory.
package message

// Package uart provides DMX-512 line drivers for the firmware sequencer.
//
// [Sim] emulates the USART and frame timer against a virtual clock and logs
// every frame it puts on the wire. [Serial] drives a real RS-485 adapter
// through a serial port at 250 kbit/s 8N2, generating BREAK with the
// terminal break ioctls.
//
// Both implement [firmware.Line].
package uart

// Package firmware implements the uDMX device core: the 512-channel store,
// the vendor command handler, the DMX-512 transmit sequencer, the MIDI
// bridge, the power/idle manager and the bootloader trampoline.
//
// # Execution Model
//
// The microcontroller runs one cooperative main loop ([Runner]). Each pass
// resets the watchdog, services USB, and advances the [Sequencer] by at most
// one state. USB requests reach the [Handler] from the device stack's own
// goroutine, so all shared state lives in a mutex-guarded [Context].
//
// # Frame Cycle
//
// Once any channel is written the sequencer emits frames back to back:
//
//	NewPacket → InPacket → EndOfPacket → InBreak → InMAB → NewPacket
//
// NewPacket sends the start code, InPacket sends packetLen channel bytes,
// EndOfPacket waits for the shift register to drain and starts BREAK, and
// InMAB ends the mark-after-break. InBreak is the only point where the CPU
// may sleep.
//
// # Hardware
//
// The UART and frame timer are reached through [Line], the LED port through
// [LEDs], the watchdog through [Watchdog] and the USB connection through
// [Bus]. Package uart provides Line implementations.
package firmware

// Package hal defines the hardware abstraction layer used by the USB host
// stack.
//
// The host stack implements enumeration and request encoding. A [HostHAL]
// only moves SETUP packets and data stages to devices on numbered ports and
// reports ports connecting and disconnecting.
//
// The named-pipe HAL in [github.com/ardnew/udmx/host/hal/fifo] talks to
// emulated devices running on [github.com/ardnew/udmx/device/hal/fifo].
package hal

// Package hal defines the Hardware Abstraction Layer interface for USB device stacks.
//
// The HAL sits between the device stack in package device and the bus. The
// stack implements all USB protocol logic: descriptor service, the address
// and configuration state machine, vendor request dispatch and the OUT
// endpoint pump. The HAL only moves SETUP packets, control data stages and
// endpoint packets.
//
// # Interface Overview
//
// The [DeviceHAL] interface covers:
//
//   - Lifecycle: Init, Start (attach) and Stop (detach). A uDMX unit detaches
//     and reattaches at power-up and before entering its bootloader, so
//     implementations must support Init/Start after Stop.
//   - Control endpoint (EP0): SETUP packets, data stages, stall and status.
//   - Data endpoints: Read and Write on the interrupt endpoints of the MIDI
//     variant.
//   - Connection state.
//
// A named-pipe HAL for the emulator and for tests is available in
// [github.com/ardnew/udmx/device/hal/fifo].
package hal

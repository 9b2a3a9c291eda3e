// Package fifo implements a device HAL on named pipes (FIFOs).
//
// It lets the uDMX emulator appear on a simulated bus that the host FIFO HAL
// in [github.com/ardnew/udmx/host/hal/fifo] watches. Each attach creates a
// fresh subdirectory under the shared bus directory:
//
//	/tmp/udmx-bus/
//	└── device-{uuid}/
//	    ├── attached          present while attached
//	    ├── connection        connect/disconnect signal (device → host)
//	    ├── host_to_device    SETUP and reset messages
//	    ├── device_to_host    control responses
//	    └── ep1_in, ep1_out   data endpoint 1 (up to MaxEndpoints)
//
// # Messages
//
// Every message is framed as [type, len_lo, len_hi, payload...].
//
//   - SETUP (host → device): payload is [address, setup(8), out-data...].
//     The OUT data stage travels with the SETUP and is handed to the stack
//     through ReadEP0.
//   - DATA (device → host): the IN data stage, possibly empty. Endpoint
//     FIFOs carry DATA messages in both directions.
//   - ACK (device → host): status stage of an OUT transfer or a reset.
//   - STALL (device → host): the request was rejected.
//   - RESET (host → device): bus reset, answered with ACK.
//
// Every SETUP gets exactly one DATA, ACK or STALL in reply.
//
// # Connection
//
// The connection FIFO carries single bytes: 0x01 when the device attaches
// and 0x00 when it detaches. A host that opens the directory after the
// connect byte was consumed relies on the attached marker file instead.
// Stop removes the device directory, so a later Start appears to the host
// as a new device.
package fifo

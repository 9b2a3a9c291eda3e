// Package fifo implements [hal.HostHAL] on named pipes.
//
// The host polls a bus directory for device subdirectories created by the
// device FIFO HAL in [github.com/ardnew/udmx/device/hal/fifo]:
//
//	/tmp/udmx-bus/
//	├── device-a1b2c3d4/
//	│   ├── connection
//	│   ├── host_to_device
//	│   ├── device_to_host
//	│   ├── ep1_in, ep1_out
//	│   └── ep2_in, ep2_out
//	└── device-e5f6a7b8/
//
// A directory becomes a port when its device writes 0x01 to the connection
// FIFO and stops being one on 0x00 or when the directory disappears. Ports
// are numbered from 1, reusing the lowest free number, so several emulated
// interfaces can share a bus.
//
// Messages are framed as [type, len_lo, len_hi, payload...]. A control
// transfer is one SETUP message carrying [address, setup(8), out-data...]
// and one DATA, ACK or STALL in reply.
//
// # Usage
//
//	h := host.New(fifo.NewHostHAL(config.DefaultBusDir()))
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//	defer h.Stop()
//	dev, err := h.WaitDevice(ctx)
package fifo

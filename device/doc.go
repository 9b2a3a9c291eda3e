// Package device implements the USB device stack of a uDMX interface.
//
// It interacts with the bus through the [hal.DeviceHAL] interface defined in
// [github.com/ardnew/udmx/device/hal], so the same stack runs over named
// pipes in the emulator and over a mock HAL in tests.
//
// # Architecture
//
//   - [Device] holds the descriptors and the USB device state machine.
//   - [Configuration], [Interface] and [Endpoint] describe the
//     configuration tree. Interfaces and endpoints can carry class-specific
//     descriptor bytes, and endpoints can use the 9-byte audio-class form,
//     which the MIDI variant needs.
//   - [StandardRequestHandler] answers chapter 9 requests.
//   - [Stack] runs the EP0 control loop and the OUT endpoint pumps.
//
// # Vendor Requests
//
// Vendor requests addressed to the device go to a [VendorHandler], the
// counterpart of V-USB's usbFunctionSetup, usbFunctionWrite and
// usbFunctionRead. A reply may carry an IN data stage (truncated to
// wLength) or ask for the OUT data stage, which is then delivered in
// EP0-sized chunks. Handler errors stall EP0.
//
// # Device States
//
//	Attached → Default → Address → Configured
//
// Stop returns the device to Attached; Start attaches it again.
//
// # Example
//
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0x16C0, 0x05DC).
//	    WithStrings("www.anyma.ch", "uDMX", "100209N0050").
//	    AddConfiguration(1).
//	    AddInterface(device.ClassVendor, 0, 0).
//	    Build(ctx)
//	stack := device.NewStack(dev, fifo.New("/tmp/udmx-bus"))
//	stack.SetVendorHandler(fn)
//	stack.Start(ctx)
package device

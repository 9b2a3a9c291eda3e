// Package udmx binds the uDMX firmware core to the device stack.
//
// A [Function] is the stack's vendor handler. It feeds SETUP packets to the
// firmware command handler, delivers SetChannelRange data stages to its
// continuation, and reports bus activity to the idle manager. For the MIDI
// variant it also queues USB-MIDI packets from the OUT endpoint until the
// main loop polls them, the way V-USB calls usbFunctionWriteOut from
// usbPoll.
//
// The descriptor factories build the two device identities:
//
//   - [NewStandardDevice]: VID 0x16C0, PID 0x05DC, one vendor interface.
//   - [NewMIDIDevice]: PID 0x05E4, an Audio Control interface and a
//     MIDI Streaming interface with endpoints 0x01 and 0x81.
//
// # Usage
//
//	runner := firmware.NewRunner(cfg)
//	dev, _ := udmx.NewStandardDevice(ctx, udmx.Options{Serial: serial})
//	stack := device.NewStack(dev, fifo.New(busDir))
//	fn := udmx.New(runner, udmx.VariantStandard)
//	fn.Attach(stack)
//	runner.Bus = fn
//	runner.Run(ctx)
package udmx

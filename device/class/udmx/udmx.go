package udmx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/udmx/device"
	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/pkg"
)

// MIDIQueueSize is the number of MIDI OUT packets buffered between the
// endpoint pump and the main loop.
const MIDIQueueSize = 64

// Variant selects the firmware build a Function behaves as.
type Variant uint8

// Firmware variants.
const (
	VariantStandard Variant = iota
	VariantMIDI
)

// String returns the variant name used in configuration files.
func (v Variant) String() string {
	switch v {
	case VariantStandard:
		return "standard"
	case VariantMIDI:
		return "midi"
	default:
		return "unknown"
	}
}

// ParseVariant parses a variant name.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "", "standard":
		return VariantStandard, nil
	case "midi":
		return VariantMIDI, nil
	default:
		return 0, pkg.Wrapf(pkg.ErrInvalidParameter, "variant %q", s)
	}
}

// Function is the uDMX USB function. It implements device.VendorHandler
// for the stack and firmware.Bus for the main loop.
type Function struct {
	handler *firmware.Handler
	idle    *firmware.IdleManager
	leds    firmware.LEDs
	variant Variant

	// ReconnectDelay is how long Reconnect keeps the device off the bus.
	ReconnectDelay time.Duration

	stack *device.Stack
	ctx   context.Context
	mutex sync.Mutex

	midi    chan []byte
	dropped atomic.Uint64
	masked  atomic.Bool
}

// New returns the USB function for r and installs it as the runner's bus,
// so the main loop's reconnect and the bootloader's disconnect reach the
// stack.
func New(r *firmware.Runner, variant Variant) *Function {
	f := &Function{
		handler:        r.Handler,
		idle:           r.Idle,
		leds:           r.LEDs,
		variant:        variant,
		ReconnectDelay: firmware.ReconnectDelay,
		ctx:            context.Background(),
	}
	if variant == VariantMIDI {
		f.midi = make(chan []byte, MIDIQueueSize)
	}
	r.Bus = f
	if r.Boot != nil {
		r.Boot.Bus = f
		r.Boot.DisableInterrupts = f.mask
	}
	return f
}

// Attach installs the function on stack. ctx bounds every Start issued by
// Reconnect.
func (f *Function) Attach(ctx context.Context, stack *device.Stack) {
	f.mutex.Lock()
	f.stack = stack
	f.ctx = ctx
	f.mutex.Unlock()

	stack.SetVendorHandler(f)
	stack.SetOnActivity(f.activity)
	stack.SetOnAddress(f.addressAssigned)
	if f.variant == VariantMIDI {
		stack.SetBulkHandler(EndpointMIDIOut, f.queueMIDI)
	}
}

// Variant returns the firmware variant.
func (f *Function) Variant() Variant {
	return f.variant
}

// Dropped returns the number of MIDI packets lost to a full queue.
func (f *Function) Dropped() uint64 {
	return f.dropped.Load()
}

// mask stops the function from serving requests, as the MCU does once
// interrupts are off.
func (f *Function) mask() {
	f.masked.Store(true)
}

func (f *Function) activity() {
	if f.idle != nil {
		f.idle.Activity()
	}
}

func (f *Function) addressAssigned(address uint8) {
	if address == 0 {
		return
	}
	f.handler.Context().AddressAssigned()
	if f.leds != nil {
		f.leds.Set(firmware.LEDGreen)
	}
}

// HandleVendor implements device.VendorHandler.
//
// A rejected command carries its reply code in an IN data stage. An OUT
// request has no data stage to carry it, so the rejection stalls EP0
// instead.
func (f *Function) HandleVendor(setup *device.SetupPacket) (device.VendorReply, error) {
	if f.masked.Load() {
		return device.VendorReply{}, pkg.Wrap(pkg.ErrInvalidState, "interrupts disabled")
	}
	var raw [device.SetupPacketSize]byte
	setup.MarshalTo(raw[:])

	res := f.handler.Setup(raw)
	if res.WantData {
		return device.VendorReply{WantData: true}, nil
	}
	if len(res.Reply) > 0 && setup.IsHostToDevice() {
		return device.VendorReply{}, pkg.ReplyCode(res.Reply[0]).Err()
	}
	return device.VendorReply{Data: append([]byte(nil), res.Reply...)}, nil
}

// VendorWrite implements device.VendorHandler.
func (f *Function) VendorWrite(chunk []byte) (bool, error) {
	switch f.handler.Write(chunk) {
	case firmware.WriteDone:
		return true, nil
	case firmware.WriteMore:
		return false, nil
	default:
		return false, pkg.Wrap(pkg.ErrInvalidState, "no channel range pending")
	}
}

// VendorRead implements device.VendorHandler. The MIDI firmware answers
// with seven zero bytes; the standard firmware has no read function.
func (f *Function) VendorRead(buf []byte) int {
	if f.variant != VariantMIDI {
		return 0
	}
	return copy(buf, f.handler.HandleMIDIRead())
}

func (f *Function) queueMIDI(data []byte) {
	if f.masked.Load() {
		return
	}
	select {
	case f.midi <- append([]byte(nil), data...):
	default:
		f.dropped.Add(1)
		pkg.LogWarn(pkg.ComponentMIDI, "queue full, packet dropped", "len", len(data))
	}
}

// Poll applies queued MIDI packets to the channel store. It implements
// firmware.Bus.
func (f *Function) Poll() {
	if f.midi == nil {
		return
	}
	for {
		select {
		case p := <-f.midi:
			f.handler.HandleMIDI(p)
		default:
			return
		}
	}
}

// Reconnect drops off the bus, waits ReconnectDelay and attaches again, so
// the host enumerates the device from scratch. It implements firmware.Bus.
func (f *Function) Reconnect() error {
	f.mutex.Lock()
	stack, ctx := f.stack, f.ctx
	f.mutex.Unlock()
	if stack == nil {
		return pkg.ErrNoDevice
	}

	if err := stack.Stop(); err != nil {
		return pkg.Wrap(err, "disconnect")
	}
	if f.ReconnectDelay > 0 {
		select {
		case <-time.After(f.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := stack.Start(ctx); err != nil {
		return pkg.Wrap(err, "connect")
	}
	pkg.LogInfo(pkg.ComponentDevice, "usb connected",
		"variant", f.variant.String())
	return nil
}

// Disconnect drops off the bus without waiting for the stack. It runs on
// the stack's goroutine when the host requests the bootloader. It
// implements firmware.Bus.
func (f *Function) Disconnect() error {
	f.mutex.Lock()
	stack := f.stack
	f.mutex.Unlock()
	if stack == nil {
		return nil
	}
	return stack.Detach()
}

var (
	_ device.VendorHandler = (*Function)(nil)
	_ firmware.Bus         = (*Function)(nil)
)

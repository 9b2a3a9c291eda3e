package firmware

import (
	"sync"

	"github.com/ardnew/udmx/pkg"
)

// Bus is the USB side of the device as seen by the main loop.
type Bus interface {
	// Poll services USB work that must run in main loop context.
	Poll()

	// Reconnect detaches from the bus, waits long enough for the host to
	// notice and attaches again, forcing re-enumeration.
	Reconnect() error

	// Disconnect detaches from the bus.
	Disconnect() error
}

// Bootloader hands control to the firmware updater. Jump receives
// BootloaderAddress; when it is nil the device just stays quiesced. Every
// hook may be nil.
type Bootloader struct {
	Watchdog Watchdog
	LEDs     LEDs
	Bus      Bus

	// ClearResetFlag clears the power-on-reset flag, so the bootloader
	// does not mistake the jump for a cold start.
	ClearResetFlag func()

	// DisableInterrupts stops interrupt-driven USB servicing.
	DisableInterrupts func()

	Jump func(addr uint16)

	once sync.Once
	done chan struct{}
}

// NewBootloader returns a trampoline using the given hardware.
func NewBootloader(wd Watchdog, leds LEDs, bus Bus) *Bootloader {
	return &Bootloader{
		Watchdog: wd,
		LEDs:     leds,
		Bus:      bus,
		done:     make(chan struct{}),
	}
}

// Start quiesces the device and jumps to the bootloader. Only the first
// call has any effect; the device never returns to normal operation.
func (b *Bootloader) Start() {
	b.once.Do(func() {
		pkg.LogInfo(pkg.ComponentFirmware, "starting bootloader",
			"address", BootloaderAddress)

		if b.ClearResetFlag != nil {
			b.ClearResetFlag()
		}
		if b.DisableInterrupts != nil {
			b.DisableInterrupts()
		}
		if b.Watchdog != nil {
			b.Watchdog.Disable()
		}
		if b.Bus != nil {
			if err := b.Bus.Disconnect(); err != nil {
				pkg.LogWarn(pkg.ComponentFirmware, "disconnect failed", "error", err)
			}
		}
		if b.LEDs != nil {
			b.LEDs.Set(LEDNone)
		}
		if b.Jump != nil {
			b.Jump(BootloaderAddress)
		}
		close(b.done)
	})
}

// Done is closed once the bootloader has been started.
func (b *Bootloader) Done() <-chan struct{} {
	return b.done
}

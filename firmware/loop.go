package firmware

import (
	"context"
	"time"

	"github.com/ardnew/udmx/pkg"
)

// Runner is the firmware main loop. It owns no state of its own; everything
// lives in the Context and the injected hardware.
type Runner struct {
	Context   *Context
	Handler   *Handler
	Sequencer *Sequencer
	Idle      *IdleManager
	Boot      *Bootloader
	Watchdog  Watchdog
	LEDs      LEDs
	Bus       Bus

	// PollInterval throttles the loop when non-zero. The real CPU spins; a
	// hosted device usually does not want to burn a core.
	PollInterval time.Duration

	// WelcomeTime is how long the LEDs stay lit after Init. Zero skips the
	// blink.
	WelcomeTime time.Duration

	iterations uint64
}

// RunnerConfig collects the hardware a Runner is built from.
type RunnerConfig struct {
	Line     Line
	Watchdog Watchdog
	LEDs     LEDs
	Bus      Bus
}

// NewRunner wires a context, command handler, idle manager, bootloader and
// sequencer over the given hardware.
func NewRunner(cfg RunnerConfig) *Runner {
	c := NewContext()
	idle := NewIdleManager(cfg.Watchdog, cfg.LEDs)
	boot := NewBootloader(cfg.Watchdog, cfg.LEDs, cfg.Bus)
	r := &Runner{
		Context:  c,
		Handler:  NewHandler(c, boot),
		Idle:     idle,
		Boot:     boot,
		Watchdog: cfg.Watchdog,
		LEDs:     cfg.LEDs,
		Bus:      cfg.Bus,
	}
	r.Sequencer = NewSequencer(c, cfg.Line, r.sleepIfIdle(context.Background()))
	return r
}

// Init brings the device to its power-on state and attaches to the bus.
func (r *Runner) Init() error {
	r.Context.Reset()

	r.setLEDs(LEDBoth)
	if r.WelcomeTime > 0 {
		time.Sleep(r.WelcomeTime)
	}
	if r.Watchdog != nil {
		r.Watchdog.Enable(WatchdogTimeout)
	}
	if r.Bus != nil {
		if err := r.Bus.Reconnect(); err != nil {
			return pkg.Wrap(err, "usb reconnect")
		}
	}
	pkg.LogInfo(pkg.ComponentFirmware, "initialized")
	return nil
}

// Run calls Init and then iterates until ctx is cancelled or the bootloader
// takes over, in which case it returns pkg.ErrBootloader.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Init(); err != nil {
		return err
	}
	r.Sequencer.idle = r.sleepIfIdle(ctx)

	var tick *time.Ticker
	if r.PollInterval > 0 {
		tick = time.NewTicker(r.PollInterval)
		defer tick.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			if r.Watchdog != nil {
				r.Watchdog.Disable()
			}
			return ctx.Err()
		case <-r.Boot.Done():
			return pkg.ErrBootloader
		default:
		}

		r.Iterate(ctx)

		if tick != nil {
			select {
			case <-tick.C:
			case <-ctx.Done():
			case <-r.Boot.Done():
			}
		}
	}
}

// Iterate runs one pass of the main loop.
func (r *Runner) Iterate(ctx context.Context) {
	r.iterations++

	if r.Watchdog != nil {
		r.Watchdog.Reset()
	}
	if r.Bus != nil {
		r.Bus.Poll()
	}

	snap := r.Context.Snapshot()
	if snap.PacketLen == 0 {
		if snap.USBState != USBNotInitialized {
			r.Idle.SleepIfIdle(ctx)
		}
		return
	}

	if r.Context.keepAlive() {
		r.setLEDs(LEDBoth)
	} else {
		r.setLEDs(LEDGreen)
	}

	r.Sequencer.Step()
}

// Iterations returns the number of completed loop passes.
func (r *Runner) Iterations() uint64 {
	return r.iterations
}

func (r *Runner) sleepIfIdle(ctx context.Context) func() {
	return func() {
		r.Idle.SleepIfIdle(ctx)
	}
}

func (r *Runner) setLEDs(s LEDState) {
	if r.LEDs != nil {
		r.LEDs.Set(s)
	}
}

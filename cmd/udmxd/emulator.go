package main

import (
	"context"
	"sync/atomic"

	"github.com/ardnew/udmx/bridge/artnet"
	"github.com/ardnew/udmx/bridge/mqtt"
	"github.com/ardnew/udmx/config"
	"github.com/ardnew/udmx/device"
	function "github.com/ardnew/udmx/device/class/udmx"
	"github.com/ardnew/udmx/device/hal/fifo"
	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/pkg"
	"github.com/ardnew/udmx/uart"
)

// emulator is one uDMX on the named-pipe bus together with the bridges
// that watch its DMX output.
type emulator struct {
	cfg     *config.Config
	variant function.Variant

	runner *firmware.Runner
	fn     *function.Function
	stack  *device.Stack
	leds   *firmware.LEDPort
	wd     *firmware.SoftWatchdog

	sim    *uart.Sim
	serial *uart.Serial

	mirror *artnet.Mirror
	bridge *mqtt.Bridge

	hooks  []func(firmware.Frame)
	frames atomic.Uint64
}

// newEmulator builds the device described by cfg. Nothing touches the bus
// until run.
func newEmulator(ctx context.Context, cfg *config.Config) (*emulator, error) {
	variant, err := function.ParseVariant(cfg.Device.Variant)
	if err != nil {
		return nil, err
	}
	e := &emulator{
		cfg:     cfg,
		variant: variant,
		leds:    firmware.NewLEDPort(),
	}

	var line firmware.Line
	switch cfg.Device.Line {
	case "serial":
		e.serial, err = uart.OpenSerial(uart.SerialOptions{Port: cfg.Device.Port})
		if err != nil {
			return nil, err
		}
		line = e.serial
	default:
		e.sim = uart.NewSim()
		line = e.sim
	}

	e.wd = firmware.NewSoftWatchdog(e.watchdogReset)
	e.runner = firmware.NewRunner(firmware.RunnerConfig{
		Line:     line,
		Watchdog: e.wd,
		LEDs:     e.leds,
	})
	e.runner.PollInterval = cfg.Device.Tick.Duration
	e.runner.Sequencer.OnFrame = e.onFrame

	build := function.NewStandardDevice
	if variant == function.VariantMIDI {
		build = function.NewMIDIDevice
	}
	dev, err := build(ctx, function.Options{Serial: cfg.Device.Serial})
	if err != nil {
		e.close()
		return nil, pkg.Wrap(err, "build device")
	}
	e.fn = function.New(e.runner, variant)
	e.stack = device.NewStack(dev, fifo.New(cfg.Device.BusDir))
	e.fn.Attach(ctx, e.stack)

	e.hooks = append(e.hooks, func(firmware.Frame) { e.frames.Add(1) })

	if cfg.ArtNet.Enabled {
		e.mirror, err = artnet.New(artnet.Options{
			CIDR:     cfg.ArtNet.CIDR,
			Net:      cfg.ArtNet.Net,
			SubUni:   cfg.ArtNet.SubUni,
			MaxFPS:   cfg.ArtNet.MaxFPS,
			LogLevel: cfg.Logger.Level,
		})
		if err != nil {
			e.close()
			return nil, pkg.Wrap(err, "art-net")
		}
		e.hooks = append(e.hooks, e.mirror.Frame)
	}
	if cfg.MQTT.Enabled {
		e.bridge = mqtt.New(mqtt.Options{
			Server:   cfg.MQTT.Server,
			Port:     cfg.MQTT.Port,
			ClientID: cfg.MQTT.ClientID,
			User:     cfg.MQTT.User,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, e.runner.Handler)
		e.hooks = append(e.hooks, e.bridge.Frame)
	}
	return e, nil
}

// onFrame hands each transmitted frame to every watcher. The sequencer
// allows a single hook.
func (e *emulator) onFrame(f firmware.Frame) {
	for _, hook := range e.hooks {
		hook(f)
	}
}

// watchdogReset restarts the device the way a watchdog reset would: the
// channel store is cleared and the host sees a new enumeration.
func (e *emulator) watchdogReset() {
	pkg.LogWarn(pkg.ComponentFirmware, "watchdog reset")
	e.runner.Context.Reset()
	go func() {
		if err := e.fn.Reconnect(); err != nil {
			pkg.LogError(pkg.ComponentFirmware, "reconnect after watchdog reset failed", "error", err)
			return
		}
		e.wd.Enable(firmware.WatchdogTimeout)
	}()
}

// startBridges connects the configured bridges.
func (e *emulator) startBridges(ctx context.Context) error {
	if e.mirror != nil {
		if err := e.mirror.Start(ctx); err != nil {
			return err
		}
		pkg.LogInfo(pkg.ComponentArtNet, "mirroring frames", "net", e.cfg.ArtNet.Net, "subuni", e.cfg.ArtNet.SubUni)
	}
	if e.bridge != nil {
		if err := e.bridge.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// run drives the firmware main loop until ctx ends or the host starts the
// bootloader.
func (e *emulator) run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentFirmware, "emulator running",
		"variant", e.variant.String(),
		"bus", e.cfg.Device.BusDir,
		"line", e.cfg.Device.Line)
	return e.runner.Run(ctx)
}

// close releases the bus, the bridges and the line. It is safe to call
// more than once.
func (e *emulator) close() {
	if e.stack != nil {
		if err := e.stack.Stop(); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "stop failed", "error", err)
		}
	}
	if e.wd != nil {
		e.wd.Disable()
	}
	if e.bridge != nil {
		e.bridge.Stop()
	}
	if e.mirror != nil {
		e.mirror.Stop()
	}
	if e.serial != nil {
		if err := e.serial.Close(); err != nil {
			pkg.LogWarn(pkg.ComponentUART, "close failed", "error", err)
		}
		e.serial = nil
	}
}

// Frames returns the number of frames put on the line.
func (e *emulator) Frames() uint64 {
	return e.frames.Load()
}

package firmware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/udmx/pkg"
)

func newTestRunner(t *testing.T) (*Runner, *mockLine, *mockWatchdog, *LEDPort, *mockBus, *fakeClock) {
	t.Helper()
	line := &mockLine{}
	wd := &mockWatchdog{}
	leds := NewLEDPort()
	bus := &mockBus{}
	r := NewRunner(RunnerConfig{Line: line, Watchdog: wd, LEDs: leds, Bus: bus})

	clk := newFakeClock()
	r.Idle.now = clk.Now
	r.Idle.deadline = clk.Now().Add(r.Idle.window)
	return r, line, wd, leds, bus, clk
}

func TestRunnerInit(t *testing.T) {
	r, _, wd, leds, bus, _ := newTestRunner(t)
	if err := r.Init(); err != nil {
		t.Fatal(err)
	}

	snap := r.Context.Snapshot()
	if snap.DMXState != DMXOff || snap.KeepAlive != KeepAliveReset {
		t.Errorf("snapshot = %+v", snap)
	}
	if leds.Get() != LEDBoth {
		t.Errorf("leds = %v, want both", leds.Get())
	}
	if len(wd.enables) != 1 || wd.enables[0] != WatchdogTimeout {
		t.Errorf("watchdog enables = %v", wd.enables)
	}
	if bus.reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", bus.reconnects)
	}
}

func TestRunnerInitReconnectError(t *testing.T) {
	r, _, _, _, bus, _ := newTestRunner(t)
	bus.reconnectErr = pkg.ErrNoDevice

	err := r.Init()
	if !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Init = %v, want ErrNoDevice", err)
	}
}

func TestRunnerIterateIdle(t *testing.T) {
	r, line, wd, _, bus, clk := newTestRunner(t)
	_ = r.Init()

	// Not addressed yet: never sleeps even when the bus is quiet.
	clk.Advance(10 * IdleWindow)
	r.Iterate(context.Background())
	if r.Idle.Sleeps() != 0 {
		t.Error("slept before USB initialization")
	}

	r.Context.AddressAssigned()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Iterate(ctx)
	if r.Idle.Sleeps() != 1 {
		t.Errorf("sleeps = %d, want 1", r.Idle.Sleeps())
	}

	if wd.resets < 2 || bus.polls != 2 {
		t.Errorf("resets = %d, polls = %d", wd.resets, bus.polls)
	}
	if len(line.events) != 0 {
		t.Error("sequencer ran with nothing to send")
	}
}

func TestRunnerHeartbeat(t *testing.T) {
	r, line, _, leds, _, _ := newTestRunner(t)
	_ = r.Init()
	r.Idle.Activity()

	_ = r.Handler.SetChannel(0, 9)
	r.Iterate(context.Background())
	if leds.Get() != LEDBoth {
		t.Errorf("leds = %v after command, want both", leds.Get())
	}
	if len(line.writes) != 1 {
		t.Errorf("writes = %d, want start code", len(line.writes))
	}

	for range KeepAliveLimit {
		r.Iterate(context.Background())
	}
	if leds.Get() != LEDGreen {
		t.Errorf("leds = %v after keep-alive lapse, want green", leds.Get())
	}
	if r.Sequencer.Frames() == 0 {
		t.Error("no frames sent")
	}
}

func TestRunnerBootloader(t *testing.T) {
	r, _, wd, leds, bus, _ := newTestRunner(t)
	r.PollInterval = time.Millisecond

	bus.onPoll = func() {
		r.Handler.Setup(setupPacket(CmdStartBootloader, 0, 0, 0))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := r.Run(ctx)
	if !errors.Is(err, pkg.ErrBootloader) {
		t.Fatalf("Run = %v, want ErrBootloader", err)
	}
	if wd.isEnabled() {
		t.Error("watchdog enabled after bootloader start")
	}
	if leds.Get() != LEDNone {
		t.Errorf("leds = %v, want none", leds.Get())
	}
}

func TestRunnerCancel(t *testing.T) {
	r, _, _, _, _, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if r.Iterations() == 0 {
		t.Error("no iterations")
	}
}

func TestRunnerLineOnly(t *testing.T) {
	r := NewRunner(RunnerConfig{Line: &mockLine{}})
	clk := newFakeClock()
	r.Idle.now = clk.Now
	r.Idle.deadline = clk.Now().Add(r.Idle.window)
	if err := r.Init(); err != nil {
		t.Fatal(err)
	}

	r.Context.AddressAssigned()
	clk.Advance(IdleWindow)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Iterate(ctx)
	if r.Idle.Sleeps() != 1 {
		t.Errorf("sleeps = %d, want 1", r.Idle.Sleeps())
	}
}

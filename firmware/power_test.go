package firmware

import (
	"context"
	"testing"
	"time"
)

func newTestIdle(t *testing.T) (*IdleManager, *fakeClock, *mockWatchdog, *LEDPort) {
	t.Helper()
	clk := newFakeClock()
	wd := &mockWatchdog{}
	leds := NewLEDPort()
	m := NewIdleManager(wd, leds)
	m.now = clk.Now
	m.deadline = clk.Now().Add(m.window)
	return m, clk, wd, leds
}

func TestSleepIfIdleBeforeExpiry(t *testing.T) {
	m, clk, wd, leds := newTestIdle(t)
	clk.Advance(IdleWindow / 2)

	if m.Expired() {
		t.Fatal("expired too early")
	}
	if m.SleepIfIdle(context.Background()) {
		t.Error("slept before the window expired")
	}
	if leds.Get() != LEDNone || wd.disables != 0 {
		t.Error("no-op call touched hardware")
	}
}

func TestSleepIfIdleWithActivity(t *testing.T) {
	m, clk, wd, leds := newTestIdle(t)
	m.Activity()
	clk.Advance(IdleWindow)

	if m.SleepIfIdle(context.Background()) {
		t.Error("slept despite bus activity")
	}
	if wd.disables != 0 {
		t.Error("watchdog disabled without sleeping")
	}
	if leds.Get() != LEDGreen {
		t.Errorf("leds = %v, want green", leds.Get())
	}
	if m.Expired() {
		t.Error("timer not reloaded")
	}

	// The edge was consumed; the next quiet window sleeps.
	clk.Advance(IdleWindow)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !m.SleepIfIdle(ctx) {
		t.Error("did not sleep after a quiet window")
	}
}

func TestSleepIfIdleWakesOnActivity(t *testing.T) {
	m, clk, wd, leds := newTestIdle(t)
	clk.Advance(IdleWindow)

	var states []LEDState
	leds.OnChange = func(s LEDState) { states = append(states, s) }

	done := make(chan bool)
	go func() {
		done <- m.SleepIfIdle(context.Background())
	}()

	// Wait for the CPU to go to sleep before waking it.
	deadline := time.Now().Add(2 * time.Second)
	for wd.disableCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("never went to sleep")
		}
		time.Sleep(time.Millisecond)
	}
	m.Activity()

	select {
	case slept := <-done:
		if !slept {
			t.Error("SleepIfIdle reported no sleep")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("activity did not wake the CPU")
	}

	if m.Sleeps() != 1 {
		t.Errorf("sleeps = %d, want 1", m.Sleeps())
	}
	if len(wd.enables) != 1 || wd.enables[0] != WatchdogTimeout {
		t.Errorf("watchdog enables = %v, want [%v]", wd.enables, WatchdogTimeout)
	}
	if wd.resets != 1 {
		t.Errorf("watchdog resets = %d, want 1", wd.resets)
	}
	if len(states) != 1 || states[0] != LEDGreen {
		// LEDNone was already the port value, so only green is a change.
		t.Errorf("led changes = %v, want [green]", states)
	}
}

func TestSleepIfIdleCancelled(t *testing.T) {
	m, clk, wd, _ := newTestIdle(t)
	clk.Advance(2 * IdleWindow)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if !m.SleepIfIdle(ctx) {
		t.Error("expected sleep")
	}
	if !wd.isEnabled() {
		t.Error("watchdog not re-enabled after wake")
	}
}

func TestSleepIfIdleWithoutHardware(t *testing.T) {
	clk := newFakeClock()
	m := NewIdleManager(nil, nil)
	m.now = clk.Now
	m.deadline = clk.Now().Add(m.window)

	clk.Advance(IdleWindow)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !m.SleepIfIdle(ctx) {
		t.Error("did not sleep after a quiet window")
	}
	if m.Sleeps() != 1 {
		t.Errorf("sleeps = %d, want 1", m.Sleeps())
	}
}

package firmware

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/udmx/pkg"
)

// IdleManager puts the device to sleep when the bus has been quiet for a
// whole activity window.
//
// It models two pieces of hardware: an edge detector on the USB data line
// (Activity) and a timer that overflows IdleWindow after it was last
// reloaded (Expired).
type IdleManager struct {
	mu       sync.Mutex
	window   time.Duration
	deadline time.Time
	edge     bool
	wake     chan struct{}
	sleeps   int

	watchdog Watchdog
	leds     LEDs
	now      func() time.Time
}

// NewIdleManager returns an idle manager with the default window. wd and
// leds may be nil.
func NewIdleManager(wd Watchdog, leds LEDs) *IdleManager {
	return NewIdleManagerWindow(wd, leds, IdleWindow)
}

// NewIdleManagerWindow returns an idle manager with a custom window.
func NewIdleManagerWindow(wd Watchdog, leds LEDs, window time.Duration) *IdleManager {
	m := &IdleManager{
		window:   window,
		wake:     make(chan struct{}, 1),
		watchdog: wd,
		leds:     leds,
		now:      time.Now,
	}
	m.deadline = m.now().Add(window)
	return m
}

// Activity records a bus edge and wakes a sleeping CPU.
func (m *IdleManager) Activity() {
	m.mu.Lock()
	m.edge = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Expired reports whether the activity timer has overflowed.
func (m *IdleManager) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.now().Before(m.deadline)
}

// Sleeps returns how many times the CPU was put to sleep.
func (m *IdleManager) Sleeps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleeps
}

// SleepIfIdle is a no-op until the activity timer overflows. Once it has,
// the CPU sleeps if no edge was seen during the window, blocking until
// Activity or ctx is done. Either way the edge flag is cleared, the timer
// reloaded and the connected LED restored. It reports whether it slept.
func (m *IdleManager) SleepIfIdle(ctx context.Context) bool {
	m.mu.Lock()
	if m.now().Before(m.deadline) {
		m.mu.Unlock()
		return false
	}
	idle := !m.edge
	if idle {
		m.sleeps++
	}
	m.mu.Unlock()

	if idle {
		m.sleep(ctx)
	}

	m.mu.Lock()
	m.edge = false
	m.deadline = m.now().Add(m.window)
	m.mu.Unlock()
	select {
	case <-m.wake:
	default:
	}
	m.setLEDs(LEDGreen)
	return idle
}

func (m *IdleManager) setLEDs(s LEDState) {
	if m.leds != nil {
		m.leds.Set(s)
	}
}

// sleep stops the watchdog, if there is one, for the duration of the nap.
func (m *IdleManager) sleep(ctx context.Context) {
	m.setLEDs(LEDNone)
	if m.watchdog != nil {
		m.watchdog.Disable()
	}
	pkg.LogDebug(pkg.ComponentPower, "bus idle, sleeping")

	// A stale wake-up from an edge that was already accounted for must not
	// end the sleep early.
	select {
	case <-m.wake:
		m.mu.Lock()
		woke := m.edge
		m.mu.Unlock()
		if woke {
			break
		}
		m.block(ctx)
	default:
		m.block(ctx)
	}

	if m.watchdog != nil {
		m.watchdog.Reset()
		m.watchdog.Enable(WatchdogTimeout)
	}
	pkg.LogDebug(pkg.ComponentPower, "bus activity, awake")
}

func (m *IdleManager) block(ctx context.Context) {
	select {
	case <-m.wake:
	case <-ctx.Done():
	}
}

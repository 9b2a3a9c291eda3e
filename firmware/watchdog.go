package firmware

import (
	"sync"
	"time"

	"github.com/ardnew/udmx/pkg"
)

// Watchdog is the hardware watchdog timer. The main loop resets it once per
// iteration; the power manager disables it while the CPU sleeps.
type Watchdog interface {
	Reset()
	Enable(timeout time.Duration)
	Disable()
}

// SoftWatchdog is a Watchdog backed by a timer. When it is not reset within
// its timeout it calls OnExpire, which models a device reset.
type SoftWatchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	enabled bool
	fired   int

	OnExpire func()
}

// NewSoftWatchdog returns a disabled watchdog that calls onExpire on timeout.
func NewSoftWatchdog(onExpire func()) *SoftWatchdog {
	return &SoftWatchdog{OnExpire: onExpire}
}

// Enable arms the watchdog with the given timeout.
func (w *SoftWatchdog) Enable(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.timeout = timeout
	w.enabled = true
	if w.timer == nil {
		w.timer = time.AfterFunc(timeout, w.expire)
		return
	}
	w.timer.Reset(timeout)
}

// Reset restarts the timeout. It does nothing while disabled.
func (w *SoftWatchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enabled {
		w.timer.Reset(w.timeout)
	}
}

// Disable stops the watchdog.
func (w *SoftWatchdog) Disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = false
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Enabled reports whether the watchdog is armed.
func (w *SoftWatchdog) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Fired returns how many times the watchdog expired.
func (w *SoftWatchdog) Fired() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

func (w *SoftWatchdog) expire() {
	w.mu.Lock()
	if !w.enabled {
		w.mu.Unlock()
		return
	}
	w.enabled = false
	w.fired++
	cb := w.OnExpire
	w.mu.Unlock()

	pkg.LogWarn(pkg.ComponentFirmware, "watchdog expired")
	if cb != nil {
		cb()
	}
}

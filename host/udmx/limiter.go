package udmx

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/pkg"
)

// DefaultSpeedLimit is the minimum gap between two transmissions.
const DefaultSpeedLimit = 10 * time.Millisecond

// Sender issues channel updates to a device. *Client implements it.
type Sender interface {
	SetSingleChannel(ctx context.Context, channel, value uint16) (Reply, error)
	SetChannelRange(ctx context.Context, start uint16, values []byte) (int, error)
}

// Timer is a pending flush. *time.Timer implements it.
type Timer interface {
	Stop() bool
}

// Limiter keeps a shadow copy of the universe and rate-limits updates to
// a device. The first change after an idle period goes out at once and
// arms the speed limit; changes made while it runs are merged into one
// transfer covering the lowest through the highest changed channel.
type Limiter struct {
	// AfterFunc schedules the flush. It defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer

	// OnStatus is called with the connection state whenever it changes.
	OnStatus func(connected bool)

	ctx    context.Context
	sender Sender

	mutex    sync.Mutex
	buffer   [firmware.NumChannels]byte
	channel  int
	speedLim time.Duration
	running  bool
	min, max int
	timer    Timer
	gen      uint64
	lost     bool
}

// NewLimiter returns a limiter using DefaultSpeedLimit. Transfers run
// under ctx.
func NewLimiter(ctx context.Context) *Limiter {
	return &Limiter{
		AfterFunc: func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		ctx:       ctx,
		speedLim:  DefaultSpeedLimit,
		min:       firmware.NumChannels,
		max:       -1,
	}
}

// Open attaches the limiter to s and reports the connection.
func (l *Limiter) Open(s Sender) {
	l.mutex.Lock()
	l.sender = s
	l.mutex.Unlock()
	l.status(true)
}

// Close detaches the sender and stops a pending flush.
func (l *Limiter) Close() {
	l.mutex.Lock()
	l.sender = nil
	l.stopTimerLocked()
	l.resetLocked()
	l.mutex.Unlock()
	l.status(false)
}

// Connected reports whether a sender is attached.
func (l *Limiter) Connected() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.sender != nil
}

// SetChannel selects the channel Set writes to, clamped to 0..511.
func (l *Limiter) SetChannel(channel int) {
	l.mutex.Lock()
	l.channel = clamp(channel, 0, firmware.NumChannels-1)
	l.mutex.Unlock()
}

// SetSpeedLimit changes the minimum gap between transmissions. Zero turns
// the limit off. A pending flush is cancelled; the changes it tracked go
// out with the next one.
func (l *Limiter) SetSpeedLimit(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.mutex.Lock()
	l.speedLim = d
	l.stopTimerLocked()
	l.running = false
	l.mutex.Unlock()
}

// Value returns the shadow value of channel.
func (l *Limiter) Value(channel int) byte {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.buffer[clamp(channel, 0, firmware.NumChannels-1)]
}

// Set writes value, clamped to 0..255, to the selected channel. An
// unchanged value is not sent.
func (l *Limiter) Set(value int) {
	l.mutex.Lock()
	defer l.unlock()

	v := byte(clamp(value, 0, 0xFF))
	ch := l.channel
	if l.buffer[ch] == v {
		return
	}
	l.buffer[ch] = v

	if l.running {
		l.trackLocked(ch, ch)
		return
	}
	l.sendSingleLocked(ch)
	l.armLocked()
}

// SetList writes values to consecutive channels starting at the selected
// one. Values past channel 511 are dropped. Only the changed span is sent.
func (l *Limiter) SetList(values []int) {
	l.mutex.Lock()
	defer l.unlock()

	lo, hi := firmware.NumChannels, -1
	for i, value := range values {
		ch := l.channel + i
		if ch >= firmware.NumChannels {
			break
		}
		v := byte(clamp(value, 0, 0xFF))
		if l.buffer[ch] == v {
			continue
		}
		l.buffer[ch] = v
		lo, hi = min(lo, ch), max(hi, ch)
	}
	if hi < 0 {
		return
	}

	if l.running {
		l.trackLocked(lo, hi)
		return
	}
	if hi > lo {
		l.sendRangeLocked(lo, hi)
	} else {
		l.sendSingleLocked(lo)
	}
	l.armLocked()
}

func (l *Limiter) trackLocked(lo, hi int) {
	l.min = min(l.min, lo)
	l.max = max(l.max, hi)
}

func (l *Limiter) armLocked() {
	if l.speedLim <= 0 {
		return
	}
	l.running = true
	l.gen++
	gen := l.gen
	l.timer = l.AfterFunc(l.speedLim, func() { l.flush(gen) })
}

// stopTimerLocked cancels the pending flush. A timer that already fired
// finds its generation stale and does nothing.
func (l *Limiter) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.gen++
}

func (l *Limiter) resetLocked() {
	l.min, l.max = firmware.NumChannels, -1
	l.running = false
}

// flush sends what changed while the speed limit was running.
func (l *Limiter) flush(gen uint64) {
	l.mutex.Lock()
	defer l.unlock()

	if gen != l.gen {
		return
	}
	if l.min < firmware.NumChannels {
		if l.max > l.min {
			l.sendRangeLocked(l.min, l.max)
		} else {
			l.sendSingleLocked(l.min)
		}
	}
	l.resetLocked()
	l.timer = nil
}

func (l *Limiter) sendSingleLocked(ch int) {
	if l.sender == nil {
		return
	}
	_, err := l.sender.SetSingleChannel(l.ctx, uint16(ch), uint16(l.buffer[ch]))
	l.checkLocked(err)
}

// sendRangeLocked sends channels from through to inclusive.
func (l *Limiter) sendRangeLocked(from, to int) {
	if l.sender == nil {
		return
	}
	if to <= from {
		to = from + 1
	}
	to = min(to, firmware.NumChannels-1)
	_, err := l.sender.SetChannelRange(l.ctx, uint16(from), l.buffer[from:to+1])
	l.checkLocked(err)
}

// checkLocked drops the sender once the device is gone.
func (l *Limiter) checkLocked(err error) {
	if err == nil || !pkg.Is(err, pkg.ErrNoDevice) {
		return
	}
	pkg.LogWarn(pkg.ComponentClient, "device lost", "error", err)
	l.sender = nil
	l.lost = true
}

// unlock releases the mutex and reports a device lost while it was held.
func (l *Limiter) unlock() {
	lost := l.lost
	l.lost = false
	l.mutex.Unlock()
	if lost {
		l.status(false)
	}
}

func (l *Limiter) status(connected bool) {
	if cb := l.OnStatus; cb != nil {
		cb(connected)
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

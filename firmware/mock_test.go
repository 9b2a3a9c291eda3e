package firmware

import (
	"sync"
	"time"
)

// mockLine implements Line with an instantly draining transmitter.
type mockLine struct {
	txEnabled bool
	txc       bool
	busy      bool // data register full
	timerHeld bool // timer never expires while set
	drainHeld bool // shift register never drains while set
	low       bool

	onDrain func() // called on every TXComplete poll

	armed  []time.Duration
	writes []byte
	frames [][]byte
	events []string
}

func (m *mockLine) EnableTX() {
	m.txEnabled = true
	m.writes = m.writes[:0]
	m.events = append(m.events, "tx-on")
}

func (m *mockLine) DisableTX() {
	m.txEnabled = false
	m.frames = append(m.frames, append([]byte(nil), m.writes...))
	m.events = append(m.events, "tx-off")
}

func (m *mockLine) ClearTXComplete()        { m.txc = false }
func (m *mockLine) DataRegisterEmpty() bool { return !m.busy }

func (m *mockLine) TXComplete() bool {
	if m.onDrain != nil {
		m.onDrain()
	}
	return m.txc && !m.drainHeld
}

func (m *mockLine) WriteByte(b byte) error {
	m.writes = append(m.writes, b)
	m.txc = true
	return nil
}

func (m *mockLine) Break() {
	m.low = true
	m.events = append(m.events, "break")
}

func (m *mockLine) Mark() {
	m.low = false
	m.events = append(m.events, "mark")
}

func (m *mockLine) ArmTimer(d time.Duration) { m.armed = append(m.armed, d) }
func (m *mockLine) TimerExpired() bool       { return !m.timerHeld }

// mockWatchdog records calls.
type mockWatchdog struct {
	mu       sync.Mutex
	resets   int
	enables  []time.Duration
	disables int
	enabled  bool
}

func (w *mockWatchdog) Reset() {
	w.mu.Lock()
	w.resets++
	w.mu.Unlock()
}

func (w *mockWatchdog) Enable(d time.Duration) {
	w.mu.Lock()
	w.enables = append(w.enables, d)
	w.enabled = true
	w.mu.Unlock()
}

func (w *mockWatchdog) Disable() {
	w.mu.Lock()
	w.disables++
	w.enabled = false
	w.mu.Unlock()
}

func (w *mockWatchdog) disableCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disables
}

func (w *mockWatchdog) isEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// mockBus records calls.
type mockBus struct {
	mu           sync.Mutex
	polls        int
	reconnects   int
	disconnects  int
	reconnectErr error
	onPoll       func()
}

func (b *mockBus) Poll() {
	b.mu.Lock()
	b.polls++
	fn := b.onPoll
	b.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *mockBus) Reconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconnects++
	return b.reconnectErr
}

func (b *mockBus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	return nil
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func setupPacket(req byte, value, index, length uint16) [8]byte {
	return [8]byte{
		0x40, req,
		byte(value), byte(value >> 8),
		byte(index), byte(index >> 8),
		byte(length), byte(length >> 8),
	}
}

// runFrames steps s until n frames have been sent or the step limit is hit.
func runFrames(s *Sequencer, n int) {
	for i := 0; i < 100_000 && s.Frames() < uint64(n); i++ {
		s.Step()
	}
}

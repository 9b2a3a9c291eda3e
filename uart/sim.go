package uart

import (
	"sync"
	"time"

	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/pkg"
)

// DefaultTick is how far the virtual clock advances on every status poll.
const DefaultTick = 4 * time.Microsecond

// DefaultLogSize is the number of frames a Sim keeps.
const DefaultLogSize = 16

// Level is the logic level of the TX line.
type Level uint8

// Line levels. The line idles at Mark.
const (
	Mark Level = iota
	Space
)

// String returns the level name.
func (l Level) String() string {
	if l == Space {
		return "space"
	}
	return "mark"
}

// SimFrame is one packet as seen on the simulated wire: the reset sequence
// that preceded it and the bytes that followed, start code first.
type SimFrame struct {
	Break time.Duration
	MAB   time.Duration
	Bytes []byte

	// Start and End are the virtual times of the first and last bit.
	Start, End time.Duration
}

// Sim is a firmware.Line over a virtual clock. Every DataRegisterEmpty,
// TXComplete and TimerExpired call advances the clock by Tick, so the
// sequencer's busy polling drives time forward.
type Sim struct {
	// Tick is the clock advance per poll.
	Tick time.Duration

	// ByteTime is how long one byte occupies the shift register.
	ByteTime time.Duration

	// OnFrame, if set, receives each frame once the transmitter is disabled.
	OnFrame func(SimFrame)

	mutex sync.Mutex
	now   time.Duration

	txEnabled bool
	txc       bool
	level     Level
	txEnd     time.Duration
	deadline  time.Duration

	breakAt, markAt time.Duration
	pendBreak       time.Duration
	pendMAB         time.Duration

	cur     *SimFrame
	log     []SimFrame
	logSize int
	frames  uint64
}

// NewSim returns a simulated line with the DMX byte time and default tick.
func NewSim() *Sim {
	return &Sim{
		Tick:     DefaultTick,
		ByteTime: firmware.ByteTime,
		logSize:  DefaultLogSize,
	}
}

// SetLogSize changes how many frames are kept.
func (s *Sim) SetLogSize(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.logSize = n
	if len(s.log) > n {
		s.log = s.log[len(s.log)-n:]
	}
}

func (s *Sim) advanceLocked() {
	s.now += s.Tick
}

// Advance moves the virtual clock forward by d.
func (s *Sim) Advance(d time.Duration) {
	s.mutex.Lock()
	s.now += d
	s.mutex.Unlock()
}

// Now returns the virtual time.
func (s *Sim) Now() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.now
}

// EnableTX implements firmware.Line.
func (s *Sim) EnableTX() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.txEnabled {
		return
	}
	s.txEnabled = true
	if s.level == Mark && s.markAt > 0 {
		s.pendMAB = s.now - s.markAt
	}
	s.cur = &SimFrame{
		Break: s.pendBreak,
		MAB:   s.pendMAB,
		Start: s.now,
	}
	s.pendBreak, s.pendMAB = 0, 0
}

// DisableTX implements firmware.Line. It closes the current frame.
func (s *Sim) DisableTX() {
	s.mutex.Lock()
	if !s.txEnabled {
		s.mutex.Unlock()
		return
	}
	s.txEnabled = false
	f := s.cur
	s.cur = nil
	if f != nil {
		f.End = s.txEnd
		s.frames++
		s.log = append(s.log, *f)
		if len(s.log) > s.logSize {
			s.log = s.log[len(s.log)-s.logSize:]
		}
	}
	cb := s.OnFrame
	s.mutex.Unlock()

	if f != nil && cb != nil {
		cb(*f)
	}
}

// ClearTXComplete implements firmware.Line.
func (s *Sim) ClearTXComplete() {
	s.mutex.Lock()
	s.txc = false
	s.mutex.Unlock()
}

// TXComplete implements firmware.Line.
func (s *Sim) TXComplete() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.advanceLocked()
	if s.now >= s.txEnd {
		s.txc = true
	}
	return s.txc
}

// DataRegisterEmpty implements firmware.Line. The data register frees up
// once at most one byte is left in the shift register.
func (s *Sim) DataRegisterEmpty() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.advanceLocked()
	return s.txEnd-s.now <= s.ByteTime
}

// WriteByte implements firmware.Line.
func (s *Sim) WriteByte(b byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.txEnabled {
		return pkg.Wrap(pkg.ErrInvalidState, "transmitter disabled")
	}
	if s.txEnd-s.now > s.ByteTime {
		return pkg.ErrBusy
	}
	start := s.txEnd
	if start < s.now {
		start = s.now
	}
	s.txEnd = start + s.ByteTime
	s.txc = false
	s.cur.Bytes = append(s.cur.Bytes, b)
	return nil
}

// Break implements firmware.Line.
func (s *Sim) Break() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.level == Space {
		return
	}
	s.level = Space
	s.breakAt = s.now
}

// Mark implements firmware.Line.
func (s *Sim) Mark() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.level == Mark {
		return
	}
	s.level = Mark
	s.pendBreak = s.now - s.breakAt
	s.markAt = s.now
}

// ArmTimer implements firmware.Line.
func (s *Sim) ArmTimer(d time.Duration) {
	s.mutex.Lock()
	s.deadline = s.now + d
	s.mutex.Unlock()
}

// TimerExpired implements firmware.Line.
func (s *Sim) TimerExpired() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.advanceLocked()
	return s.now >= s.deadline
}

// Level returns the current line level.
func (s *Sim) Level() Level {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.level
}

// Frames returns the number of frames transmitted.
func (s *Sim) Frames() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.frames
}

// Log returns a copy of the most recent frames, oldest first.
func (s *Sim) Log() []SimFrame {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]SimFrame, len(s.log))
	copy(out, s.log)
	return out
}

// Last returns the most recent frame.
func (s *Sim) Last() (SimFrame, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.log) == 0 {
		return SimFrame{}, false
	}
	return s.log[len(s.log)-1], true
}

var _ firmware.Line = (*Sim)(nil)

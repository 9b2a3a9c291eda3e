package firmware

import (
	"sync"
	"time"

	"github.com/ardnew/udmx/pkg"
)

// Line is the UART and timer hardware the sequencer drives.
type Line interface {
	// EnableTX hands the TX pin to the UART; DisableTX returns it to the port.
	EnableTX()
	DisableTX()

	// ClearTXComplete clears the flag set when the last byte has fully left
	// the shift register; TXComplete reads it.
	ClearTXComplete()
	TXComplete() bool

	// DataRegisterEmpty reports whether WriteByte may be called.
	DataRegisterEmpty() bool
	WriteByte(b byte) error

	// Break pulls the (disabled) TX pin low; Mark drives it high.
	Break()
	Mark()

	// ArmTimer starts the frame timer; TimerExpired reports its overflow.
	ArmTimer(d time.Duration)
	TimerExpired() bool
}

// Frame is one transmitted DMX packet.
type Frame struct {
	StartCode byte
	Data      []byte
}

// Sequencer serializes the channel store as back-to-back DMX-512 frames.
// Step advances it by at most one state and never blocks, except for the
// idle check made while the line is in BREAK.
type Sequencer struct {
	ctx    *Context
	line   Line
	idle   func()
	outIdx int

	frame []byte

	statsMu sync.Mutex
	visits  [numDMXStates]uint64
	frames  uint64

	// OnFrame, if set, receives each completed frame. The data slice is a
	// copy owned by the callee.
	OnFrame func(Frame)
}

// NewSequencer returns a sequencer for c on line. idle is called at every
// BREAK timer expiry; it may block.
func NewSequencer(c *Context, line Line, idle func()) *Sequencer {
	return &Sequencer{
		ctx:   c,
		line:  line,
		idle:  idle,
		frame: make([]byte, 0, NumChannels),
	}
}

// Step advances the state machine. The line is driven without holding the
// context lock, so command writes interleave with a frame in progress.
func (s *Sequencer) Step() {
	c := s.ctx
	c.mu.Lock()
	state := c.dmxState
	c.mu.Unlock()

	var next DMXState
	switch state {
	case DMXNewPacket:
		s.line.EnableTX()
		s.outIdx = 0
		s.frame = s.frame[:0]
		s.line.ClearTXComplete()
		s.write(StartCode)
		next = DMXInPacket

	case DMXInPacket:
		if !s.line.DataRegisterEmpty() {
			return
		}
		c.mu.Lock()
		more := s.outIdx < c.packetLen
		var b byte
		if more {
			b = c.store[s.outIdx]
		}
		c.mu.Unlock()
		if more {
			s.outIdx++
			s.frame = append(s.frame, b)
			s.write(b)
			return
		}
		if !s.transition(state, DMXEndOfPacket) {
			return
		}
		state = DMXEndOfPacket
		fallthrough

	case DMXEndOfPacket:
		if !s.line.TXComplete() {
			return
		}
		s.line.DisableTX()
		s.line.Break()
		s.line.ArmTimer(BreakTime)
		if s.transition(state, DMXInBreak) {
			s.emit()
		}
		return

	case DMXInBreak:
		if !s.line.TimerExpired() {
			return
		}
		// Sleeping inside BREAK never corrupts a frame.
		if s.idle != nil {
			s.idle()
		}
		s.line.Mark()
		s.line.ArmTimer(MABTime)
		next = DMXInMAB

	case DMXInMAB:
		if !s.line.TimerExpired() {
			return
		}
		next = DMXNewPacket

	default:
		return
	}
	s.transition(state, next)
}

// transition moves the context from one state to the next and counts the
// state left. It fails if the state changed meanwhile, as Reset does.
func (s *Sequencer) transition(from, to DMXState) bool {
	c := s.ctx
	c.mu.Lock()
	ok := c.dmxState == from
	if ok {
		c.dmxState = to
	}
	c.mu.Unlock()
	if ok {
		s.count(from)
	}
	return ok
}

func (s *Sequencer) write(b byte) {
	if err := s.line.WriteByte(b); err != nil {
		pkg.LogWarn(pkg.ComponentSequencer, "uart write failed", "error", err)
	}
}

// count records that state was left.
func (s *Sequencer) count(state DMXState) {
	s.statsMu.Lock()
	s.visits[state]++
	s.statsMu.Unlock()
}

func (s *Sequencer) emit() {
	s.statsMu.Lock()
	s.frames++
	s.statsMu.Unlock()

	if s.OnFrame == nil {
		return
	}
	data := make([]byte, len(s.frame))
	copy(data, s.frame)
	s.OnFrame(Frame{StartCode: StartCode, Data: data})
}

// Frames returns the number of frames fully transmitted.
func (s *Sequencer) Frames() uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.frames
}

// Visits returns how many times the sequencer has left state.
func (s *Sequencer) Visits(state DMXState) uint64 {
	if state >= numDMXStates {
		return 0
	}
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.visits[state]
}

package firmware

import (
	"bytes"
	"testing"
)

func TestSequencerOff(t *testing.T) {
	c := NewContext()
	line := &mockLine{}
	s := NewSequencer(c, line, nil)

	for range 10 {
		s.Step()
	}
	if c.DMXState() != DMXOff {
		t.Errorf("state = %v, want Off", c.DMXState())
	}
	if len(line.writes) != 0 || len(line.events) != 0 {
		t.Errorf("line touched while off: %v", line.events)
	}
}

func TestSequencerFrame(t *testing.T) {
	tests := []struct {
		name     string
		channels map[uint16]uint16
	}{
		{"single", map[uint16]uint16{0: 255}},
		{"sparse", map[uint16]uint16{3: 1, 9: 200}},
		{"full", map[uint16]uint16{511: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext()
			h := NewHandler(c, nil)
			line := &mockLine{}
			s := NewSequencer(c, line, nil)

			var got []Frame
			s.OnFrame = func(f Frame) { got = append(got, f) }

			for ch, v := range tt.channels {
				if err := h.SetChannel(ch, v); err != nil {
					t.Fatalf("SetChannel(%d, %d): %v", ch, v, err)
				}
			}
			runFrames(s, 2)

			if len(got) != 2 {
				t.Fatalf("frames = %d, want 2", len(got))
			}
			store := c.Channels()
			want := store[:c.PacketLen()]
			for i, f := range got {
				if f.StartCode != StartCode {
					t.Errorf("frame %d start code = %#x", i, f.StartCode)
				}
				if !bytes.Equal(f.Data, want) {
					t.Errorf("frame %d data mismatch", i)
				}
				wire := line.frames[i]
				if len(wire) != 1+c.PacketLen() || wire[0] != StartCode {
					t.Errorf("frame %d wire length = %d, want %d", i, len(wire), 1+c.PacketLen())
				}
			}
			for ch, v := range tt.channels {
				if b := got[0].Data[ch]; b != byte(v) {
					t.Errorf("frame byte %d = %d, want %d", ch+1, b, v)
				}
			}
		})
	}
}

func TestSequencerStateOrder(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)
	line := &mockLine{drainHeld: true}
	s := NewSequencer(c, line, nil)

	_ = h.SetChannel(2, 50)

	var trace []DMXState
	record := func() {
		st := c.DMXState()
		if len(trace) == 0 || trace[len(trace)-1] != st {
			trace = append(trace, st)
		}
	}

	record()
	for range 20 {
		s.Step()
		record()
	}
	if got := c.DMXState(); got != DMXEndOfPacket {
		t.Fatalf("state = %v, want EndOfPacket while draining", got)
	}
	line.drainHeld = false
	for range 3 {
		s.Step()
		record()
	}

	want := []DMXState{DMXNewPacket, DMXInPacket, DMXEndOfPacket, DMXInBreak, DMXInMAB, DMXNewPacket}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
	for _, st := range []DMXState{DMXNewPacket, DMXInPacket, DMXEndOfPacket, DMXInBreak, DMXInMAB} {
		if n := s.Visits(st); n != 1 {
			t.Errorf("visits(%v) = %d, want 1", st, n)
		}
	}
}

func TestSequencerByteCount(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)
	line := &mockLine{}
	s := NewSequencer(c, line, nil)

	_ = h.SetChannel(99, 1)
	runFrames(s, 3)

	if len(line.frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(line.frames))
	}
	for i, f := range line.frames {
		if len(f) != 1+100 {
			t.Errorf("frame %d carries %d bytes, want %d", i, len(f), 101)
		}
	}
}

func TestSequencerWaitsForUART(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)
	line := &mockLine{}
	s := NewSequencer(c, line, nil)

	_ = h.SetChannel(4, 1)
	s.Step() // start code
	line.busy = true
	for range 10 {
		s.Step()
	}
	if len(line.writes) != 1 {
		t.Errorf("writes = %d while data register full, want 1", len(line.writes))
	}
	if c.DMXState() != DMXInPacket {
		t.Errorf("state = %v, want InPacket", c.DMXState())
	}

	line.busy = false
	line.timerHeld = true
	for range 10 {
		s.Step()
	}
	if c.DMXState() != DMXInBreak {
		t.Fatalf("state = %v, want InBreak", c.DMXState())
	}
	if !line.low {
		t.Error("line not held low during break")
	}
}

func TestSequencerTiming(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)
	line := &mockLine{}
	s := NewSequencer(c, line, nil)

	_ = h.SetChannel(0, 1)
	runFrames(s, 1)
	for c.DMXState() != DMXNewPacket {
		s.Step()
	}

	if len(line.armed) != 2 || line.armed[0] != BreakTime || line.armed[1] != MABTime {
		t.Errorf("timers = %v, want [%v %v]", line.armed, BreakTime, MABTime)
	}
	wantEvents := []string{"tx-on", "tx-off", "break", "mark"}
	if len(line.events) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", line.events, wantEvents)
	}
	for i := range wantEvents {
		if line.events[i] != wantEvents[i] {
			t.Errorf("events = %v, want %v", line.events, wantEvents)
			break
		}
	}
}

func TestSequencerIdleInBreak(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)
	line := &mockLine{}

	var calls int
	var seen DMXState
	s := NewSequencer(c, line, func() {
		calls++
		// The context must be usable while the CPU sleeps.
		seen = c.DMXState()
		_ = h.SetChannel(1, 2)
	})

	_ = h.SetChannel(0, 1)
	runFrames(s, 2)
	for c.DMXState() != DMXInMAB {
		s.Step()
	}

	if calls != 2 {
		t.Errorf("idle calls = %d, want 2", calls)
	}
	if seen != DMXInBreak {
		t.Errorf("state during idle = %v, want InBreak", seen)
	}
	if c.PacketLen() != 2 {
		t.Errorf("packetLen = %d, want 2", c.PacketLen())
	}
}

func TestSequencerCommandsDuringDrain(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)
	line := &mockLine{drainHeld: true}
	s := NewSequencer(c, line, nil)

	_ = h.SetChannel(0, 1)
	var errs []error
	line.onDrain = func() {
		// Runs inside Step; the context must not be locked here.
		errs = append(errs, h.SetChannel(3, 7))
	}
	for range 10 {
		s.Step()
	}
	if c.DMXState() != DMXEndOfPacket {
		t.Fatalf("state = %v, want EndOfPacket", c.DMXState())
	}
	if len(errs) == 0 {
		t.Fatal("TXComplete never polled")
	}
	for _, err := range errs {
		if err != nil {
			t.Fatalf("SetChannel during drain = %v", err)
		}
	}
	if c.PacketLen() != 4 || c.Channel(3) != 7 {
		t.Errorf("packetLen = %d, channel 3 = %d", c.PacketLen(), c.Channel(3))
	}

	line.onDrain = nil
	line.drainHeld = false
	runFrames(s, 2)
	if got := line.frames[len(line.frames)-1]; len(got) != 5 || got[4] != 7 {
		t.Errorf("next frame = % X, want 5 bytes ending in 07", got)
	}
}

func TestSequencerResetDuringDrain(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)
	line := &mockLine{drainHeld: true}
	s := NewSequencer(c, line, nil)

	_ = h.SetChannel(0, 1)
	for range 5 {
		s.Step()
	}
	line.onDrain = func() { c.Reset() }
	line.drainHeld = false
	s.Step()

	if c.DMXState() != DMXOff {
		t.Errorf("state = %v, want Off after reset", c.DMXState())
	}
	if s.Frames() != 0 {
		t.Errorf("frames = %d, want 0", s.Frames())
	}
}

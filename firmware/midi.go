package firmware

import (
	"gitlab.com/gomidi/midi/v2"

	"github.com/ardnew/udmx/pkg"
)

// MIDIEventSize is the length of one USB-MIDI event packet: a cable/CIN
// byte followed by three MIDI bytes.
const MIDIEventSize = 4

// MIDIReadSize is the length of the reply to an interrupt-IN poll.
const MIDIReadSize = 7

// Controllers 120..127 are channel mode messages and never map to a channel.
const maxController = 120

// HandleMIDI applies a buffer of USB-MIDI event packets to the channel
// store. Only MIDI channel 1 is decoded. A trailing partial event is
// ignored.
func (h *Handler) HandleMIDI(buf []byte) {
	for len(buf) >= MIDIEventSize {
		h.midiEvent(midi.Message(buf[1:MIDIEventSize]))
		buf = buf[MIDIEventSize:]
	}
	if len(buf) > 0 {
		pkg.LogDebug(pkg.ComponentMIDI, "partial event dropped", "len", len(buf))
	}
}

func (h *Handler) midiEvent(msg midi.Message) {
	var ch, num, val uint8

	switch {
	case msg.GetControlChange(&ch, &num, &val):
		if ch != 0 || num >= maxController {
			return
		}
		h.midiSet(int(num), val<<1)

	case msg.GetNoteOn(&ch, &num, &val):
		if ch != 0 {
			return
		}
		h.midiSet(int(num), val<<1)

	case msg.GetNoteOff(&ch, &num, &val):
		if ch != 0 {
			return
		}
		c := h.ctx
		c.mu.Lock()
		if int(num) < NumChannels {
			c.store[num] = 0
		}
		c.mu.Unlock()

	default:
		pkg.LogDebug(pkg.ComponentMIDI, "ignored", "msg", msg.String())
	}
}

func (h *Handler) midiSet(idx int, v byte) {
	if idx >= NumChannels {
		return
	}
	c := h.ctx
	c.mu.Lock()
	c.lka = 0
	c.setLocked(idx, v)
	c.mu.Unlock()
}

// HandleMIDIRead answers an interrupt-IN poll on the MIDI interface. The
// device has nothing to report, so the reply is all zeros.
func (h *Handler) HandleMIDIRead() []byte {
	return make([]byte, MIDIReadSize)
}

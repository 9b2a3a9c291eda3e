package udmx

import (
	"context"

	"gitlab.com/gomidi/midi/v2"

	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/host"
	"github.com/ardnew/udmx/pkg"
	"github.com/ardnew/udmx/pkg/usbid"
)

// MIDIEndpoint is the OUT endpoint of the MIDI variant's streaming
// interface.
const MIDIEndpoint = 0x01

// MIDISender writes USB-MIDI event packets to a uDMX-midi. The firmware
// maps note and controller numbers on MIDI channel 1 to DMX channels and
// doubles the 7-bit value.
type MIDISender struct {
	dev    *host.Device
	cable  uint8
	packet int
}

// NewMIDISender returns a sender for dev. It fails with
// pkg.ErrNotSupported when dev has no MIDI OUT endpoint.
func NewMIDISender(dev *host.Device) (*MIDISender, error) {
	ep := dev.GetEndpoint(MIDIEndpoint)
	if dev.ProductID() != usbid.ProductIDMIDI || ep == nil {
		return nil, pkg.Wrapf(pkg.ErrNotSupported, "%s has no MIDI endpoint", dev.Product())
	}
	packet := int(ep.MaxPacketSize) / firmware.MIDIEventSize * firmware.MIDIEventSize
	if packet == 0 {
		packet = firmware.MIDIEventSize
	}
	return &MIDISender{dev: dev, packet: packet}, nil
}

// EncodeEvent packs msg into a USB-MIDI event packet on cable. Only
// channel voice messages can be encoded.
func EncodeEvent(cable uint8, msg midi.Message) ([firmware.MIDIEventSize]byte, error) {
	var ev [firmware.MIDIEventSize]byte
	if len(msg) == 0 || msg[0] < 0x80 || msg[0] >= 0xF0 {
		return ev, pkg.Wrapf(pkg.ErrInvalidParameter, "not a channel message: % X", []byte(msg))
	}
	ev[0] = cable<<4 | msg[0]>>4
	copy(ev[1:], msg)
	return ev, nil
}

// Send writes msgs, packing as many events per transfer as the endpoint
// allows.
func (m *MIDISender) Send(ctx context.Context, msgs ...midi.Message) error {
	buf := make([]byte, 0, len(msgs)*firmware.MIDIEventSize)
	for _, msg := range msgs {
		ev, err := EncodeEvent(m.cable, msg)
		if err != nil {
			return err
		}
		buf = append(buf, ev[:]...)
	}

	for len(buf) > 0 {
		n := min(len(buf), m.packet)
		if _, err := m.dev.BulkTransfer(ctx, MIDIEndpoint, buf[:n]); err != nil {
			pkg.LogWarn(pkg.ComponentMIDI, "send failed", "error", err)
			return pkg.Wrap(err, "midi send")
		}
		buf = buf[n:]
	}
	return nil
}

// NoteOn sets DMX channel key to velocity*2.
func (m *MIDISender) NoteOn(ctx context.Context, key, velocity uint8) error {
	return m.Send(ctx, midi.NoteOn(0, key, velocity))
}

// NoteOff sets DMX channel key to zero.
func (m *MIDISender) NoteOff(ctx context.Context, key uint8) error {
	return m.Send(ctx, midi.NoteOff(0, key))
}

// ControlChange sets DMX channel controller to value*2.
func (m *MIDISender) ControlChange(ctx context.Context, controller, value uint8) error {
	return m.Send(ctx, midi.ControlChange(0, controller, value))
}

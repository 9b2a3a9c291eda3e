package firmware

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/ardnew/udmx/pkg"
)

func TestSetSingleChannel(t *testing.T) {
	tests := []struct {
		name      string
		channel   uint16
		value     uint16
		wantReply []byte
		wantLen   int
	}{
		{"first", 0, 255, nil, 1},
		{"last", 511, 1, nil, 512},
		{"middle", 99, 42, nil, 100},
		{"bad channel", 512, 0, []byte{byte(pkg.ReplyBadChannel)}, 0},
		{"far channel", 0xFFFF, 7, []byte{byte(pkg.ReplyBadChannel)}, 0},
		{"bad value", 0, 0x100, []byte{byte(pkg.ReplyBadValue)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext()
			h := NewHandler(c, nil)

			res := h.Setup(setupPacket(CmdSetSingleChannel, tt.value, tt.channel, 0))
			if !bytes.Equal(res.Reply, tt.wantReply) {
				t.Errorf("reply = %v, want %v", res.Reply, tt.wantReply)
			}
			if res.WantData {
				t.Error("WantData should be false")
			}
			if got := c.PacketLen(); got != tt.wantLen {
				t.Errorf("packetLen = %d, want %d", got, tt.wantLen)
			}
			if tt.wantReply == nil {
				if got := c.Channel(int(tt.channel)); got != byte(tt.value) {
					t.Errorf("channel %d = %d, want %d", tt.channel, got, tt.value)
				}
				if got := c.DMXState(); got != DMXNewPacket {
					t.Errorf("dmx state = %v, want NewPacket", got)
				}
			} else {
				if c.Channels() != [NumChannels]byte{} {
					t.Error("store modified by rejected request")
				}
				if got := c.DMXState(); got != DMXOff {
					t.Errorf("dmx state = %v, want Off", got)
				}
			}
			if got := c.Snapshot().KeepAlive; got != 0 {
				t.Errorf("keep-alive = %d, want 0", got)
			}
		})
	}
}

func TestSetSingleChannelIdempotent(t *testing.T) {
	once := NewContext()
	twice := NewContext()

	NewHandler(once, nil).Setup(setupPacket(CmdSetSingleChannel, 77, 300, 0))
	h := NewHandler(twice, nil)
	h.Setup(setupPacket(CmdSetSingleChannel, 77, 300, 0))
	h.Setup(setupPacket(CmdSetSingleChannel, 77, 300, 0))

	if once.Channels() != twice.Channels() {
		t.Error("store differs after repeated write")
	}
	if once.PacketLen() != twice.PacketLen() {
		t.Errorf("packetLen %d != %d", once.PacketLen(), twice.PacketLen())
	}
}

func TestPacketLenMonotonic(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)

	channels := []uint16{10, 3, 200, 0, 512, 150, 511, 5}
	prev, highest := 0, -1
	for _, ch := range channels {
		if err := h.SetChannel(ch, 1); err == nil && int(ch) > highest {
			highest = int(ch)
		}
		got := c.PacketLen()
		if got < prev {
			t.Fatalf("packetLen decreased from %d to %d", prev, got)
		}
		if got != highest+1 {
			t.Fatalf("packetLen = %d, want %d", got, highest+1)
		}
		prev = got
	}
}

func TestSetChannelRange(t *testing.T) {
	tests := []struct {
		name      string
		start     uint16
		length    uint16
		max       uint16
		wantReply []byte
		wantData  bool
	}{
		{"ok", 5, 3, 3, nil, true},
		{"whole universe", 0, 512, 512, nil, true},
		{"max larger", 0, 4, 64, nil, true},
		{"past end", 500, 20, 20, []byte{byte(pkg.ReplyBadChannel)}, false},
		{"start out of range", 512, 0, 0, []byte{byte(pkg.ReplyBadChannel)}, false},
		{"length over max", 10, 5, 3, []byte{byte(pkg.ReplyBadValue)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContext()
			c.AddressAssigned()
			h := NewHandler(c, nil)

			res := h.Setup(setupPacket(CmdSetChannelRange, tt.length, tt.start, tt.max))
			if !bytes.Equal(res.Reply, tt.wantReply) {
				t.Errorf("reply = %v, want %v", res.Reply, tt.wantReply)
			}
			if res.WantData != tt.wantData {
				t.Errorf("WantData = %v, want %v", res.WantData, tt.wantData)
			}

			snap := c.Snapshot()
			if tt.wantData {
				if snap.USBState != USBChannelRange {
					t.Errorf("usb state = %v, want ChannelRange", snap.USBState)
				}
				if snap.Cur != int(tt.start) || snap.End != int(tt.start)+int(tt.length) {
					t.Errorf("range = [%d,%d)", snap.Cur, snap.End)
				}
			} else {
				if snap.USBState != USBIdle {
					t.Errorf("usb state = %v, want Idle", snap.USBState)
				}
				if snap.Cur != 0 || snap.End != 0 {
					t.Errorf("range = [%d,%d), want reset", snap.Cur, snap.End)
				}
			}
			if snap.PacketLen != 0 || snap.DMXState != DMXOff {
				t.Error("setup stage must not touch packetLen or dmx state")
			}
		})
	}
}

func TestChannelRangeRoundTrip(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)
	line := &mockLine{}
	s := NewSequencer(c, line, nil)

	res := h.Setup(setupPacket(CmdSetChannelRange, 3, 5, 3))
	if !res.WantData {
		t.Fatal("expected data stage")
	}
	if got := h.Write([]byte{10, 20, 30}); got != WriteDone {
		t.Fatalf("Write = %v, want done", got)
	}
	if got := c.USBState(); got != USBIdle {
		t.Errorf("usb state = %v, want Idle", got)
	}
	if got := c.PacketLen(); got != 8 {
		t.Errorf("packetLen = %d, want 8", got)
	}

	runFrames(s, 1)
	if len(line.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(line.frames))
	}
	want := []byte{StartCode, 0, 0, 0, 0, 0, 10, 20, 30}
	if !bytes.Equal(line.frames[0], want) {
		t.Errorf("frame = %v, want %v", line.frames[0], want)
	}
}

func TestWriteChunks(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i + 1)
	}
	h.Setup(setupPacket(CmdSetChannelRange, uint16(len(data)), 100, uint16(len(data))))

	var results []WriteResult
	for off := 0; off < len(data); off += 8 {
		end := min(off+8, len(data))
		results = append(results, h.Write(data[off:end]))
		if got, want := c.PacketLen(), 100+end; got != want {
			t.Errorf("packetLen after chunk = %d, want %d", got, want)
		}
	}

	want := []WriteResult{WriteMore, WriteMore, WriteDone}
	if len(results) != len(want) {
		t.Fatalf("results = %v", results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("chunk %d = %v, want %v", i, results[i], want[i])
		}
	}
	for i, b := range data {
		if got := c.Channel(100 + i); got != b {
			t.Errorf("channel %d = %d, want %d", 100+i, got, b)
		}
	}
}

func TestWriteOverflowIgnored(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)

	h.Setup(setupPacket(CmdSetChannelRange, 2, 510, 8))
	if got := h.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}); got != WriteDone {
		t.Fatalf("Write = %v, want done", got)
	}
	if got := c.PacketLen(); got != NumChannels {
		t.Errorf("packetLen = %d, want %d", got, NumChannels)
	}
	if c.Channel(510) != 1 || c.Channel(511) != 2 {
		t.Error("range not written")
	}
}

func TestWriteWithoutRange(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)

	if got := h.Write([]byte{1, 2, 3}); got != WriteStall {
		t.Fatalf("Write = %v, want stall", got)
	}
	if c.Channels() != [NumChannels]byte{} || c.PacketLen() != 0 {
		t.Error("unexpected data stage modified the store")
	}
	if got := c.Snapshot().KeepAlive; got != KeepAliveReset {
		t.Errorf("keep-alive = %#x, want untouched", got)
	}

	// A failed range leaves nothing to continue.
	h.Setup(setupPacket(CmdSetChannelRange, 20, 500, 20))
	if got := h.Write([]byte{1}); got != WriteStall {
		t.Errorf("Write after failed range = %v, want stall", got)
	}
}

func TestUnknownRequest(t *testing.T) {
	c := NewContext()
	h := NewHandler(c, nil)

	res := h.Setup(setupPacket(0x42, 1, 2, 3))
	if len(res.Reply) != 0 || res.WantData {
		t.Errorf("result = %+v, want empty", res)
	}
	if c.DMXState() != DMXOff {
		t.Error("unknown request armed sequencer")
	}
}

func TestStartBootloader(t *testing.T) {
	wd := &mockWatchdog{enabled: true}
	leds := NewLEDPort()
	leds.Set(LEDGreen)
	bus := &mockBus{}
	boot := NewBootloader(wd, leds, bus)

	var steps []string
	boot.ClearResetFlag = func() { steps = append(steps, "reset-flag") }
	boot.DisableInterrupts = func() {
		steps = append(steps, "cli")
		if !wd.isEnabled() || bus.disconnects != 0 {
			t.Error("interrupts disabled after the watchdog or the bus")
		}
	}
	var jumped uint16
	boot.Jump = func(addr uint16) {
		steps = append(steps, "jump")
		jumped = addr
	}

	h := NewHandler(NewContext(), boot)
	h.Setup(setupPacket(CmdStartBootloader, 0, 0, 0))
	h.Setup(setupPacket(CmdStartBootloader, 0, 0, 0))

	select {
	case <-boot.Done():
	default:
		t.Fatal("bootloader not started")
	}
	if want := []string{"reset-flag", "cli", "jump"}; !slices.Equal(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
	if jumped != BootloaderAddress {
		t.Errorf("jump address = %#x, want %#x", jumped, BootloaderAddress)
	}
	if wd.isEnabled() {
		t.Error("watchdog still enabled")
	}
	if bus.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", bus.disconnects)
	}
	if leds.Get() != LEDNone {
		t.Errorf("leds = %v, want None", leds.Get())
	}
}

func TestSetChannel(t *testing.T) {
	h := NewHandler(NewContext(), nil)

	if err := h.SetChannel(1, 2); err != nil {
		t.Errorf("SetChannel(1, 2) = %v", err)
	}
	if err := h.SetChannel(512, 2); !errors.Is(err, pkg.ErrBadChannel) {
		t.Errorf("SetChannel(512, 2) = %v, want ErrBadChannel", err)
	}
	if err := h.SetChannel(0, 256); !errors.Is(err, pkg.ErrBadValue) {
		t.Errorf("SetChannel(0, 256) = %v, want ErrBadValue", err)
	}
}

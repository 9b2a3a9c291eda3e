package firmware

import "sync"

// Context is the device state shared by the command handler, the MIDI bridge
// and the transmit sequencer. One Context models one physical interface.
//
// USB requests arrive on the stack's goroutine while the main loop runs the
// sequencer, so every access goes through mu.
type Context struct {
	mu sync.Mutex

	store     [NumChannels]byte
	packetLen int

	dmxState DMXState
	usbState USBState

	// Pending range write [cur, end); valid only in USBChannelRange.
	cur, end int

	lka   uint16
	reply [ReplySize]byte
}

// Snapshot is a consistent copy of the scalar device state.
type Snapshot struct {
	DMXState  DMXState
	USBState  USBState
	PacketLen int
	Cur, End  int
	KeepAlive uint16
}

// NewContext returns a context in its power-on state.
func NewContext() *Context {
	c := &Context{}
	c.Reset()
	return c
}

// Reset restores the power-on state: an empty store, the sequencer off and
// USB not yet addressed.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store = [NumChannels]byte{}
	c.packetLen = 0
	c.dmxState = DMXOff
	c.usbState = USBNotInitialized
	c.cur, c.end = 0, 0
	c.lka = KeepAliveReset
	c.reply = [ReplySize]byte{}
}

// AddressAssigned marks USB as initialized once the host has given the
// device an address.
func (c *Context) AddressAssigned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.usbState == USBNotInitialized {
		c.usbState = USBIdle
	}
}

// Snapshot returns the current scalar state.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		DMXState:  c.dmxState,
		USBState:  c.usbState,
		PacketLen: c.packetLen,
		Cur:       c.cur,
		End:       c.end,
		KeepAlive: c.lka,
	}
}

// Channels returns a copy of the channel store.
func (c *Context) Channels() [NumChannels]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// Channel returns the stored value of channel i, or 0 if i is out of range.
func (c *Context) Channel(i int) byte {
	if i < 0 || i >= NumChannels {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store[i]
}

// PacketLen returns the number of leading channels transmitted per frame.
func (c *Context) PacketLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packetLen
}

// DMXState returns the sequencer state.
func (c *Context) DMXState() DMXState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dmxState
}

// USBState returns the command state.
func (c *Context) USBState() USBState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usbState
}

// setLocked stores v at idx, extends packetLen to cover it and wakes the
// sequencer. The caller holds mu and has range-checked idx.
func (c *Context) setLocked(idx int, v byte) {
	c.store[idx] = v
	if idx >= c.packetLen {
		c.packetLen = idx + 1
	}
	c.armLocked()
}

func (c *Context) armLocked() {
	if c.dmxState == DMXOff {
		c.dmxState = DMXNewPacket
	}
}

// keepAlive advances the heartbeat counter and reports whether a command
// was accepted recently.
func (c *Context) keepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lka < KeepAliveLimit {
		c.lka++
		return true
	}
	return false
}

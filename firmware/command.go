package firmware

import (
	"encoding/binary"

	"github.com/ardnew/udmx/pkg"
)

// SetupResult tells the USB stack how to finish a vendor request.
type SetupResult struct {
	// Reply is the IN data stage. It aliases the context's reply buffer and
	// is only valid until the next request.
	Reply []byte

	// WantData means an OUT data stage follows and must be fed to Write.
	WantData bool
}

// WriteResult is the outcome of one continuation chunk.
type WriteResult uint8

// Continuation results.
const (
	WriteMore  WriteResult = iota // more data expected
	WriteDone                     // range complete, back to idle
	WriteStall                    // no range write pending, reject the transfer
)

// String returns the result name.
func (r WriteResult) String() string {
	switch r {
	case WriteMore:
		return "more"
	case WriteDone:
		return "done"
	case WriteStall:
		return "stall"
	default:
		return "unknown"
	}
}

// Handler decodes vendor control requests into channel store updates.
type Handler struct {
	ctx  *Context
	boot *Bootloader
}

// NewHandler returns a command handler for c. boot may be nil, in which case
// StartBootloader is ignored.
func NewHandler(c *Context, boot *Bootloader) *Handler {
	return &Handler{ctx: c, boot: boot}
}

// Context returns the device context the handler mutates.
func (h *Handler) Context() *Context {
	return h.ctx
}

// Setup handles the 8-byte SETUP packet of a vendor request.
func (h *Handler) Setup(data [8]byte) SetupResult {
	c := h.ctx
	value := binary.LittleEndian.Uint16(data[2:4])
	index := binary.LittleEndian.Uint16(data[4:6])
	length := binary.LittleEndian.Uint16(data[6:8])

	switch data[1] {
	case CmdSetSingleChannel:
		c.mu.Lock()
		defer c.mu.Unlock()
		c.reply[0] = 0
		c.lka = 0

		if index > NumChannels-1 {
			return h.failLocked(pkg.ReplyBadChannel, "channel", index)
		}
		if value > 0xFF {
			return h.failLocked(pkg.ReplyBadValue, "value", value)
		}
		c.setLocked(int(index), byte(value))
		return SetupResult{}

	case CmdSetChannelRange:
		c.mu.Lock()
		defer c.mu.Unlock()
		c.reply[0] = 0
		c.lka = 0

		cur := int(index)
		end := cur + int(value)
		if int(value) > int(length) {
			c.resetRangeLocked()
			return h.failLocked(pkg.ReplyBadValue, "length", value)
		}
		if cur > NumChannels-1 || end > NumChannels {
			c.resetRangeLocked()
			return h.failLocked(pkg.ReplyBadChannel, "start", index)
		}
		c.cur, c.end = cur, end
		c.usbState = USBChannelRange
		return SetupResult{WantData: true}

	case CmdStartBootloader:
		c.mu.Lock()
		c.reply[0] = 0
		c.mu.Unlock()
		if h.boot != nil {
			h.boot.Start()
		}
		return SetupResult{}

	default:
		c.mu.Lock()
		c.reply[0] = 0
		c.mu.Unlock()
		return SetupResult{}
	}
}

func (h *Handler) failLocked(code pkg.ReplyCode, field string, v uint16) SetupResult {
	h.ctx.reply[0] = byte(code)
	pkg.LogDebug(pkg.ComponentCommand, "request rejected",
		"reason", code.String(),
		field, v)
	return SetupResult{Reply: h.ctx.reply[:1]}
}

// resetRangeLocked drops any pending range so stray data stages stall.
func (c *Context) resetRangeLocked() {
	c.cur, c.end = 0, 0
	if c.usbState == USBChannelRange {
		c.usbState = USBIdle
	}
}

// Write consumes one data-stage chunk of a range write.
func (h *Handler) Write(chunk []byte) WriteResult {
	c := h.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.usbState != USBChannelRange {
		return WriteStall
	}
	c.lka = 0

	for _, b := range chunk {
		if c.cur >= c.end {
			break
		}
		c.store[c.cur] = b
		c.cur++
	}
	if c.cur > c.packetLen {
		c.packetLen = c.cur
	}
	c.armLocked()

	if c.cur == c.end {
		c.usbState = USBIdle
		return WriteDone
	}
	return WriteMore
}

// SetChannel runs a SetSingleChannel request through Setup, as if it had
// arrived over USB, and returns the reply code as an error.
func (h *Handler) SetChannel(channel, value uint16) error {
	var setup [8]byte
	setup[0] = 0x40 // vendor, device, OUT
	setup[1] = CmdSetSingleChannel
	binary.LittleEndian.PutUint16(setup[2:4], value)
	binary.LittleEndian.PutUint16(setup[4:6], channel)

	res := h.Setup(setup)
	if len(res.Reply) == 0 {
		return nil
	}
	return pkg.ReplyCode(res.Reply[0]).Err()
}

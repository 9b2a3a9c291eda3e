package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/udmx/pkg"
)

// bmAttributes transfer types.
const (
	EndpointTypeControl   = 0x00
	EndpointTypeBulk      = 0x02
	EndpointTypeInterrupt = 0x03
)

// Endpoint is one endpoint of an interface, plus the halt flag that
// SET_FEATURE and CLEAR_FEATURE toggle.
type Endpoint struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8

	// Audio selects the 9-byte descriptor form with Refresh and
	// SynchAddress.
	Audio        bool
	Refresh      uint8
	SynchAddress uint8

	// Extra is written right after the endpoint descriptor.
	Extra []byte

	stalled bool
	mutex   sync.Mutex
}

func (e *Endpoint) TransferType() uint8 {
	return e.Attributes & 0x03
}

func (e *Endpoint) SetStall(stalled bool) {
	e.mutex.Lock()
	e.stalled = stalled
	e.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halt changed",
		"address", fmt.Sprintf("0x%02X", e.Address),
		"stalled", stalled)
}

func (e *Endpoint) IsStalled() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.stalled
}

func (e *Endpoint) descriptor() EndpointDescriptor {
	return EndpointDescriptor{
		EndpointAddress: e.Address,
		Attributes:      e.Attributes,
		MaxPacketSize:   e.MaxPacketSize,
		Interval:        e.Interval,
	}
}

func (e *Endpoint) descriptorLength() int {
	if e.Audio {
		return AudioEndpointDescriptorSize + len(e.Extra)
	}
	return EndpointDescriptorSize + len(e.Extra)
}

// MarshalTo writes the endpoint descriptor and Extra. It returns 0 if buf
// is too short.
func (e *Endpoint) MarshalTo(buf []byte) int {
	if len(buf) < e.descriptorLength() {
		return 0
	}
	desc := e.descriptor()
	var n int
	if e.Audio {
		n = desc.MarshalAudioTo(buf, e.Refresh, e.SynchAddress)
	} else {
		n = desc.MarshalTo(buf)
	}
	return n + copy(buf[n:], e.Extra)
}

func (e *Endpoint) String() string {
	kind := [...]string{"control", "isochronous", "bulk", "interrupt"}[e.TransferType()]
	dir := "OUT"
	if e.Address&0x80 != 0 {
		dir = "IN"
	}
	return fmt.Sprintf("%s %s 0x%02X", kind, dir, e.Address)
}

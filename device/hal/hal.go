package hal

import (
	"context"
	"encoding/binary"
)

// Speed is the bus speed a HAL reports.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
	SpeedHigh
)

func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "low"
	case SpeedFull:
		return "full"
	case SpeedHigh:
		return "high"
	}
	return "unknown"
}

// EndpointConfig is what the stack hands the HAL for each endpoint of the
// active configuration. On a uDMX that is nothing for the standard variant
// and the bulk MIDI OUT endpoint for the MIDI variant.
type EndpointConfig struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// Number strips the direction bit from Address.
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// SetupPacket is the raw SETUP packet as it crosses the HAL boundary.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

const SetupPacketSize = 8

// ParseSetupPacket decodes data into out. It reports false if data holds
// fewer than 8 bytes.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	*out = SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       binary.LittleEndian.Uint16(data[2:]),
		Index:       binary.LittleEndian.Uint16(data[4:]),
		Length:      binary.LittleEndian.Uint16(data[6:]),
	}
	return true
}

// MarshalTo is the inverse of ParseSetupPacket. It returns 0 if buf is too
// short.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0], buf[1] = s.RequestType, s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// DeviceHAL is the bus side of a uDMX device: the V-USB bit-banged port on
// real hardware, named pipes in the emulator, a mock in tests.
//
// A HAL must survive Stop followed by Init and Start. The firmware uses
// that sequence to drop off the bus and come back, and the bootloader
// command uses Stop alone.
type DeviceHAL interface {
	Init(ctx context.Context) error

	// Start attaches to the bus. The host may enumerate the device as soon
	// as it returns.
	Start() error

	// Stop detaches from the bus.
	Stop() error

	SetAddress(address uint8) error

	// ConfigureEndpoints replaces the set of data endpoints. An empty slice
	// removes them all.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ReadSetup blocks for the next SETUP packet on EP0. It returns
	// pkg.ErrReset when the host resets the bus.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// WriteEP0 sends the IN data stage. An empty data stage is still sent.
	WriteEP0(ctx context.Context, data []byte) error

	// ReadEP0 reads the OUT data stage of the current control transfer.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	StallEP0() error
	AckEP0() error

	// Read and Write move packets on data endpoints.
	Read(ctx context.Context, address uint8, buf []byte) (int, error)
	Write(ctx context.Context, address uint8, data []byte) (int, error)

	Stall(address uint8) error
	ClearStall(address uint8) error

	IsConnected() bool
	GetSpeed() Speed
	WaitConnect(ctx context.Context) error
	WaitDisconnect(ctx context.Context) error
}

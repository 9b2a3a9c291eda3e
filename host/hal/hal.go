package hal

import (
	"context"
	"encoding/binary"
)

// Speed of the device on a port. A uDMX is always low speed.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	SpeedLow
	SpeedFull
)

var speedNames = [...]string{"Unknown", "Low Speed", "Full Speed"}

func (s Speed) String() string {
	if int(s) < len(speedNames) {
		return speedNames[s]
	}
	return speedNames[SpeedUnknown]
}

// SetupPacket is a SETUP packet as the host sends it. uDMX commands are
// vendor requests to the device: Request is the command, Value the value
// or count, Index the channel.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

const SetupPacketSize = 8

// ParseSetupPacket reports false if data holds fewer than 8 bytes.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	le := binary.LittleEndian
	*out = SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       le.Uint16(data[2:]),
		Index:       le.Uint16(data[4:]),
		Length:      le.Uint16(data[6:]),
	}
	return true
}

// MarshalTo returns 8, or 0 if buf is too short.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	le := binary.LittleEndian
	buf[0], buf[1] = s.RequestType, s.Request
	le.PutUint16(buf[2:], s.Value)
	le.PutUint16(buf[4:], s.Index)
	le.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// IsIn reports a device-to-host data stage.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}

// DeviceAddress is 1 to 127, or 0 for the device that was reset last.
type DeviceAddress uint8

// HostHAL is the controller side of the bus.
//
// Devices sit on numbered ports. Address 0 reaches the port reset last, and
// the HAL binds that port to the address carried by the SET_ADDRESS that
// follows.
type HostHAL interface {
	// Init prepares the controller. ctx bounds its background work.
	Init(ctx context.Context) error
	Start() error

	// Stop drops every connection.
	Stop() error

	PortSpeed(port int) Speed

	// ResetPort makes the device on port answer at address 0.
	ResetPort(port int) error

	// ControlTransfer sends setup and moves the data stage: data is the
	// OUT payload or the IN buffer. A stalled request fails with
	// pkg.ErrStall and a vanished device with pkg.ErrNoDevice.
	ControlTransfer(ctx context.Context, addr DeviceAddress, setup *SetupPacket, data []byte) (int, error)

	// BulkTransfer moves data on a bulk or interrupt endpoint.
	BulkTransfer(ctx context.Context, addr DeviceAddress, endpoint uint8, data []byte) (int, error)

	// WaitForConnection and WaitForDisconnection return the port that
	// changed.
	WaitForConnection(ctx context.Context) (int, error)
	WaitForDisconnection(ctx context.Context) (int, error)
}

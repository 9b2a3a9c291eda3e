package device

import (
	"encoding/binary"
	"fmt"
)

// Standard requests.
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
)

// Feature selectors.
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
)

// bmRequestType fields.
const (
	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
	RequestRecipientEndpoint  = 0x02

	requestDirectionMask = 0x80
	requestTypeMask      = 0x60
	requestRecipientMask = 0x1F
)

// SetupPacketSize is the size of a SETUP packet in bytes.
const SetupPacketSize = 8

// SetupPacket is a decoded SETUP packet as the stack's handlers see it.
// A uDMX vendor request carries its command in Request, the value in
// Value and the channel in Index.
type SetupPacket struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// MarshalTo writes the 8 wire bytes to buf and returns 8, or 0 if buf is
// too short.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&requestDirectionMask == RequestDirectionDeviceToHost
}

func (s *SetupPacket) IsHostToDevice() bool {
	return !s.IsDeviceToHost()
}

func (s *SetupPacket) IsStandard() bool {
	return s.RequestType&requestTypeMask == RequestTypeStandard
}

func (s *SetupPacket) IsVendor() bool {
	return s.RequestType&requestTypeMask == RequestTypeVendor
}

// Recipient returns the recipient bits of bmRequestType.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & requestRecipientMask
}

func (s *SetupPacket) IsDeviceRecipient() bool {
	return s.Recipient() == RequestRecipientDevice
}

// DescriptorType and DescriptorIndex split wValue of GET_DESCRIPTOR.
func (s *SetupPacket) DescriptorType() uint8 {
	return uint8(s.Value >> 8)
}

func (s *SetupPacket) DescriptorIndex() uint8 {
	return uint8(s.Value)
}

// InterfaceNumber and EndpointAddress read wIndex of interface and
// endpoint requests.
func (s *SetupPacket) InterfaceNumber() uint8 {
	return uint8(s.Index)
}

func (s *SetupPacket) EndpointAddress() uint8 {
	return uint8(s.Index)
}

var standardNames = map[uint8]string{
	RequestGetStatus:        "GET_STATUS",
	RequestClearFeature:     "CLEAR_FEATURE",
	RequestSetFeature:       "SET_FEATURE",
	RequestSetAddress:       "SET_ADDRESS",
	RequestGetDescriptor:    "GET_DESCRIPTOR",
	RequestGetConfiguration: "GET_CONFIGURATION",
	RequestSetConfiguration: "SET_CONFIGURATION",
	RequestGetInterface:     "GET_INTERFACE",
	RequestSetInterface:     "SET_INTERFACE",
}

// String formats the packet for logs, e.g.
// "vendor 0x01 IN value=0x00C8 index=0x0003 length=8".
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	var name string
	switch s.RequestType & requestTypeMask {
	case RequestTypeStandard:
		if n, ok := standardNames[s.Request]; ok {
			name = n
		} else {
			name = fmt.Sprintf("standard 0x%02X", s.Request)
		}
	case RequestTypeClass:
		name = fmt.Sprintf("class 0x%02X", s.Request)
	case RequestTypeVendor:
		name = fmt.Sprintf("vendor 0x%02X", s.Request)
	default:
		name = fmt.Sprintf("reserved 0x%02X", s.Request)
	}
	return fmt.Sprintf("%s %s value=0x%04X index=0x%04X length=%d",
		name, dir, s.Value, s.Index, s.Length)
}

package device

import (
	"encoding/binary"

	"github.com/ardnew/udmx/pkg"
)

// Descriptor types, including the audio class-specific ones the MIDI
// variant's configuration carries.
const (
	DescriptorTypeDevice          = 0x01
	DescriptorTypeConfiguration   = 0x02
	DescriptorTypeString          = 0x03
	DescriptorTypeInterface       = 0x04
	DescriptorTypeEndpoint        = 0x05
	DescriptorTypeDeviceQualifier = 0x06
	DescriptorTypeCSInterface     = 0x24
	DescriptorTypeCSEndpoint      = 0x25
)

const (
	ClassAudio  = 0x01
	ClassVendor = 0xFF

	AudioSubClassControl       = 0x01
	AudioSubClassMIDIStreaming = 0x03
)

// Descriptor sizes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7

	// AudioEndpointDescriptorSize adds bRefresh and bSynchAddress.
	AudioEndpointDescriptorSize = 9
)

// bmAttributes of a configuration.
const (
	ConfigAttrBusPowered   = 0x80
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// LangIDUSEnglish is the only language a uDMX reports.
const LangIDUSEnglish = 0x0409

// header writes bLength and bDescriptorType, or reports false if buf
// cannot hold size bytes.
func header(buf []byte, size int, typ uint8) bool {
	if len(buf) < size {
		return false
	}
	buf[0], buf[1] = uint8(size), typ
	return true
}

// checkHeader validates a descriptor read back from the wire.
func checkHeader(data []byte, size int, typ uint8) error {
	if len(data) < size {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != typ {
		return pkg.ErrDescriptorTypeMismatch
	}
	return nil
}

type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo writes the 18-byte descriptor and returns its length, or 0 if
// buf is too short.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if !header(buf, DeviceDescriptorSize, DescriptorTypeDevice) {
		return 0
	}
	le := binary.LittleEndian
	le.PutUint16(buf[2:], d.USBVersion)
	buf[4], buf[5], buf[6], buf[7] = d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0
	le.PutUint16(buf[8:], d.VendorID)
	le.PutUint16(buf[10:], d.ProductID)
	le.PutUint16(buf[12:], d.DeviceVersion)
	buf[14], buf[15], buf[16] = d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor is the inverse of MarshalTo.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkHeader(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	le := binary.LittleEndian
	*out = DeviceDescriptor{
		Length:            data[0],
		DescriptorType:    data[1],
		USBVersion:        le.Uint16(data[2:]),
		DeviceClass:       data[4],
		DeviceSubClass:    data[5],
		DeviceProtocol:    data[6],
		MaxPacketSize0:    data[7],
		VendorID:          le.Uint16(data[8:]),
		ProductID:         le.Uint16(data[10:]),
		DeviceVersion:     le.Uint16(data[12:]),
		ManufacturerIndex: data[14],
		ProductIndex:      data[15],
		SerialNumberIndex: data[16],
		NumConfigurations: data[17],
	}
	return nil
}

type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if !header(buf, ConfigurationDescriptorSize, DescriptorTypeConfiguration) {
		return 0
	}
	binary.LittleEndian.PutUint16(buf[2:], c.TotalLength)
	buf[4], buf[5], buf[6] = c.NumInterfaces, c.ConfigurationValue, c.ConfigurationIndex
	buf[7], buf[8] = c.Attributes, c.MaxPower
	return ConfigurationDescriptorSize
}

type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if !header(buf, InterfaceDescriptorSize, DescriptorTypeInterface) {
		return 0
	}
	copy(buf[2:], []byte{
		i.InterfaceNumber, i.AlternateSetting, i.NumEndpoints,
		i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol,
		i.InterfaceIndex,
	})
	return InterfaceDescriptorSize
}

type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if !header(buf, EndpointDescriptorSize, DescriptorTypeEndpoint) {
		return 0
	}
	buf[2], buf[3] = e.EndpointAddress, e.Attributes
	binary.LittleEndian.PutUint16(buf[4:], e.MaxPacketSize)
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

// MarshalAudioTo writes the 9-byte audio-class form used by MIDI streaming
// endpoints.
func (e *EndpointDescriptor) MarshalAudioTo(buf []byte, refresh, synchAddress uint8) int {
	if len(buf) < AudioEndpointDescriptorSize {
		return 0
	}
	e.MarshalTo(buf)
	buf[0] = AudioEndpointDescriptorSize
	buf[7], buf[8] = refresh, synchAddress
	return AudioEndpointDescriptorSize
}

func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if err := checkHeader(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return err
	}
	*out = EndpointDescriptor{
		Length:          data[0],
		DescriptorType:  data[1],
		EndpointAddress: data[2],
		Attributes:      data[3],
		MaxPacketSize:   binary.LittleEndian.Uint16(data[4:]),
		Interval:        data[6],
	}
	return nil
}

// StringDescriptorTo encodes s as UTF-16LE into buf and returns the
// descriptor length, or 0 if buf is too short. Runes outside the BMP
// become '?', and the string is cut to fit 255 bytes.
func StringDescriptorTo(buf []byte, s string) int {
	runes := []rune(s)
	if limit := (255 - 2) / 2; len(runes) > limit {
		runes = runes[:limit]
	}
	if !header(buf, 2+2*len(runes), DescriptorTypeString) {
		return 0
	}
	for i, r := range runes {
		if r > 0xFFFF {
			r = '?'
		}
		binary.LittleEndian.PutUint16(buf[2+2*i:], uint16(r))
	}
	return 2 + 2*len(runes)
}

// LanguageDescriptorTo writes string descriptor 0.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	if !header(buf, 2+2*len(langIDs), DescriptorTypeString) {
		return 0
	}
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+2*i:], id)
	}
	return 2 + 2*len(langIDs)
}

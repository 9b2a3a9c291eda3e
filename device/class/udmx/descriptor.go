package udmx

import (
	"context"

	"github.com/ardnew/udmx/device"
	"github.com/ardnew/udmx/pkg/usbid"
)

// DeviceVersion is bcdDevice of both variants.
const DeviceVersion = 0x0100

// MaxPower is bMaxPower in 2 mA units.
const MaxPower = 50

// MIDI endpoints.
const (
	EndpointMIDIOut = 0x01
	EndpointMIDIIn  = 0x81

	midiPacketSize = 8
	midiInterval   = 10
)

// Audio class-specific descriptor subtypes.
const (
	acHeader       = 0x01
	msHeader       = 0x01
	msMIDIInJack   = 0x02
	msMIDIOutJack  = 0x03
	msGeneral      = 0x01
	jackEmbedded   = 0x01
	jackExternal   = 0x02
	csInterface    = device.DescriptorTypeCSInterface
	csEndpoint     = device.DescriptorTypeCSEndpoint
	msTotalLength  = 65
	adcVersionLow  = 0x00
	adcVersionHigh = 0x01
)

// Options selects the identity strings of a device.
type Options struct {
	// Serial is the serial number string. Empty selects the variant's
	// default.
	Serial string
}

func (o Options) serial(def string) string {
	if o.Serial == "" {
		return def
	}
	return o.Serial
}

// NewStandardDevice builds the trunk uDMX: a low-speed device with a single
// vendor interface and no endpoints besides EP0.
func NewStandardDevice(ctx context.Context, opts Options) (*device.Device, error) {
	return device.NewDeviceBuilder().
		WithVendorProduct(usbid.VendorID, usbid.ProductID).
		WithDeviceVersion(DeviceVersion).
		WithStrings(usbid.Manufacturer, usbid.Product, opts.serial(usbid.DefaultSerial)).
		AddConfiguration(1).
		WithMaxPower(MaxPower).
		AddInterface(device.ClassVendor, 0, 0).
		Build(ctx)
}

// NewMIDIDevice builds the MIDI variant. Its configuration carries the USB
// Audio/MIDI-Streaming descriptors: one embedded and one external jack in
// each direction and an interrupt endpoint pair.
//
// The serial string is served at index 3, but the device descriptor leaves
// iSerialNumber at 0, as the MIDI firmware does.
func NewMIDIDevice(ctx context.Context, opts Options) (*device.Device, error) {
	dev, err := device.NewDeviceBuilder().
		WithVendorProduct(usbid.VendorID, usbid.ProductIDMIDI).
		WithDeviceVersion(DeviceVersion).
		WithStrings(usbid.Manufacturer, usbid.ProductMIDI, opts.serial(usbid.DefaultSerialM)).
		AddConfiguration(1).
		WithMaxPower(MaxPower).
		// Audio Control
		AddInterface(device.ClassAudio, device.AudioSubClassControl, 0).
		WithInterfaceExtra(9, csInterface, acHeader, adcVersionLow, adcVersionHigh, 9, 0, 1, 1).
		// MIDI Streaming
		AddInterface(device.ClassAudio, device.AudioSubClassMIDIStreaming, 0).
		WithInterfaceExtra(
			7, csInterface, msHeader, 0x00, 0x01, msTotalLength, 0,
			6, csInterface, msMIDIInJack, jackEmbedded, 1, 0,
			6, csInterface, msMIDIInJack, jackExternal, 2, 0,
			9, csInterface, msMIDIOutJack, jackEmbedded, 3, 1, 2, 1, 0,
			9, csInterface, msMIDIOutJack, jackExternal, 4, 1, 1, 1, 0,
		).
		AddAudioEndpoint(EndpointMIDIOut, device.EndpointTypeInterrupt, midiPacketSize, midiInterval).
		WithEndpointExtra(5, csEndpoint, msGeneral, 1, 1).
		AddAudioEndpoint(EndpointMIDIIn, device.EndpointTypeInterrupt, midiPacketSize, midiInterval).
		WithEndpointExtra(5, csEndpoint, msGeneral, 1, 3).
		Build(ctx)
	if err != nil {
		return nil, err
	}
	dev.Descriptor.SerialNumberIndex = 0
	return dev, nil
}

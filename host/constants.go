package host

import "fmt"

// DeviceState tracks a device through enumeration as the host sees it.
type DeviceState uint8

const (
	DeviceStateDetached DeviceState = iota
	DeviceStateAttached
	DeviceStateDefault
	DeviceStateAddress
	DeviceStateConfigured
)

var deviceStateNames = [...]string{
	DeviceStateDetached:   "Detached",
	DeviceStateAttached:   "Attached",
	DeviceStateDefault:    "Default",
	DeviceStateAddress:    "Address",
	DeviceStateConfigured: "Configured",
}

func (s DeviceState) String() string {
	if int(s) < len(deviceStateNames) {
		return deviceStateNames[s]
	}
	return fmt.Sprintf("Unknown State (%d)", s)
}

// Table sizes.
const (
	MaxDevices                    = 127
	MaxInterfacesPerConfiguration = 8
	MaxEndpointsPerInterface      = 16
	MaxStringsPerDevice           = 16

	// MaxDescriptorSize bounds a configuration read. The MIDI variant's
	// configuration is the largest at 101 bytes.
	MaxDescriptorSize = 512
)

const (
	EndpointTypeBulk      = 0x02
	EndpointTypeInterrupt = 0x03
)

const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeString        = 0x03
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
)

// Standard requests issued during enumeration.
const (
	RequestGetStatus        = 0x00
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetConfiguration = 0x09
)

// bmRequestType bits. A uDMX command is RequestTypeVendor|RequestTypeDevice
// with RequestTypeIn or RequestTypeOut.
const (
	RequestTypeOut      = 0x00
	RequestTypeIn       = 0x80
	RequestTypeStandard = 0x00
	RequestTypeVendor   = 0x40
	RequestTypeDevice   = 0x00
)

// LangIDUSEnglish is the language used to read string descriptors.
const LangIDUSEnglish = 0x0409

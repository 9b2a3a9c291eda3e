package device

import "fmt"

// Table sizes. A uDMX has one configuration with at most two interfaces
// and one data endpoint, and three strings besides the language table.
const (
	MaxEndpointsPerInterface      = 4
	MaxInterfacesPerConfiguration = 4
	MaxConfigurations             = 1
	MaxStrings                    = 4
)

// bcdUSB values. V-USB devices report 1.1.
const (
	USBVersion11 = 0x0110
	USBVersion20 = 0x0200
)

// State is a chapter 9 device state. Power and suspend states are not
// tracked: a uDMX is bus powered and V-USB leaves suspend to the hardware.
type State uint8

const (
	StateAttached State = iota
	StateDefault
	StateAddress
	StateConfigured
)

func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	}
	return fmt.Sprintf("State(%d)", s)
}

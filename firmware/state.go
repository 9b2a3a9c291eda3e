package firmware

// DMXState is the transmit sequencer's position within a frame.
type DMXState uint8

// Sequencer states.
const (
	DMXOff DMXState = iota
	DMXNewPacket
	DMXInPacket
	DMXEndOfPacket
	DMXInBreak
	DMXInMAB

	numDMXStates
)

// String returns the state name.
func (s DMXState) String() string {
	switch s {
	case DMXOff:
		return "Off"
	case DMXNewPacket:
		return "NewPacket"
	case DMXInPacket:
		return "InPacket"
	case DMXEndOfPacket:
		return "EndOfPacket"
	case DMXInBreak:
		return "InBreak"
	case DMXInMAB:
		return "InMAB"
	default:
		return "Unknown"
	}
}

// USBState tracks whether a multi-packet range write is outstanding.
type USBState uint8

// USB command states.
const (
	USBNotInitialized USBState = iota
	USBIdle
	USBChannelRange
)

// String returns the state name.
func (s USBState) String() string {
	switch s {
	case USBNotInitialized:
		return "NotInitialized"
	case USBIdle:
		return "Idle"
	case USBChannelRange:
		return "ChannelRange"
	default:
		return "Unknown"
	}
}

// LEDState is the value written to the LED port. The LEDs are active low.
type LEDState uint8

// LED port values.
const (
	LEDBoth   LEDState = 0x00
	LEDGreen  LEDState = 0x01
	LEDYellow LEDState = 0x10
	LEDNone   LEDState = 0x11
)

// String returns the lit LEDs.
func (l LEDState) String() string {
	switch l {
	case LEDBoth:
		return "both"
	case LEDGreen:
		return "green"
	case LEDYellow:
		return "yellow"
	case LEDNone:
		return "none"
	default:
		return "invalid"
	}
}

package firmware

import "time"

// NumChannels is the size of the channel store (one DMX-512 universe).
const NumChannels = 512

// StartCode is the DMX null start code sent before the channel bytes.
const StartCode = 0x00

// Vendor request codes (bRequest).
const (
	CmdSetSingleChannel = 1
	CmdSetChannelRange  = 2
	CmdStartBootloader  = 0xF8
)

// ReplySize is the size of the reply buffer returned in IN data stages.
const ReplySize = 8

// BootloaderAddress is the flash address of the firmware updater.
const BootloaderAddress = 0x0C00

// Line timing. The reference clock runs timer 0 at 1.5 MHz, so the break is
// 132 ticks and the mark-after-break 12 ticks.
const (
	TimerClock = 1_500_000
	BreakTicks = 132
	MABTicks   = 12

	BreakTime = BreakTicks * time.Second / TimerClock // 88µs
	MABTime   = MABTicks * time.Second / TimerClock   // 8µs
)

// UART framing: 250 kbit/s, one start bit, 8 data bits, 2 stop bits.
const (
	BaudRate  = 250_000
	FrameBits = 11
	ByteTime  = FrameBits * time.Second / BaudRate // 44µs
)

// Power and supervision.
const (
	// IdleWindow is the longest gap between bus edges before the CPU may sleep.
	IdleWindow = 3 * time.Millisecond

	// WatchdogTimeout is the period after which an unfed watchdog resets the device.
	WatchdogTimeout = time.Second

	// ReconnectDelay is how long the device holds the bus disconnected at boot
	// so the host notices a re-enumeration.
	ReconnectDelay = 250 * time.Millisecond
)

// Keep-alive counter bounds.
const (
	KeepAliveLimit = 0x0FFF
	KeepAliveReset = 0xFFFF
)

package pkg

import (
	"fmt"

	"github.com/pkg/errors"
)

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK response (device busy).
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled operation.
	ErrCancelled = errors.New("cancelled")

	// ErrProtocol indicates a malformed message on the wire.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	ErrBufferTooSmall = errors.New("buffer too small")
	ErrNotSupported   = errors.New("not supported")
	ErrBusy           = errors.New("resource busy")
	ErrNoMemory       = errors.New("insufficient memory")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	ErrAlreadyRunning   = errors.New("already running")
	ErrNotRunning       = errors.New("not running")
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")
)

// uDMX errors.
var (
	// ErrBadChannel is reported by the device for a channel outside 0..511
	// or a range ending past 512.
	ErrBadChannel = errors.New("bad channel")

	// ErrBadValue is reported by the device for a value with a non-zero high
	// byte or a range longer than the request's data stage.
	ErrBadValue = errors.New("bad value")

	// ErrBootloader is returned by the firmware main loop after control was
	// handed to the bootloader.
	ErrBootloader = errors.New("started bootloader")

	// ErrNotFound indicates no matching uDMX interface is attached.
	ErrNotFound = errors.New("device not found")
)

// ReplyCode is the one-byte status the device writes to its reply buffer.
type ReplyCode uint8

// Reply codes.
const (
	ReplyOK         ReplyCode = 0
	ReplyBadChannel ReplyCode = 1
	ReplyBadValue   ReplyCode = 2
)

// String returns the name of the reply code.
func (c ReplyCode) String() string {
	switch c {
	case ReplyOK:
		return "ok"
	case ReplyBadChannel:
		return "bad channel"
	case ReplyBadValue:
		return "bad value"
	default:
		return fmt.Sprintf("reply(%d)", uint8(c))
	}
}

// Err returns the sentinel for the reply code, or nil for ReplyOK.
func (c ReplyCode) Err() error {
	switch c {
	case ReplyOK:
		return nil
	case ReplyBadChannel:
		return ErrBadChannel
	case ReplyBadValue:
		return ErrBadValue
	default:
		return errors.Wrapf(ErrProtocol, "unknown reply code %d", uint8(c))
	}
}

// Wrap annotates err with msg and a stack trace. It returns nil if err is nil.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message and a stack trace.
func Wrapf(err error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

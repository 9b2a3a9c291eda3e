package udmx

import (
	"context"
	"time"

	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/host"
	"github.com/ardnew/udmx/host/hal"
	"github.com/ardnew/udmx/pkg"
)

// DefaultTimeout bounds each vendor request.
const DefaultTimeout = 5 * time.Second

// Vendor request types.
const (
	requestOut = host.RequestTypeVendor | host.RequestTypeDevice | host.RequestTypeOut
	requestIn  = host.RequestTypeVendor | host.RequestTypeDevice | host.RequestTypeIn
)

// Reply is the outcome of a request that has an IN data stage.
type Reply struct {
	// Bytes is the length of the data stage the device returned.
	Bytes int

	// Code is the first reply byte. It is only meaningful when Bytes > 0.
	Code pkg.ReplyCode
}

// Err returns the error carried by the reply code.
func (r Reply) Err() error {
	if r.Bytes == 0 {
		return nil
	}
	return r.Code.Err()
}

// Client issues uDMX vendor requests to one device.
type Client struct {
	dev *host.Device

	// Timeout bounds each request that does not already carry a deadline.
	Timeout time.Duration
}

// NewClient returns a client for dev.
func NewClient(dev *host.Device) *Client {
	return &Client{dev: dev, Timeout: DefaultTimeout}
}

// Device returns the underlying device.
func (c *Client) Device() *host.Device {
	return c.dev
}

// Serial returns the device's serial number string.
func (c *Client) Serial() string {
	return c.dev.SerialNumber()
}

// Close releases the device.
func (c *Client) Close() error {
	return c.dev.Close()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// SetSingleChannel sets channel to value. The request is sent with an IN
// data stage so the device can return its reply code; a rejected request
// returns pkg.ErrBadChannel or pkg.ErrBadValue along with the reply.
func (c *Client) SetSingleChannel(ctx context.Context, channel, value uint16) (Reply, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	setup := hal.SetupPacket{
		RequestType: requestIn,
		Request:     firmware.CmdSetSingleChannel,
		Value:       value,
		Index:       channel,
		Length:      firmware.ReplySize,
	}
	var buf [firmware.ReplySize]byte
	n, err := c.dev.ControlTransfer(ctx, &setup, buf[:])
	if err != nil {
		pkg.LogWarn(pkg.ComponentClient, "set single channel failed",
			"channel", channel,
			"value", value,
			"error", err)
		return Reply{}, pkg.Wrap(err, "set single channel")
	}

	r := Reply{Bytes: n}
	if n > 0 {
		r.Code = pkg.ReplyCode(buf[0])
	}
	if err := r.Err(); err != nil {
		pkg.LogDebug(pkg.ComponentClient, "set single channel rejected",
			"channel", channel,
			"value", value,
			"reason", r.Code.String())
		return r, err
	}
	return r, nil
}

// SetChannelRange writes values to consecutive channels starting at start.
// It returns the number of bytes transferred. The device stalls a range it
// rejects, which comes back as pkg.ErrStall.
func (c *Client) SetChannelRange(ctx context.Context, start uint16, values []byte) (int, error) {
	if len(values) == 0 {
		return 0, pkg.Wrap(pkg.ErrInvalidParameter, "empty channel range")
	}
	if len(values) > firmware.NumChannels {
		return 0, pkg.Wrapf(pkg.ErrInvalidParameter, "%d values exceed one universe", len(values))
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	setup := hal.SetupPacket{
		RequestType: requestOut,
		Request:     firmware.CmdSetChannelRange,
		Value:       uint16(len(values)),
		Index:       start,
		Length:      uint16(len(values)),
	}
	n, err := c.dev.ControlTransfer(ctx, &setup, values)
	if err != nil {
		pkg.LogWarn(pkg.ComponentClient, "set channel range failed",
			"start", start,
			"length", len(values),
			"error", err)
		return n, pkg.Wrap(err, "set channel range")
	}
	return n, nil
}

// StartBootloader asks the device to enter its firmware updater. The
// device drops off the bus while answering, so losing it is success.
func (c *Client) StartBootloader(ctx context.Context) (Reply, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	setup := hal.SetupPacket{
		RequestType: requestIn,
		Request:     firmware.CmdStartBootloader,
		Length:      firmware.ReplySize,
	}
	var buf [firmware.ReplySize]byte
	n, err := c.dev.ControlTransfer(ctx, &setup, buf[:])
	switch {
	case err == nil:
	case pkg.Is(err, pkg.ErrNoDevice):
		pkg.LogInfo(pkg.ComponentClient, "device left the bus for the bootloader",
			"serial", c.Serial())
		return Reply{}, nil
	default:
		pkg.LogWarn(pkg.ComponentClient, "start bootloader failed", "error", err)
		return Reply{}, pkg.Wrap(err, "start bootloader")
	}

	r := Reply{Bytes: n}
	if n > 0 {
		r.Code = pkg.ReplyCode(buf[0])
	}
	return r, nil
}

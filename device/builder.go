package device

import (
	"context"

	"github.com/ardnew/udmx/pkg"
)

// DeviceBuilder assembles a Device and its configuration tree. Calls made
// out of order are recorded and the first one is returned from Build.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	ep     *Endpoint
	err    error

	stringBufs [MaxStrings][256]byte
}

func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{}
}

// check records err unless an earlier call already failed, and reports
// whether the builder may go on.
func (b *DeviceBuilder) check(err error) bool {
	if err != nil && b.err == nil {
		b.err = err
	}
	return err == nil
}

// have reports whether the object a call modifies exists.
func (b *DeviceBuilder) have(ok bool) bool {
	if !ok {
		return b.check(pkg.ErrInvalidState)
	}
	return true
}

// WithVendorProduct starts the device: USB 1.1 with an 8-byte EP0, as
// V-USB reports it.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	if b.device == nil {
		b.device = NewDevice(&DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     USBVersion11,
			MaxPacketSize0: 8,
		})
	}
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	return b
}

// WithDeviceVersion sets bcdDevice.
func (b *DeviceBuilder) WithDeviceVersion(bcd uint16) *DeviceBuilder {
	if b.have(b.device != nil) {
		b.device.Descriptor.DeviceVersion = bcd
	}
	return b
}

// WithMaxPacketSize0 accepts 8, 16, 32 or 64.
func (b *DeviceBuilder) WithMaxPacketSize0(size uint8) *DeviceBuilder {
	if !b.have(b.device != nil) {
		return b
	}
	switch size {
	case 8, 16, 32, 64:
		b.device.Descriptor.MaxPacketSize0 = size
		b.device.ep0.MaxPacketSize = uint16(size)
	default:
		b.check(pkg.Wrapf(pkg.ErrInvalidParameter, "ep0 packet size %d", size))
	}
	return b
}

// WithStrings sets the three identification strings. An empty string
// leaves its index at 0, which is how the MIDI variant omits its serial.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	if !b.have(b.device != nil) {
		return b
	}
	b.device.SetLanguagesFrom(b.stringBufs[0][:], LangIDUSEnglish)

	desc := b.device.Descriptor
	for i, s := range []struct {
		text  string
		index *uint8
	}{
		{manufacturer, &desc.ManufacturerIndex},
		{product, &desc.ProductIndex},
		{serial, &desc.SerialNumberIndex},
	} {
		if s.text == "" {
			continue
		}
		n := uint8(i + 1)
		*s.index = n
		b.device.SetStringFrom(n, b.stringBufs[n][:], s.text)
	}
	return b
}

func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	if !b.have(b.device != nil) {
		return b
	}
	b.config = NewConfiguration(value)
	if b.check(b.device.AddConfiguration(b.config)) {
		b.device.Descriptor.NumConfigurations++
	}
	return b
}

// WithMaxPower sets bMaxPower in 2 mA units.
func (b *DeviceBuilder) WithMaxPower(units uint8) *DeviceBuilder {
	if b.have(b.config != nil) {
		b.config.MaxPower = units
	}
	return b
}

// AddInterface appends an interface numbered after the ones before it.
func (b *DeviceBuilder) AddInterface(class, subClass, protocol uint8) *DeviceBuilder {
	if !b.have(b.config != nil) {
		return b
	}
	b.iface = NewInterface(&InterfaceDescriptor{
		InterfaceNumber:   uint8(b.config.NumInterfaces()),
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	})
	b.ep = nil
	b.check(b.config.AddInterface(b.iface))
	return b
}

// WithInterfaceExtra appends class-specific descriptor bytes to the last
// interface.
func (b *DeviceBuilder) WithInterfaceExtra(extra ...byte) *DeviceBuilder {
	if b.have(b.iface != nil) {
		b.iface.Extra = append(b.iface.Extra, extra...)
	}
	return b
}

func (b *DeviceBuilder) AddEndpoint(address, transferType uint8, maxPacketSize uint16) *DeviceBuilder {
	return b.addEndpoint(&Endpoint{
		Address:       address,
		Attributes:    transferType,
		MaxPacketSize: maxPacketSize,
	})
}

// AddAudioEndpoint adds an endpoint in the 9-byte audio-class form.
func (b *DeviceBuilder) AddAudioEndpoint(address, transferType uint8, maxPacketSize uint16, interval uint8) *DeviceBuilder {
	return b.addEndpoint(&Endpoint{
		Address:       address,
		Attributes:    transferType,
		MaxPacketSize: maxPacketSize,
		Interval:      interval,
		Audio:         true,
	})
}

func (b *DeviceBuilder) addEndpoint(ep *Endpoint) *DeviceBuilder {
	if b.have(b.iface != nil) && b.check(b.iface.AddEndpoint(ep)) {
		b.ep = ep
	}
	return b
}

// WithEndpointExtra appends class-specific descriptor bytes to the last
// endpoint.
func (b *DeviceBuilder) WithEndpointExtra(extra ...byte) *DeviceBuilder {
	if b.have(b.ep != nil) {
		b.ep.Extra = append(b.ep.Extra, extra...)
	}
	return b
}

// Build returns the device or the first error recorded.
func (b *DeviceBuilder) Build(ctx context.Context) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	if b.device == nil {
		return nil, pkg.ErrInvalidState
	}
	return b.device, nil
}

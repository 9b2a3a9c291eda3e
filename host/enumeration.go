package host

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ardnew/udmx/host/hal"
	"github.com/ardnew/udmx/pkg"
)

// Enumeration errors.
var (
	ErrEnumerationFailed = errors.New("enumeration failed")
	ErrNoAddress         = errors.New("no address available")
)

// enumerateDevice performs the USB enumeration sequence for a new device.
func (h *Host) enumerateDevice(port int) (*Device, error) {
	ctx := h.ctx
	pkg.LogDebug(pkg.ComponentHost, "starting enumeration", "port", port)

	speed := h.hal.PortSpeed(port)
	if err := h.hal.ResetPort(port); err != nil {
		return nil, pkg.Wrap(err, "reset port")
	}

	dev := newDevice(h, port, 0, speed)

	// The first 8 bytes carry bMaxPacketSize0.
	var buf [MaxDescriptorSize]byte
	n, err := dev.GetDescriptor(ctx, DescriptorTypeDevice, 0, 0, buf[:8])
	if err != nil {
		return nil, pkg.Wrap(err, "device descriptor header")
	}
	if n < 8 {
		return nil, pkg.Wrapf(ErrEnumerationFailed, "device descriptor header of %d bytes", n)
	}
	pkg.LogDebug(pkg.ComponentHost, "got max packet size", "size", buf[7])

	address := h.allocateAddress()
	if address == 0 {
		return nil, ErrNoAddress
	}
	setup := hal.SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestSetAddress,
		Value:       uint16(address),
	}
	if _, err := dev.ControlTransfer(ctx, &setup, nil); err != nil {
		return nil, pkg.Wrap(err, "set address")
	}
	dev.address = address
	dev.state = DeviceStateAddress
	pkg.LogDebug(pkg.ComponentHost, "assigned address", "address", address)

	n, err = dev.GetDescriptor(ctx, DescriptorTypeDevice, 0, 0, buf[:DeviceDescriptorSize])
	if err != nil {
		return nil, pkg.Wrap(err, "device descriptor")
	}
	if !dev.parseDeviceDescriptor(buf[:n]) {
		return nil, pkg.Wrapf(ErrEnumerationFailed, "device descriptor of %d bytes", n)
	}
	pkg.LogDebug(pkg.ComponentHost, "device descriptor",
		"vendorID", dev.descriptor.VendorID,
		"productID", dev.descriptor.ProductID,
		"class", dev.descriptor.DeviceClass)

	// Configuration header first, for wTotalLength.
	n, err = dev.GetDescriptor(ctx, DescriptorTypeConfiguration, 0, 0, buf[:ConfigurationDescriptorSize])
	if err != nil {
		return nil, pkg.Wrap(err, "configuration descriptor header")
	}
	if n < ConfigurationDescriptorSize {
		return nil, pkg.Wrapf(ErrEnumerationFailed, "configuration header of %d bytes", n)
	}
	total := int(buf[2]) | int(buf[3])<<8
	if total > len(buf) {
		total = len(buf)
	}
	n, err = dev.GetDescriptor(ctx, DescriptorTypeConfiguration, 0, 0, buf[:total])
	if err != nil {
		return nil, pkg.Wrap(err, "configuration descriptor")
	}
	dev.parseConfigurationTree(buf[:n])
	pkg.LogDebug(pkg.ComponentHost, "configuration descriptor",
		"numInterfaces", dev.config.NumInterfaces,
		"configValue", dev.config.ConfigurationValue)

	h.readStringDescriptors(ctx, dev, buf[:])

	if dev.config.ConfigurationValue > 0 {
		if err := dev.SetConfiguration(ctx, dev.config.ConfigurationValue); err != nil {
			return nil, pkg.Wrap(err, "set configuration")
		}
	}
	return dev, nil
}

// readStringDescriptors caches the manufacturer, product and serial number
// strings. The language is the first one the device lists in string 0. A
// string that cannot be read stays empty.
func (h *Host) readStringDescriptors(ctx context.Context, dev *Device, buf []byte) {
	langID := uint16(LangIDUSEnglish)
	if n, err := dev.GetDescriptor(ctx, DescriptorTypeString, 0, 0, buf[:255]); err == nil && n >= 4 {
		langID = uint16(buf[2]) | uint16(buf[3])<<8
	}
	dev.langID = langID

	for _, index := range []uint8{
		dev.descriptor.ManufacturerIndex,
		dev.descriptor.ProductIndex,
		dev.descriptor.SerialNumberIndex,
	} {
		if index == 0 || int(index) >= len(dev.strings) {
			continue
		}
		s, err := dev.ReadString(ctx, index, buf)
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "string descriptor read failed",
				"index", index,
				"error", err)
			continue
		}
		dev.strings[index] = s
	}
}

// DecodeString converts a string descriptor to text. Characters outside
// Latin-1 become '?'.
func DecodeString(data []byte) (string, error) {
	if len(data) < 2 {
		return "", pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeString {
		return "", pkg.ErrDescriptorTypeMismatch
	}
	length := int(data[0])
	if length > len(data) {
		length = len(data)
	}

	runes := make([]rune, 0, length/2)
	for i := 2; i+1 < length; i += 2 {
		if data[i+1] != 0 {
			runes = append(runes, '?')
			continue
		}
		runes = append(runes, rune(data[i]))
	}
	return string(runes), nil
}

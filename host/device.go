package host

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ardnew/udmx/host/hal"
	"github.com/ardnew/udmx/pkg"
)

// Device is an enumerated device. Descriptors and strings are read once
// during enumeration and cached. Only the state changes afterwards.
type Device struct {
	host    *Host
	address uint8
	port    int
	speed   hal.Speed

	descriptor DeviceDescriptor
	config     ConfigurationDescriptor
	interfaces []InterfaceDescriptor
	endpoints  []EndpointDescriptor

	// classDescriptors[i] holds the descriptors that followed interface i
	// and were neither interfaces nor endpoints.
	classDescriptors [MaxInterfacesPerConfiguration][][]byte

	strings [MaxStringsPerDevice]string
	langID  uint16

	configurationValue uint8
	state              DeviceState
	mutex              sync.RWMutex
}

func newDevice(host *Host, port int, address uint8, speed hal.Speed) *Device {
	return &Device{
		host:    host,
		address: address,
		port:    port,
		speed:   speed,
		state:   DeviceStateDefault,
	}
}

func (d *Device) Address() uint8 { return d.address }
func (d *Device) Port() int { return d.port }
func (d *Device) Speed() hal.Speed { return d.speed }
func (d *Device) VendorID() uint16 { return d.descriptor.VendorID }
func (d *Device) ProductID() uint16 { return d.descriptor.ProductID }
func (d *Device) Manufacturer() string { return d.GetString(d.descriptor.ManufacturerIndex) }
func (d *Device) Product() string { return d.GetString(d.descriptor.ProductIndex) }

// SerialNumber is empty for a device without iSerialNumber, such as the
// MIDI variant of the uDMX.
func (d *Device) SerialNumber() string { return d.GetString(d.descriptor.SerialNumberIndex) }

func (d *Device) Descriptor() DeviceDescriptor { return d.descriptor }
func (d *Device) Configuration() ConfigurationDescriptor { return d.config }

// Interfaces and Endpoints alias the cached descriptors.
func (d *Device) Interfaces() []InterfaceDescriptor { return d.interfaces }
func (d *Device) Endpoints() []EndpointDescriptor { return d.endpoints }

func (d *Device) GetInterface(num uint8) *InterfaceDescriptor {
	for i := range d.interfaces {
		if d.interfaces[i].InterfaceNumber == num {
			return &d.interfaces[i]
		}
	}
	return nil
}

// GetEndpoint finds an endpoint by address, direction bit included.
func (d *Device) GetEndpoint(address uint8) *EndpointDescriptor {
	for i := range d.endpoints {
		if d.endpoints[i].EndpointAddress == address {
			return &d.endpoints[i]
		}
	}
	return nil
}

// ClassDescriptors returns the class-specific descriptors of the i-th
// interface in configuration order.
func (d *Device) ClassDescriptors(i int) [][]byte {
	if i < 0 || i >= len(d.classDescriptors) {
		return nil
	}
	return d.classDescriptors[i]
}

// GetString returns a cached string, or "" for index 0 and strings that
// could not be read.
func (d *Device) GetString(index uint8) string {
	if index == 0 || int(index) >= len(d.strings) {
		return ""
	}
	return d.strings[index]
}

func (d *Device) State() DeviceState {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

func (d *Device) GetConfiguration() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configurationValue
}

// SetConfiguration issues SET_CONFIGURATION. Value 0 returns the device to
// the Address state.
func (d *Device) SetConfiguration(ctx context.Context, value uint8) error {
	setup := hal.SetupPacket{
		RequestType: RequestTypeOut | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(value),
	}
	if _, err := d.ControlTransfer(ctx, &setup, nil); err != nil {
		return err
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.configurationValue = value
	d.state = DeviceStateAddress
	if value > 0 {
		d.state = DeviceStateConfigured
	}
	return nil
}

// ControlTransfer runs setup on EP0. data is the IN buffer or the OUT
// payload depending on the direction bit. A detached device fails with
// pkg.ErrNoDevice.
func (d *Device) ControlTransfer(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	if d.State() == DeviceStateDetached {
		return 0, pkg.ErrNoDevice
	}
	return d.host.hal.ControlTransfer(ctx, hal.DeviceAddress(d.address), setup, data)
}

// BulkTransfer moves data on a bulk or interrupt endpoint.
func (d *Device) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	if d.State() == DeviceStateDetached {
		return 0, pkg.ErrNoDevice
	}
	return d.host.hal.BulkTransfer(ctx, hal.DeviceAddress(d.address), endpoint, data)
}

// Close marks the device detached.
func (d *Device) Close() error {
	d.mutex.Lock()
	d.state = DeviceStateDetached
	d.mutex.Unlock()
	return nil
}

func (d *Device) GetDescriptor(ctx context.Context, descType, descIndex uint8, langID uint16, data []byte) (int, error) {
	setup := hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Index:       langID,
		Length:      uint16(len(data)),
	}
	return d.ControlTransfer(ctx, &setup, data)
}

// ReadString reads and decodes string index in the device's language. buf
// needs room for 255 bytes.
func (d *Device) ReadString(ctx context.Context, index uint8, buf []byte) (string, error) {
	if len(buf) > 255 {
		buf = buf[:255]
	}
	n, err := d.GetDescriptor(ctx, DescriptorTypeString, index, d.langID, buf)
	if err != nil {
		return "", err
	}
	return DecodeString(buf[:n])
}

func (d *Device) GetStatus(ctx context.Context) (uint16, error) {
	var buf [2]byte
	setup := hal.SetupPacket{
		RequestType: RequestTypeIn | RequestTypeStandard | RequestTypeDevice,
		Request:     RequestGetStatus,
		Length:      2,
	}
	if _, err := d.ControlTransfer(ctx, &setup, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (d *Device) parseDeviceDescriptor(data []byte) bool {
	return ParseDeviceDescriptor(data, &d.descriptor)
}

// parseConfigurationTree walks the configuration returned by
// GET_DESCRIPTOR. It stops at the first malformed descriptor.
func (d *Device) parseConfigurationTree(data []byte) {
	if !ParseConfigurationDescriptor(data, &d.config) {
		return
	}
	d.interfaces = make([]InterfaceDescriptor, 0, d.config.NumInterfaces)
	d.endpoints = make([]EndpointDescriptor, 0, MaxEndpointsPerInterface)

	end := min(len(data), int(d.config.TotalLength))
	current := -1
	for off := ConfigurationDescriptorSize; off+2 <= end; {
		length := int(data[off])
		if length < 2 || off+length > len(data) {
			return
		}
		desc := data[off : off+length]

		switch desc[1] {
		case DescriptorTypeInterface:
			var iface InterfaceDescriptor
			if ParseInterfaceDescriptor(desc, &iface) {
				d.interfaces = append(d.interfaces, iface)
				current = len(d.interfaces) - 1
			}
		case DescriptorTypeEndpoint:
			var ep EndpointDescriptor
			if ParseEndpointDescriptor(desc, &ep) {
				d.endpoints = append(d.endpoints, ep)
			}
		default:
			if current >= 0 && current < MaxInterfacesPerConfiguration {
				d.classDescriptors[current] = append(d.classDescriptors[current],
					append([]byte(nil), desc...))
			}
		}
		off += length
	}
}

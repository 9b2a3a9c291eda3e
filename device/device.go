package device

import (
	"sync"

	"github.com/ardnew/udmx/pkg"
)

// Device holds a uDMX unit's descriptors and its chapter 9 state: address,
// active configuration and the remote wakeup flag.
type Device struct {
	Descriptor *DeviceDescriptor

	configurations     [MaxConfigurations]*Configuration
	configurationCount int
	activeConfig       *Configuration

	// strings[0] is the language table.
	strings [MaxStrings][]byte

	state        State
	address      uint8
	ep0          *Endpoint
	remoteWakeup bool

	mutex sync.RWMutex

	onSetAddress       func(address uint8)
	onSetConfiguration func(config uint8)
}

// NewDevice creates a device in the Attached state with an EP0 sized from
// desc.
func NewDevice(desc *DeviceDescriptor) *Device {
	return &Device{
		Descriptor: desc,
		state:      StateAttached,
		ep0: &Endpoint{
			Attributes:    EndpointTypeControl,
			MaxPacketSize: uint16(desc.MaxPacketSize0),
		},
	}
}

// AddConfiguration registers config. Values must be unique.
func (d *Device) AddConfiguration(config *Configuration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.configurationCount >= MaxConfigurations {
		return pkg.ErrNoMemory
	}
	if d.findConfiguration(config.Value) != nil {
		return pkg.ErrBusy
	}
	d.configurations[d.configurationCount] = config
	d.configurationCount++

	pkg.LogDebug(pkg.ComponentDevice, "configuration added", "value", config.Value)
	return nil
}

func (d *Device) findConfiguration(value uint8) *Configuration {
	for _, c := range d.configurations[:d.configurationCount] {
		if c.Value == value {
			return c
		}
	}
	return nil
}

func (d *Device) GetConfiguration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.findConfiguration(value)
}

// ActiveConfiguration is nil until SET_CONFIGURATION selects one.
func (d *Device) ActiveConfiguration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.activeConfig
}

// SetStringFrom encodes s as string descriptor index into buf and keeps a
// reference to the encoded bytes. It returns the encoded length.
func (d *Device) SetStringFrom(index uint8, buf []byte, s string) int {
	if index >= MaxStrings {
		return 0
	}
	return d.storeString(index, buf[:StringDescriptorTo(buf, s)])
}

// SetLanguagesFrom does the same for the language table at index 0.
func (d *Device) SetLanguagesFrom(buf []byte, langIDs ...uint16) int {
	return d.storeString(0, buf[:LanguageDescriptorTo(buf, langIDs...)])
}

func (d *Device) storeString(index uint8, data []byte) int {
	if len(data) == 0 {
		return 0
	}
	d.mutex.Lock()
	d.strings[index] = data
	d.mutex.Unlock()
	return len(data)
}

// GetString returns nil for an index that was never set.
func (d *Device) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.strings[index]
}

func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

func (d *Device) setState(s State) {
	d.mutex.Lock()
	old := d.state
	d.state = s
	d.mutex.Unlock()

	if old != s {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", old.String(),
			"to", s.String())
	}
}

func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

func (d *Device) ControlEndpoint() *Endpoint {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.ep0
}

func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// Reset puts the device back in the Default state, as after a bus reset.
func (d *Device) Reset() {
	d.mutex.Lock()
	d.address = 0
	d.activeConfig = nil
	d.remoteWakeup = false
	d.mutex.Unlock()

	d.setState(StateDefault)
	pkg.LogDebug(pkg.ComponentDevice, "device reset")
}

// SetAddress serves SET_ADDRESS. Address 0 returns to the Default state.
func (d *Device) SetAddress(address uint8) error {
	d.mutex.Lock()
	if d.state != StateDefault && d.state != StateAddress {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	d.address = address
	cb := d.onSetAddress
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}
	if cb != nil {
		cb(address)
	}
	pkg.LogDebug(pkg.ComponentDevice, "device address set", "address", address)
	return nil
}

// SetConfiguration serves SET_CONFIGURATION. Value 0 deconfigures.
func (d *Device) SetConfiguration(value uint8) error {
	d.mutex.Lock()
	if d.state != StateAddress && d.state != StateConfigured {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	if value == 0 {
		d.activeConfig = nil
		d.mutex.Unlock()
		d.setState(StateAddress)
		return nil
	}
	config := d.findConfiguration(value)
	if config == nil {
		d.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}
	d.activeConfig = config
	cb := d.onSetConfiguration
	d.mutex.Unlock()

	d.setState(StateConfigured)
	if cb != nil {
		cb(value)
	}
	pkg.LogDebug(pkg.ComponentDevice, "device configured", "configuration", value)
	return nil
}

func (d *Device) EnableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeup = enabled
}

// GetInterface looks number up in the active configuration.
func (d *Device) GetInterface(number uint8) *Interface {
	if config := d.ActiveConfiguration(); config != nil {
		return config.GetInterface(number)
	}
	return nil
}

// GetEndpoint returns EP0 for address 0x00 or 0x80. Other addresses are
// looked up in the active configuration.
func (d *Device) GetEndpoint(address uint8) *Endpoint {
	if address&0x7F == 0 {
		return d.ControlEndpoint()
	}
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.Interfaces() {
		if ep := iface.GetEndpoint(address); ep != nil {
			return ep
		}
	}
	return nil
}

func (d *Device) SetOnSetAddress(cb func(address uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetAddress = cb
}

func (d *Device) SetOnSetConfiguration(cb func(config uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetConfiguration = cb
}

// DeviceStatus is the word returned by a device GET_STATUS.
type DeviceStatus uint16

const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

// GetStatus reports bus power (a uDMX draws from the host) and the remote
// wakeup flag.
func (d *Device) GetStatus() DeviceStatus {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var status DeviceStatus
	if d.activeConfig != nil && d.activeConfig.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeup {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

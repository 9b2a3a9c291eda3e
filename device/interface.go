package device

import (
	"sync"

	"github.com/ardnew/udmx/pkg"
)

// Interface is one interface of the configuration. The standard uDMX has a
// single vendor interface without endpoints. The MIDI variant has an audio
// control interface and a MIDI streaming interface with one bulk OUT
// endpoint.
type Interface struct {
	Number           uint8
	AlternateSetting uint8
	Class            uint8
	SubClass         uint8
	Protocol         uint8

	// Extra is written after the interface descriptor, before the
	// endpoints.
	Extra []byte

	endpoints     [MaxEndpointsPerInterface]*Endpoint
	endpointCount int
	mutex         sync.RWMutex
}

func NewInterface(desc *InterfaceDescriptor) *Interface {
	return &Interface{
		Number:           desc.InterfaceNumber,
		AlternateSetting: desc.AlternateSetting,
		Class:            desc.InterfaceClass,
		SubClass:         desc.InterfaceSubClass,
		Protocol:         desc.InterfaceProtocol,
	}
}

// AddEndpoint appends ep. Addresses must be unique within the interface.
func (i *Interface) AddEndpoint(ep *Endpoint) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.endpointCount >= MaxEndpointsPerInterface {
		return pkg.ErrNoMemory
	}
	if i.findEndpoint(ep.Address) != nil {
		return pkg.ErrBusy
	}
	i.endpoints[i.endpointCount] = ep
	i.endpointCount++

	pkg.LogDebug(pkg.ComponentDevice, "endpoint added",
		"interface", i.Number,
		"endpoint", ep.String())
	return nil
}

func (i *Interface) findEndpoint(address uint8) *Endpoint {
	for _, ep := range i.endpoints[:i.endpointCount] {
		if ep.Address == address {
			return ep
		}
	}
	return nil
}

func (i *Interface) GetEndpoint(address uint8) *Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.findEndpoint(address)
}

// Endpoints returns the interface's endpoints. The slice aliases internal
// storage.
func (i *Interface) Endpoints() []*Endpoint {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.endpoints[:i.endpointCount]
}

func (i *Interface) SetAlternate(alt uint8) {
	i.mutex.Lock()
	i.AlternateSetting = alt
	i.mutex.Unlock()
}

func (i *Interface) Alternate() uint8 {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	return i.AlternateSetting
}

func (i *Interface) descriptorLength() int {
	n := InterfaceDescriptorSize + len(i.Extra)
	for _, ep := range i.Endpoints() {
		n += ep.descriptorLength()
	}
	return n
}

func (i *Interface) marshalTo(buf []byte) int {
	i.mutex.RLock()
	desc := InterfaceDescriptor{
		InterfaceNumber:   i.Number,
		AlternateSetting:  i.AlternateSetting,
		NumEndpoints:      uint8(i.endpointCount),
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
	}
	i.mutex.RUnlock()

	n := desc.MarshalTo(buf)
	n += copy(buf[n:], i.Extra)
	for _, ep := range i.Endpoints() {
		n += ep.MarshalTo(buf[n:])
	}
	return n
}

// Configuration is the device's single configuration. It is bus powered
// and draws 100 mA unless the builder says otherwise.
type Configuration struct {
	Value      uint8
	Attributes uint8
	MaxPower   uint8 // 2 mA units

	interfaces     [MaxInterfacesPerConfiguration]*Interface
	interfaceCount int
	mutex          sync.RWMutex
}

func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
	}
}

// AddInterface appends iface. Interface numbers must be unique.
func (c *Configuration) AddInterface(iface *Interface) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.interfaceCount >= MaxInterfacesPerConfiguration {
		return pkg.ErrNoMemory
	}
	if c.findInterface(iface.Number) != nil {
		return pkg.ErrBusy
	}
	c.interfaces[c.interfaceCount] = iface
	c.interfaceCount++

	pkg.LogDebug(pkg.ComponentDevice, "interface added",
		"config", c.Value,
		"interface", iface.Number)
	return nil
}

func (c *Configuration) findInterface(number uint8) *Interface {
	for _, iface := range c.interfaces[:c.interfaceCount] {
		if iface.Number == number {
			return iface
		}
	}
	return nil
}

func (c *Configuration) GetInterface(number uint8) *Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.findInterface(number)
}

// Interfaces returns the configuration's interfaces. The slice aliases
// internal storage.
func (c *Configuration) Interfaces() []*Interface {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaces[:c.interfaceCount]
}

func (c *Configuration) NumInterfaces() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interfaceCount
}

// TotalLength is wTotalLength: every descriptor returned with the
// configuration, class-specific ones included.
func (c *Configuration) TotalLength() uint16 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.totalLengthLocked()
}

func (c *Configuration) totalLengthLocked() uint16 {
	n := ConfigurationDescriptorSize
	for _, iface := range c.interfaces[:c.interfaceCount] {
		n += iface.descriptorLength()
	}
	return uint16(n)
}

// MarshalTo writes the whole configuration. It returns 0 if buf cannot
// hold TotalLength bytes.
func (c *Configuration) MarshalTo(buf []byte) int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	desc := ConfigurationDescriptor{
		TotalLength:        c.totalLengthLocked(),
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
	if len(buf) < int(desc.TotalLength) {
		return 0
	}
	n := desc.MarshalTo(buf)
	for _, iface := range c.interfaces[:c.interfaceCount] {
		n += iface.marshalTo(buf[n:])
	}
	return n
}

func (c *Configuration) IsSelfPowered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Attributes&ConfigAttrSelfPowered != 0
}

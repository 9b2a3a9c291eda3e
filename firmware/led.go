package firmware

import "sync/atomic"

// LEDs drives the status LED port.
type LEDs interface {
	Set(state LEDState)
}

// LEDPort is an LEDs implementation that remembers the last value written
// and counts changes, for monitors and tests.
type LEDPort struct {
	state   atomic.Uint32
	changes atomic.Uint64

	// OnChange, if set, is called with each new value.
	OnChange func(LEDState)
}

// NewLEDPort returns a port with every LED off.
func NewLEDPort() *LEDPort {
	p := &LEDPort{}
	p.state.Store(uint32(LEDNone))
	return p
}

// Set implements LEDs.
func (p *LEDPort) Set(state LEDState) {
	if LEDState(p.state.Swap(uint32(state))) == state {
		return
	}
	p.changes.Add(1)
	if p.OnChange != nil {
		p.OnChange(state)
	}
}

// Get returns the current port value.
func (p *LEDPort) Get() LEDState {
	return LEDState(p.state.Load())
}

// Changes returns how many times the port value changed.
func (p *LEDPort) Changes() uint64 {
	return p.changes.Load()
}

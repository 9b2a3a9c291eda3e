package device

import (
	"context"
	"sync"

	"github.com/ardnew/udmx/device/hal"
	"github.com/ardnew/udmx/pkg"
)

// ep0Event records one EP0 response produced by the stack.
type ep0Event struct {
	kind string // "data", "ack" or "stall"
	data []byte
}

// mockHAL implements hal.DeviceHAL for testing. SETUP packets are queued
// with their OUT data stage, and every EP0 response is pushed to events.
type mockHAL struct {
	mutex sync.Mutex

	inits, starts, stops int
	address              uint8
	endpoints            []hal.EndpointConfig

	setups  chan mockSetup
	pending []byte
	events  chan ep0Event
	packets map[uint8]chan []byte
	written map[uint8][][]byte
}

type mockSetup struct {
	setup hal.SetupPacket
	data  []byte
	reset bool
}

func newMockHAL() *mockHAL {
	return &mockHAL{
		setups:  make(chan mockSetup, 16),
		events:  make(chan ep0Event, 16),
		packets: make(map[uint8]chan []byte),
		written: make(map[uint8][][]byte),
	}
}

func (m *mockHAL) Init(ctx context.Context) error {
	m.mutex.Lock()
	m.inits++
	m.mutex.Unlock()
	return nil
}

func (m *mockHAL) Start() error {
	m.mutex.Lock()
	m.starts++
	m.mutex.Unlock()
	return nil
}

func (m *mockHAL) Stop() error {
	m.mutex.Lock()
	m.stops++
	m.mutex.Unlock()
	return nil
}

func (m *mockHAL) SetAddress(address uint8) error {
	m.mutex.Lock()
	m.address = address
	m.mutex.Unlock()
	return nil
}

func (m *mockHAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	m.mutex.Lock()
	m.endpoints = endpoints
	m.mutex.Unlock()
	return nil
}

func (m *mockHAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s := <-m.setups:
		if s.reset {
			return pkg.ErrReset
		}
		*out = s.setup
		m.pending = s.data
		return nil
	}
}

func (m *mockHAL) WriteEP0(ctx context.Context, data []byte) error {
	m.events <- ep0Event{kind: "data", data: append([]byte{}, data...)}
	return nil
}

func (m *mockHAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	n := copy(buf, m.pending)
	m.pending = nil
	return n, nil
}

func (m *mockHAL) StallEP0() error {
	m.events <- ep0Event{kind: "stall"}
	return nil
}

func (m *mockHAL) AckEP0() error {
	m.events <- ep0Event{kind: "ack"}
	return nil
}

func (m *mockHAL) outQueue(address uint8) chan []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	q, ok := m.packets[address]
	if !ok {
		q = make(chan []byte, 16)
		m.packets[address] = q
	}
	return q
}

func (m *mockHAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case p := <-m.outQueue(address):
		return copy(buf, p), nil
	}
}

func (m *mockHAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.written[address] = append(m.written[address], append([]byte{}, data...))
	return len(data), nil
}

func (m *mockHAL) Stall(address uint8) error      { return nil }
func (m *mockHAL) ClearStall(address uint8) error { return nil }
func (m *mockHAL) IsConnected() bool              { return true }
func (m *mockHAL) GetSpeed() hal.Speed            { return hal.SpeedLow }

func (m *mockHAL) WaitConnect(ctx context.Context) error    { return nil }
func (m *mockHAL) WaitDisconnect(ctx context.Context) error { return nil }

func (m *mockHAL) sendSetup(setup SetupPacket, data []byte) {
	m.setups <- mockSetup{
		setup: hal.SetupPacket{
			RequestType: setup.RequestType,
			Request:     setup.Request,
			Value:       setup.Value,
			Index:       setup.Index,
			Length:      setup.Length,
		},
		data: data,
	}
}

func (m *mockHAL) sendReset() {
	m.setups <- mockSetup{reset: true}
}

package device

import (
	"context"
	"sync"

	"github.com/ardnew/udmx/device/hal"
	"github.com/ardnew/udmx/pkg"
)

// MaxControlDataSize is the largest control data stage the stack accepts.
// A full-universe SetChannelRange carries 512 bytes.
const MaxControlDataSize = 1024

// VendorReply is a vendor handler's answer to a SETUP packet.
type VendorReply struct {
	// Data is the IN data stage. It is truncated to wLength.
	Data []byte

	// WantData asks for the rest of the transfer: the OUT data stage is
	// passed to VendorWrite, and an IN data stage is filled by VendorRead.
	WantData bool
}

// VendorHandler serves device-recipient vendor requests.
type VendorHandler interface {
	// HandleVendor answers a SETUP packet. An error stalls EP0.
	HandleVendor(setup *SetupPacket) (VendorReply, error)

	// VendorWrite receives the OUT data stage in chunks of at most the EP0
	// packet size. It returns done once it needs no more data. An error
	// stalls EP0.
	VendorWrite(chunk []byte) (done bool, err error)

	// VendorRead fills the IN data stage of a request answered with
	// WantData and returns the number of bytes written to buf.
	VendorRead(buf []byte) int
}

// BulkHandler receives one packet from an OUT endpoint. The slice is only
// valid during the call.
type BulkHandler func(data []byte)

// Stack manages the USB device stack.
type Stack struct {
	device  *Device
	hal     hal.DeviceHAL
	handler *StandardRequestHandler
	vendor  VendorHandler

	bulk map[uint8]BulkHandler

	// State
	running bool
	mutex   sync.RWMutex
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// Reusable buffers for the control goroutine.
	setupBuf   hal.SetupPacket
	ep0ReadBuf [MaxControlDataSize]byte
	ep0InBuf   [MaxControlDataSize]byte

	onActivity func()
	onAddress  func(address uint8)
}

// NewStack creates a new device stack.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	s := &Stack{
		device: dev,
		hal:    h,
		bulk:   make(map[uint8]BulkHandler),
	}
	s.handler = NewStandardRequestHandler(dev)
	dev.SetOnSetAddress(func(address uint8) {
		if err := h.SetAddress(address); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "hal set address failed", "error", err)
		}
		s.mutex.RLock()
		cb := s.onAddress
		s.mutex.RUnlock()
		if cb != nil {
			cb(address)
		}
	})
	dev.SetOnSetConfiguration(func(uint8) { s.configureEndpoints() })
	return s
}

// SetVendorHandler installs the handler for vendor requests. Without one,
// vendor requests stall.
func (s *Stack) SetVendorHandler(v VendorHandler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.vendor = v
}

// SetBulkHandler registers fn for packets arriving on the OUT endpoint at
// address. It takes effect at the next Start.
func (s *Stack) SetBulkHandler(address uint8, fn BulkHandler) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.bulk[address&0x0F] = fn
}

// SetOnActivity sets a callback fired for every SETUP and OUT packet
// received.
func (s *Stack) SetOnActivity(cb func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onActivity = cb
}

// SetOnAddress sets a callback fired when the host assigns an address.
func (s *Stack) SetOnAddress(cb func(address uint8)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onAddress = cb
}

// Start attaches the device to the bus and starts serving it. A stopped
// stack can be started again.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return pkg.ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.hal.Init(runCtx); err != nil {
		cancel()
		return pkg.Wrap(err, "hal init")
	}
	if err := s.hal.Start(); err != nil {
		cancel()
		s.hal.Stop()
		return pkg.Wrap(err, "hal start")
	}

	s.ctx, s.cancel = runCtx, cancel
	s.running = true
	s.device.Reset()

	s.wg.Add(1)
	go s.controlLoop(runCtx)
	for addr, fn := range s.bulk {
		s.wg.Add(1)
		go s.bulkLoop(runCtx, addr, fn)
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack started")
	return nil
}

// Stop detaches the device and waits for the stack goroutines to return.
// It must not be called from a handler running on the stack.
func (s *Stack) Stop() error {
	if err := s.detach(); err != nil {
		return err
	}
	s.wg.Wait()
	return nil
}

// detach cancels the stack goroutines and detaches from the bus without
// waiting for them. Handlers running on the stack use it to drop off the
// bus.
func (s *Stack) detach() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()

	if err := s.hal.Stop(); err != nil {
		return pkg.Wrap(err, "hal stop")
	}
	s.device.setState(StateAttached)

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return nil
}

// Detach drops the device off the bus without waiting for the stack's
// goroutines. It is safe to call from a vendor or bulk handler.
func (s *Stack) Detach() error {
	return s.detach()
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

func (s *Stack) activity() {
	s.mutex.RLock()
	cb := s.onActivity
	s.mutex.RUnlock()
	if cb != nil {
		cb()
	}
}

// controlLoop handles control transfers on EP0.
func (s *Stack) controlLoop(ctx context.Context) {
	defer s.wg.Done()

	for ctx.Err() == nil {
		if err := s.hal.ReadSetup(ctx, &s.setupBuf); err != nil {
			if ctx.Err() != nil {
				return
			}
			if pkg.Is(err, pkg.ErrReset) {
				s.device.Reset()
				continue
			}
			pkg.LogWarn(pkg.ComponentStack, "error reading setup", "error", err)
			continue
		}
		s.activity()

		setup := SetupPacket{
			RequestType: s.setupBuf.RequestType,
			Request:     s.setupBuf.Request,
			Value:       s.setupBuf.Value,
			Index:       s.setupBuf.Index,
			Length:      s.setupBuf.Length,
		}

		if err := s.handleSetup(ctx, &setup); err != nil {
			if ctx.Err() != nil {
				return
			}
			pkg.LogDebug(pkg.ComponentStack, "request stalled",
				"error", err,
				"request", setup.String())
			if err := s.hal.StallEP0(); err != nil && ctx.Err() == nil {
				pkg.LogWarn(pkg.ComponentStack, "stall failed", "error", err)
			}
		}
	}
}

// handleSetup processes a single SETUP transaction.
func (s *Stack) handleSetup(ctx context.Context, setup *SetupPacket) error {
	pkg.LogDebug(pkg.ComponentStack, "setup received", "request", setup.String())

	switch {
	case setup.IsStandard():
		resp, err := s.handler.HandleSetup(setup)
		if err != nil {
			return err
		}
		return s.completeSetup(ctx, setup, resp)

	case setup.IsVendor() && setup.IsDeviceRecipient():
		return s.handleVendor(ctx, setup)

	default:
		return pkg.ErrInvalidRequest
	}
}

// handleVendor runs a vendor request through the VendorHandler.
func (s *Stack) handleVendor(ctx context.Context, setup *SetupPacket) error {
	s.mutex.RLock()
	v := s.vendor
	s.mutex.RUnlock()
	if v == nil {
		return pkg.ErrNotSupported
	}

	reply, err := v.HandleVendor(setup)
	if err != nil {
		return err
	}

	if setup.IsDeviceToHost() {
		data := reply.Data
		if reply.WantData {
			data = s.ep0InBuf[:v.VendorRead(s.ep0InBuf[:])]
		}
		if len(data) > int(setup.Length) {
			data = data[:setup.Length]
		}
		return s.completeSetup(ctx, setup, data)
	}

	n, err := s.readDataStage(ctx, setup)
	if err != nil {
		return err
	}
	if reply.WantData {
		if err := s.deliverWrite(v, s.ep0ReadBuf[:n]); err != nil {
			return err
		}
	}
	return s.hal.AckEP0()
}

// deliverWrite splits an OUT data stage into EP0-sized chunks. An empty
// data stage is delivered as one empty chunk.
func (s *Stack) deliverWrite(v VendorHandler, data []byte) error {
	size := int(s.device.ControlEndpoint().MaxPacketSize)
	if size == 0 {
		size = 8
	}
	for {
		n := len(data)
		if n > size {
			n = size
		}
		done, err := v.VendorWrite(data[:n])
		if err != nil {
			return err
		}
		data = data[n:]
		if done || len(data) == 0 {
			return nil
		}
	}
}

func (s *Stack) readDataStage(ctx context.Context, setup *SetupPacket) (int, error) {
	if setup.Length == 0 {
		return 0, nil
	}
	n := int(setup.Length)
	if n > MaxControlDataSize {
		n = MaxControlDataSize
	}
	return s.hal.ReadEP0(ctx, s.ep0ReadBuf[:n])
}

// completeSetup finishes a standard request. IN transfers always send a
// data stage, which may be empty.
func (s *Stack) completeSetup(ctx context.Context, setup *SetupPacket, data []byte) error {
	if setup.IsDeviceToHost() {
		return s.hal.WriteEP0(ctx, data)
	}
	if _, err := s.readDataStage(ctx, setup); err != nil {
		return err
	}
	return s.hal.AckEP0()
}

// configureEndpoints hands the active configuration's endpoints to the HAL.
func (s *Stack) configureEndpoints() {
	config := s.device.ActiveConfiguration()
	if config == nil {
		return
	}
	var eps []hal.EndpointConfig
	for _, iface := range config.Interfaces() {
		for _, ep := range iface.Endpoints() {
			eps = append(eps, hal.EndpointConfig{
				Address:       ep.Address,
				Attributes:    ep.Attributes,
				MaxPacketSize: ep.MaxPacketSize,
				Interval:      ep.Interval,
			})
		}
	}
	if err := s.hal.ConfigureEndpoints(eps); err != nil {
		pkg.LogWarn(pkg.ComponentStack, "configure endpoints failed", "error", err)
	}
}

// bulkLoop pumps packets from an OUT endpoint into fn. Packets that arrive
// before the device is configured, or while the endpoint is halted, are
// dropped.
func (s *Stack) bulkLoop(ctx context.Context, address uint8, fn BulkHandler) {
	defer s.wg.Done()

	var buf [MaxControlDataSize]byte
	for ctx.Err() == nil {
		n, err := s.hal.Read(ctx, address, buf[:])
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			pkg.LogWarn(pkg.ComponentStack, "endpoint read failed",
				"address", address,
				"error", err)
			continue
		}
		s.activity()

		ep := s.device.GetEndpoint(address)
		if !s.device.IsConfigured() || ep == nil || ep.IsStalled() {
			pkg.LogDebug(pkg.ComponentStack, "endpoint packet dropped",
				"address", address,
				"length", n)
			continue
		}
		fn(buf[:n])
	}
}

// IsConnected returns true if the device is attached to a host.
func (s *Stack) IsConnected() bool {
	return s.hal.IsConnected()
}

// Write sends data on an IN endpoint.
func (s *Stack) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	return s.hal.Write(ctx, address, data)
}

package host

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/udmx/host/hal"
	"github.com/ardnew/udmx/pkg"
)

// Host enumerates devices as they appear on the bus and forgets them when
// their port disconnects.
type Host struct {
	hal hal.HostHAL

	// devices is indexed by address-1.
	devices     [MaxDevices]*Device
	deviceCount int
	byPort      map[int]*Device
	nextAddress uint8

	running    bool
	lastChange time.Time
	mutex      sync.RWMutex
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	enumerated chan *Device
	onChange   func(dev *Device, attached bool)
}

func New(h hal.HostHAL) *Host {
	return &Host{
		hal:         h,
		byPort:      make(map[int]*Device),
		nextAddress: 1,
		enumerated:  make(chan *Device, 16),
	}
}

// Start brings the HAL up and begins watching its ports.
func (h *Host) Start(ctx context.Context) error {
	h.mutex.Lock()
	if h.running {
		h.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.mutex.Unlock()

	if err := h.hal.Init(h.ctx); err != nil {
		h.cancel()
		return pkg.Wrap(err, "hal init")
	}
	if err := h.hal.Start(); err != nil {
		h.cancel()
		return pkg.Wrap(err, "hal start")
	}

	h.mutex.Lock()
	h.running = true
	h.lastChange = time.Now()
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHost, "host started")

	h.wg.Add(2)
	go h.watch(h.hal.WaitForConnection, h.attach)
	go h.watch(h.hal.WaitForDisconnection, h.detach)
	return nil
}

// Stop halts the HAL and closes every known device.
func (h *Host) Stop() error {
	h.mutex.Lock()
	if !h.running {
		h.mutex.Unlock()
		return nil
	}
	h.running = false
	h.cancel()
	h.mutex.Unlock()

	err := h.hal.Stop()
	h.wg.Wait()

	h.mutex.Lock()
	for i, dev := range h.devices {
		if dev != nil {
			dev.Close()
			h.devices[i] = nil
		}
	}
	h.deviceCount = 0
	clear(h.byPort)
	h.mutex.Unlock()

	if err != nil {
		return pkg.Wrap(err, "hal stop")
	}
	pkg.LogDebug(pkg.ComponentHost, "host stopped")
	return nil
}

func (h *Host) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// Devices lists the enumerated devices in address order.
func (h *Host) Devices() []*Device {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	devs := make([]*Device, 0, h.deviceCount)
	for _, dev := range h.devices {
		if dev != nil {
			devs = append(devs, dev)
		}
	}
	return devs
}

func (h *Host) GetDevice(address uint8) *Device {
	if address == 0 || address > MaxDevices {
		return nil
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.devices[address-1]
}

// WaitDevice returns the next device to finish enumeration.
func (h *Host) WaitDevice(ctx context.Context) (*Device, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, pkg.ErrCancelled
	case dev := <-h.enumerated:
		return dev, nil
	}
}

// Settle waits for the bus to be quiet for the given duration and returns
// what is on it. One-shot tools call it once after Start.
func (h *Host) Settle(ctx context.Context, quiet time.Duration) ([]*Device, error) {
	tick := time.NewTicker(quiet / 4)
	defer tick.Stop()
	for {
		h.mutex.RLock()
		idle := time.Since(h.lastChange)
		h.mutex.RUnlock()
		if idle >= quiet {
			return h.Devices(), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
}

// SetOnChange installs a hook called after a device is enumerated
// (attached true) or after its port disconnects (attached false).
func (h *Host) SetOnChange(fn func(dev *Device, attached bool)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onChange = fn
}

func (h *Host) notify(dev *Device, attached bool) {
	h.mutex.RLock()
	fn := h.onChange
	h.mutex.RUnlock()
	if fn != nil {
		fn(dev, attached)
	}
}

// watch feeds ports reported by wait to handle until the host stops.
// Ports are handled one at a time, so only one device is ever at
// address 0.
func (h *Host) watch(wait func(context.Context) (int, error), handle func(port int)) {
	defer h.wg.Done()
	for h.ctx.Err() == nil {
		port, err := wait(h.ctx)
		if err != nil {
			if h.ctx.Err() == nil {
				pkg.LogDebug(pkg.ComponentHost, "port wait failed", "error", err)
			}
			continue
		}
		h.mutex.Lock()
		h.lastChange = time.Now()
		h.mutex.Unlock()
		handle(port)
	}
}

func (h *Host) attach(port int) {
	dev, err := h.enumerateDevice(port)
	if err != nil {
		if h.ctx.Err() == nil {
			pkg.LogWarn(pkg.ComponentHost, "enumeration failed",
				"port", port,
				"error", err)
		}
		return
	}

	h.mutex.Lock()
	h.devices[dev.address-1] = dev
	h.deviceCount++
	h.byPort[port] = dev
	h.lastChange = time.Now()
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "device enumerated",
		"address", dev.address,
		"port", port,
		"vendor", dev.descriptor.VendorID,
		"product", dev.descriptor.ProductID)

	select {
	case h.enumerated <- dev:
	default:
	}
	h.notify(dev, true)
}

func (h *Host) detach(port int) {
	h.mutex.Lock()
	dev := h.byPort[port]
	if dev == nil {
		h.mutex.Unlock()
		return
	}
	delete(h.byPort, port)
	if h.devices[dev.address-1] == dev {
		h.devices[dev.address-1] = nil
		h.deviceCount--
	}
	h.mutex.Unlock()

	dev.Close()
	pkg.LogInfo(pkg.ComponentHost, "device disconnected",
		"port", port,
		"address", dev.address)
	h.notify(dev, false)
}

// allocateAddress hands out addresses round-robin, skipping ones in use.
// It returns 0 when all 127 are taken.
func (h *Host) allocateAddress() uint8 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for range MaxDevices {
		addr := h.nextAddress
		h.nextAddress = h.nextAddress%MaxDevices + 1
		if h.devices[addr-1] == nil {
			return addr
		}
	}
	return 0
}

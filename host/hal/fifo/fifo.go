package fifo

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/udmx/host/hal"
	"github.com/ardnew/udmx/pkg"
)

// Message types (must match the device HAL).
const (
	msgSetup = 0x01
	msgData  = 0x02
	msgAck   = 0x03
	msgStall = 0x05
	msgReset = 0x12
)

// Connection signal bytes.
const (
	sigConnect    = 0x01
	sigDisconnect = 0x00
)

const (
	headerSize     = 3 // type (1) + length (2)
	maxMessageSize = 1024
)

// MaxEndpoints is the number of data endpoint pairs opened per device.
const MaxEndpoints = 2

// MaxPorts is the number of ports the bus can number.
const MaxPorts = 127

// Timing.
const (
	// TransferTimeout bounds the wait for a device's reply.
	TransferTimeout = 5 * time.Second

	pollInterval = 50 * time.Millisecond
	readTimeout  = 100 * time.Millisecond
)

// FIFO file names (inside each device subdirectory).
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoConnection   = "connection"
	markerAttached   = "attached"
	deviceDirPrefix  = "device-"
)

// port is one attached device directory.
type port struct {
	num     int
	dir     string
	address hal.DeviceAddress

	hostToDevice *os.File
	deviceToHost *os.File
	epIn         [MaxEndpoints]*os.File
	epOut        [MaxEndpoints]*os.File

	// mutex serializes transfers on the port.
	mutex sync.Mutex
	gone  chan struct{}
	rxBuf [headerSize + maxMessageSize]byte
	txBuf [headerSize + maxMessageSize]byte
}

// HostHAL implements hal.HostHAL on a bus directory. Every device-{uuid}
// subdirectory that signals a connection gets the lowest free port number.
type HostHAL struct {
	busDir string

	mutex       sync.RWMutex
	ports       map[int]*port
	defaultPort int

	connectCh    chan int
	disconnectCh chan int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHostHAL creates a host HAL watching busDir.
func NewHostHAL(busDir string) *HostHAL {
	return &HostHAL{
		busDir:       busDir,
		ports:        make(map[int]*port),
		connectCh:    make(chan int, MaxPorts),
		disconnectCh: make(chan int, MaxPorts),
	}
}

// Init creates the bus directory.
func (h *HostHAL) Init(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)
	if err := os.MkdirAll(h.busDir, 0o755); err != nil {
		return pkg.Wrap(err, "create bus dir")
	}
	pkg.LogInfo(pkg.ComponentHAL, "host fifo HAL initialized", "busDir", h.busDir)
	return nil
}

// Start begins watching the bus directory.
func (h *HostHAL) Start() error {
	if h.ctx == nil {
		return pkg.ErrNotConfigured
	}
	h.wg.Add(1)
	go h.pollDeviceDirectories()
	pkg.LogDebug(pkg.ComponentHAL, "host fifo HAL started")
	return nil
}

// Stop stops watching and closes every port.
func (h *HostHAL) Stop() error {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	h.mutex.Lock()
	for num, p := range h.ports {
		closePort(p)
		delete(h.ports, num)
	}
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "host fifo HAL stopped")
	return nil
}

// PortSpeed reports low speed for every attached device.
func (h *HostHAL) PortSpeed(num int) hal.Speed {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if _, ok := h.ports[num]; !ok {
		return hal.SpeedUnknown
	}
	return hal.SpeedLow
}

// ResetPort resets the device on a port and routes address 0 to it.
func (h *HostHAL) ResetPort(num int) error {
	h.mutex.Lock()
	p, ok := h.ports[num]
	if ok {
		h.defaultPort = num
		p.address = 0
	}
	h.mutex.Unlock()
	if !ok {
		return pkg.Wrapf(pkg.ErrNoDevice, "port %d", num)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	ctx, cancel := context.WithTimeout(h.ctx, TransferTimeout)
	defer cancel()
	if err := p.send(ctx, p.hostToDevice, msgReset, nil); err != nil {
		return pkg.Wrap(err, "send reset")
	}
	msgType, _, err := p.receive(ctx, p.deviceToHost)
	if err != nil {
		return pkg.Wrap(err, "reset reply")
	}
	if msgType != msgAck {
		return pkg.Wrapf(pkg.ErrProtocol, "reset answered with 0x%02X", msgType)
	}
	pkg.LogDebug(pkg.ComponentHAL, "port reset complete", "port", num)
	return nil
}

// ControlTransfer sends a SETUP with its OUT data stage and waits for the
// device's DATA, ACK or STALL.
func (h *HostHAL) ControlTransfer(ctx context.Context, addr hal.DeviceAddress, setup *hal.SetupPacket, data []byte) (int, error) {
	p, err := h.lookup(addr)
	if err != nil {
		return 0, err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	ctx, cancel := context.WithTimeout(ctx, TransferTimeout)
	defer cancel()

	var payload [1 + hal.SetupPacketSize + maxMessageSize]byte
	payload[0] = byte(addr)
	setup.MarshalTo(payload[1:])
	n := 1 + hal.SetupPacketSize
	if !setup.IsIn() {
		out := data
		if len(out) > int(setup.Length) {
			out = out[:setup.Length]
		}
		if n+len(out) > maxMessageSize {
			return 0, pkg.Wrapf(pkg.ErrBufferTooSmall, "data stage of %d bytes", len(out))
		}
		n += copy(payload[n:], out)
	}
	if err := p.send(ctx, p.hostToDevice, msgSetup, payload[:n]); err != nil {
		return 0, pkg.Wrap(err, "send setup")
	}

	msgType, reply, err := p.receive(ctx, p.deviceToHost)
	if err != nil {
		return 0, pkg.Wrap(err, "control reply")
	}

	switch msgType {
	case msgData:
		return copy(data, reply), nil
	case msgAck:
		h.noteAddress(p, addr, setup)
		return n - 1 - hal.SetupPacketSize, nil
	case msgStall:
		return 0, pkg.ErrStall
	default:
		return 0, pkg.Wrapf(pkg.ErrProtocol, "control reply type 0x%02X", msgType)
	}
}

// noteAddress learns the address of the default port from a completed
// SET_ADDRESS.
func (h *HostHAL) noteAddress(p *port, addr hal.DeviceAddress, setup *hal.SetupPacket) {
	const setAddress = 0x05
	if addr != 0 || setup.RequestType != 0x00 || setup.Request != setAddress {
		return
	}
	h.mutex.Lock()
	p.address = hal.DeviceAddress(setup.Value & 0x7F)
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "device address set", "port", p.num, "address", p.address)
}

// BulkTransfer writes one DATA message to an OUT endpoint, or reads one
// from an IN endpoint.
func (h *HostHAL) BulkTransfer(ctx context.Context, addr hal.DeviceAddress, endpoint uint8, data []byte) (int, error) {
	p, err := h.lookup(addr)
	if err != nil {
		return 0, err
	}
	num := int(endpoint & 0x0F)
	if num == 0 || num > MaxEndpoints {
		return 0, pkg.Wrapf(pkg.ErrInvalidEndpoint, "endpoint 0x%02X", endpoint)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	ctx, cancel := context.WithTimeout(ctx, TransferTimeout)
	defer cancel()

	if endpoint&0x80 != 0 {
		msgType, payload, err := p.receive(ctx, p.epIn[num-1])
		if err != nil {
			return 0, err
		}
		if msgType != msgData {
			return 0, pkg.Wrapf(pkg.ErrProtocol, "message type 0x%02X on endpoint 0x%02X", msgType, endpoint)
		}
		return copy(data, payload), nil
	}

	if len(data) > maxMessageSize {
		return 0, pkg.Wrapf(pkg.ErrBufferTooSmall, "packet of %d bytes", len(data))
	}
	if err := p.send(ctx, p.epOut[num-1], msgData, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// WaitForConnection waits for a device to connect.
func (h *HostHAL) WaitForConnection(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.ctx.Done():
		return 0, pkg.ErrCancelled
	case num := <-h.connectCh:
		return num, nil
	}
}

// WaitForDisconnection waits for a device to disconnect.
func (h *HostHAL) WaitForDisconnection(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.ctx.Done():
		return 0, pkg.ErrCancelled
	case num := <-h.disconnectCh:
		return num, nil
	}
}

// Ports returns the attached port numbers in order.
func (h *HostHAL) Ports() []int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	nums := make([]int, 0, len(h.ports))
	for num := range h.ports {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	return nums
}

func (h *HostHAL) lookup(addr hal.DeviceAddress) (*port, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if addr == 0 {
		if p, ok := h.ports[h.defaultPort]; ok {
			return p, nil
		}
		return nil, pkg.Wrap(pkg.ErrNoDevice, "no device at address 0")
	}
	for _, p := range h.ports {
		if p.address == addr {
			return p, nil
		}
	}
	return nil, pkg.Wrapf(pkg.ErrNoDevice, "address %d", addr)
}

// pollDeviceDirectories starts a watcher for each new device directory.
func (h *HostHAL) pollDeviceDirectories() {
	defer h.wg.Done()

	known := make(map[string]bool)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}

		entries, err := os.ReadDir(h.busDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasPrefix(entry.Name(), deviceDirPrefix) {
				continue
			}
			dir := filepath.Join(h.busDir, entry.Name())
			if known[dir] {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, fifoConnection)); err != nil {
				continue
			}
			known[dir] = true
			h.wg.Add(1)
			go h.watchDevice(dir)
		}
		for dir := range known {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				delete(known, dir)
			}
		}
	}
}

// watchDevice follows the connection signals of one device directory. A
// directory is attached at most once: the device makes a new one for every
// attach.
func (h *HostHAL) watchDevice(dir string) {
	defer h.wg.Done()

	conn, err := os.OpenFile(filepath.Join(dir, fifoConnection), os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "failed to open connection FIFO", "dir", dir, "error", err)
		return
	}
	defer conn.Close()

	var (
		p   *port
		sig [1]byte
	)
	defer func() {
		if p != nil {
			h.detach(p)
		}
	}()

	for h.ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := conn.Read(sig[:])
		if err != nil {
			if !os.IsTimeout(err) {
				return
			}
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return
			}
			// Another host may have consumed the connect signal.
			if _, err := os.Stat(filepath.Join(dir, markerAttached)); p == nil && err == nil {
				if p, err = h.attach(dir); err != nil {
					pkg.LogWarn(pkg.ComponentHAL, "failed to open device FIFOs", "dir", dir, "error", err)
					return
				}
			}
			continue
		}
		if n == 0 {
			continue
		}

		switch {
		case sig[0] == sigConnect && p == nil:
			if p, err = h.attach(dir); err != nil {
				pkg.LogWarn(pkg.ComponentHAL, "failed to open device FIFOs", "dir", dir, "error", err)
				return
			}
		case sig[0] == sigDisconnect:
			return
		}
	}
}

func (h *HostHAL) attach(dir string) (*port, error) {
	p := &port{dir: dir, gone: make(chan struct{})}
	if err := openPort(p); err != nil {
		closePort(p)
		return nil, err
	}

	h.mutex.Lock()
	for num := 1; num <= MaxPorts; num++ {
		if _, used := h.ports[num]; !used {
			p.num = num
			break
		}
	}
	if p.num == 0 {
		h.mutex.Unlock()
		closePort(p)
		return nil, pkg.Wrap(pkg.ErrBusy, "no free port")
	}
	h.ports[p.num] = p
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHAL, "device connected", "port", p.num, "dir", dir)
	h.connectCh <- p.num
	return p, nil
}

func (h *HostHAL) detach(p *port) {
	h.mutex.Lock()
	if h.ports[p.num] == p {
		delete(h.ports, p.num)
	}
	if h.defaultPort == p.num {
		h.defaultPort = 0
	}
	h.mutex.Unlock()

	close(p.gone)
	p.mutex.Lock()
	closePort(p)
	p.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHAL, "device disconnected", "port", p.num, "dir", p.dir)
	if h.ctx.Err() == nil {
		h.disconnectCh <- p.num
	}
}

func openPort(p *port) error {
	var err error
	open := func(name string, flag int) (*os.File, error) {
		f, err := os.OpenFile(filepath.Join(p.dir, name), flag|unix.O_NONBLOCK, 0)
		if err != nil {
			return nil, pkg.Wrapf(err, "open %s", name)
		}
		return f, nil
	}
	if p.hostToDevice, err = open(fifoHostToDevice, os.O_WRONLY); err != nil {
		return err
	}
	if p.deviceToHost, err = open(fifoDeviceToHost, os.O_RDONLY); err != nil {
		return err
	}
	for i := 0; i < MaxEndpoints; i++ {
		if p.epIn[i], err = open(fmt.Sprintf("ep%d_in", i+1), os.O_RDONLY); err != nil {
			return err
		}
		if p.epOut[i], err = open(fmt.Sprintf("ep%d_out", i+1), os.O_WRONLY); err != nil {
			return err
		}
	}
	return nil
}

func closePort(p *port) {
	for _, f := range []**os.File{&p.hostToDevice, &p.deviceToHost} {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
	for i := 0; i < MaxEndpoints; i++ {
		if p.epIn[i] != nil {
			p.epIn[i].Close()
			p.epIn[i] = nil
		}
		if p.epOut[i] != nil {
			p.epOut[i].Close()
			p.epOut[i] = nil
		}
	}
}

// send writes one framed message. The caller holds p.mutex.
func (p *port) send(ctx context.Context, f *os.File, msgType byte, data []byte) error {
	if f == nil {
		return pkg.ErrNoDevice
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.txBuf[0] = msgType
	binary.LittleEndian.PutUint16(p.txBuf[1:3], uint16(len(data)))
	n := headerSize + copy(p.txBuf[headerSize:], data)
	_, err := f.Write(p.txBuf[:n])
	return err
}

// receive reads one framed message. The payload aliases p.rxBuf. The
// caller holds p.mutex.
func (p *port) receive(ctx context.Context, f *os.File) (byte, []byte, error) {
	if f == nil {
		return 0, nil, pkg.ErrNoDevice
	}
	if err := p.readFull(ctx, f, p.rxBuf[:headerSize]); err != nil {
		return 0, nil, err
	}
	msgType := p.rxBuf[0]
	n := int(binary.LittleEndian.Uint16(p.rxBuf[1:3]))
	if n > maxMessageSize {
		return 0, nil, pkg.Wrapf(pkg.ErrProtocol, "message length %d", n)
	}
	payload := p.rxBuf[headerSize : headerSize+n]
	if err := p.readFull(ctx, f, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}

func (p *port) readFull(ctx context.Context, f *os.File, buf []byte) error {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return pkg.ErrTimeout
			}
			return ctx.Err()
		case <-p.gone:
			return pkg.ErrNoDevice
		default:
		}

		f.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if err == io.EOF {
				return pkg.Wrap(pkg.ErrNoDevice, "fifo closed")
			}
			return err
		}
	}
	return nil
}

var _ hal.HostHAL = (*HostHAL)(nil)

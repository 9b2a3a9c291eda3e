package fifo

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/udmx/device/hal"
	"github.com/ardnew/udmx/pkg"
)

// MaxEndpoints is the number of data endpoint pairs (ep1..epN) created per
// device. The MIDI variant uses only endpoint 1.
const MaxEndpoints = 2

// MaxPacketSize is the largest payload of one message.
const MaxPacketSize = 1024

// Message types (must match the host HAL).
const (
	msgSetup = 0x01
	msgData  = 0x02
	msgAck   = 0x03
	msgStall = 0x05
	msgReset = 0x12
)

const headerSize = 3 // type (1) + length (2)

// Connection signal bytes.
const (
	sigConnect    = 0x01
	sigDisconnect = 0x00
)

// FIFO file names.
const (
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"
	fifoConnection   = "connection"

	// markerAttached exists while the device is attached, so a host that
	// starts later can attach without the connect signal.
	markerAttached = "attached"
)

// pollTimeout bounds each blocking read so cancellation is noticed.
const pollTimeout = 100 * time.Millisecond

// HAL implements hal.DeviceHAL using named pipes.
type HAL struct {
	busDir string

	// Per-attach state, replaced by every Init.
	deviceDir string
	uuid      string

	hostToDevice *os.File
	deviceToHost *os.File
	connection   *os.File
	epIn         [MaxEndpoints]*os.File
	epOut        [MaxEndpoints]*os.File

	connected uint32 // atomic
	address   uint8
	endpoints []hal.EndpointConfig

	mutex     sync.RWMutex
	writeMu   sync.Mutex
	initDone  bool
	connectCh chan struct{}
	disconnCh chan struct{}
	closeCh   chan struct{}
	closeOnce *sync.Once

	// Control buffers, used only by the stack's control goroutine.
	ctrlBuf  [headerSize + MaxPacketSize]byte
	ep0Out   [MaxPacketSize]byte
	ep0OutN  int
	writeBuf [headerSize + MaxPacketSize]byte
}

// New creates a FIFO device HAL on busDir. Each Init creates a new
// device-{uuid} subdirectory inside busDir.
func New(busDir string) *HAL {
	return &HAL{
		busDir:    busDir,
		connectCh: make(chan struct{}, 1),
		disconnCh: make(chan struct{}, 1),
	}
}

func generateUUID() (string, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return "", err
	}
	uuid[6] = (uuid[6] & 0x0f) | 0x40
	uuid[8] = (uuid[8] & 0x3f) | 0x80
	return hex.EncodeToString(uuid[:]), nil
}

// Init creates the device subdirectory and opens its FIFOs.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	uuid, err := generateUUID()
	if err != nil {
		return pkg.Wrap(err, "generate uuid")
	}
	h.uuid = uuid
	h.deviceDir = filepath.Join(h.busDir, "device-"+uuid)
	h.closeCh = make(chan struct{})
	h.closeOnce = new(sync.Once)
	h.ep0OutN = 0

	if err := os.MkdirAll(h.deviceDir, 0o755); err != nil {
		return pkg.Wrap(err, "create device dir")
	}

	names := []string{fifoHostToDevice, fifoDeviceToHost, fifoConnection}
	for i := 1; i <= MaxEndpoints; i++ {
		names = append(names, fmt.Sprintf("ep%d_in", i), fmt.Sprintf("ep%d_out", i))
	}
	for _, name := range names {
		if err := h.createFIFO(name); err != nil {
			h.cleanup()
			return err
		}
	}

	// O_RDWR keeps every pipe open at both ends, so neither side blocks on
	// open and the host never reads EOF while the device is attached.
	open := func(name string) (*os.File, error) {
		return h.openFIFO(name, os.O_RDWR|unix.O_NONBLOCK)
	}
	if h.connection, err = open(fifoConnection); err != nil {
		h.cleanup()
		return err
	}
	if h.deviceToHost, err = open(fifoDeviceToHost); err != nil {
		h.cleanup()
		return err
	}
	if h.hostToDevice, err = open(fifoHostToDevice); err != nil {
		h.cleanup()
		return err
	}
	for i := 0; i < MaxEndpoints; i++ {
		if h.epIn[i], err = open(fmt.Sprintf("ep%d_in", i+1)); err != nil {
			h.cleanup()
			return err
		}
		if h.epOut[i], err = open(fmt.Sprintf("ep%d_out", i+1)); err != nil {
			h.cleanup()
			return err
		}
	}

	h.initDone = true
	pkg.LogInfo(pkg.ComponentHAL, "fifo device HAL initialized",
		"deviceDir", h.deviceDir)
	return nil
}

// Start signals the connection to the host.
func (h *HAL) Start() error {
	h.mutex.RLock()
	ok, f := h.initDone, h.connection
	h.mutex.RUnlock()
	if !ok {
		return pkg.ErrNotConfigured
	}

	if err := os.WriteFile(filepath.Join(h.deviceDir, markerAttached), nil, 0o644); err != nil {
		return pkg.Wrap(err, "mark attached")
	}
	if _, err := f.Write([]byte{sigConnect}); err != nil {
		return pkg.Wrap(err, "signal connect")
	}
	atomic.StoreUint32(&h.connected, 1)

	select {
	case h.connectCh <- struct{}{}:
	default:
	}

	pkg.LogInfo(pkg.ComponentHAL, "fifo device attached", "uuid", h.UUID())
	return nil
}

// Stop signals disconnection and removes the device directory.
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initDone {
		return nil
	}
	if h.connection != nil {
		h.connection.Write([]byte{sigDisconnect})
	}
	atomic.StoreUint32(&h.connected, 0)

	select {
	case h.disconnCh <- struct{}{}:
	default:
	}
	h.closeOnce.Do(func() { close(h.closeCh) })

	h.cleanup()
	h.initDone = false
	pkg.LogInfo(pkg.ComponentHAL, "fifo device detached", "uuid", h.uuid)
	return nil
}

func (h *HAL) cleanup() {
	for _, f := range []**os.File{&h.hostToDevice, &h.deviceToHost, &h.connection} {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
	for i := 0; i < MaxEndpoints; i++ {
		if h.epIn[i] != nil {
			h.epIn[i].Close()
			h.epIn[i] = nil
		}
		if h.epOut[i] != nil {
			h.epOut[i].Close()
			h.epOut[i] = nil
		}
	}
	if h.deviceDir != "" {
		os.RemoveAll(h.deviceDir)
	}
}

// SetAddress records the device address.
func (h *HAL) SetAddress(address uint8) error {
	h.mutex.Lock()
	h.address = address
	h.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", address)
	return nil
}

// ConfigureEndpoints records the active endpoints. Every endpoint FIFO is
// opened by Init, so nothing else is needed.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.endpoints = h.endpoints[:0]
	for _, ep := range endpoints {
		if num := ep.Number(); num == 0 || num > MaxEndpoints {
			return pkg.Wrapf(pkg.ErrInvalidEndpoint, "endpoint 0x%02X", ep.Address)
		}
		h.endpoints = append(h.endpoints, ep)
	}
	pkg.LogDebug(pkg.ComponentHAL, "endpoints configured", "count", len(h.endpoints))
	return nil
}

// ReadSetup blocks for the next SETUP message. A reset message is
// acknowledged and reported as pkg.ErrReset. Any OUT data carried with the
// SETUP is kept for ReadEP0.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	h.mutex.RLock()
	f, closeCh := h.hostToDevice, h.closeCh
	h.mutex.RUnlock()
	if f == nil {
		return pkg.ErrNotConfigured
	}

	for {
		msgType, payload, err := readMessage(ctx, closeCh, f, h.ctrlBuf[:])
		if err != nil {
			return err
		}

		switch msgType {
		case msgSetup:
			if len(payload) < 1+hal.SetupPacketSize {
				return pkg.ErrSetupPacketTooShort
			}
			hal.ParseSetupPacket(payload[1:1+hal.SetupPacketSize], out)
			h.ep0OutN = copy(h.ep0Out[:], payload[1+hal.SetupPacketSize:])
			return nil

		case msgReset:
			h.ep0OutN = 0
			if err := h.send(ctx, h.control(), msgAck, nil); err != nil {
				return err
			}
			return pkg.ErrReset

		default:
			pkg.LogWarn(pkg.ComponentHAL, "unexpected message on EP0", "type", msgType)
		}
	}
}

// WriteEP0 sends the IN data stage, even when it is empty.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	return h.send(ctx, h.control(), msgData, data)
}

// ReadEP0 returns the OUT data stage that arrived with the last SETUP.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	n := copy(buf, h.ep0Out[:h.ep0OutN])
	h.ep0OutN = 0
	return n, nil
}

// StallEP0 rejects the current control transfer.
func (h *HAL) StallEP0() error {
	pkg.LogDebug(pkg.ComponentHAL, "EP0 stalled")
	return h.send(context.Background(), h.control(), msgStall, nil)
}

// AckEP0 completes the status stage of a control OUT transfer.
func (h *HAL) AckEP0() error {
	return h.send(context.Background(), h.control(), msgAck, nil)
}

// Read blocks for the next DATA message on an OUT endpoint.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	f, closeCh, err := h.endpoint(address, false)
	if err != nil {
		return 0, err
	}

	var pkt [headerSize + MaxPacketSize]byte
	msgType, payload, err := readMessage(ctx, closeCh, f, pkt[:])
	if err != nil {
		return 0, err
	}
	if msgType != msgData {
		return 0, pkg.Wrapf(pkg.ErrProtocol, "message type 0x%02X on endpoint 0x%02X", msgType, address)
	}
	if len(payload) > len(buf) {
		return 0, pkg.ErrBufferTooSmall
	}
	return copy(buf, payload), nil
}

// Write sends a DATA message on an IN endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	f, _, err := h.endpoint(address, true)
	if err != nil {
		return 0, err
	}
	if err := h.send(ctx, f, msgData, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Stall is tracked by the stack; the pipe has no stall condition.
func (h *HAL) Stall(address uint8) error {
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stalled", "address", address)
	return nil
}

// ClearStall is tracked by the stack; the pipe has no stall condition.
func (h *HAL) ClearStall(address uint8) error {
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stall cleared", "address", address)
	return nil
}

// IsConnected returns true between Start and Stop.
func (h *HAL) IsConnected() bool {
	return atomic.LoadUint32(&h.connected) == 1
}

// GetSpeed reports low speed, which is what the V-USB based uDMX runs at.
func (h *HAL) GetSpeed() hal.Speed {
	return hal.SpeedLow
}

// WaitConnect blocks until Start or ctx is cancelled.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	}
}

// WaitDisconnect blocks until Stop or ctx is cancelled.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.disconnCh:
		return nil
	}
}

// DeviceDir returns the current device subdirectory.
func (h *HAL) DeviceDir() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.deviceDir
}

// UUID returns the identifier of the current attach.
func (h *HAL) UUID() string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.uuid
}

func (h *HAL) control() *os.File {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.deviceToHost
}

func (h *HAL) endpoint(address uint8, in bool) (*os.File, <-chan struct{}, error) {
	num := int(address & 0x0F)
	if num == 0 || num > MaxEndpoints || (address&0x80 != 0) != in {
		return nil, nil, pkg.Wrapf(pkg.ErrInvalidEndpoint, "endpoint 0x%02X", address)
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	f := h.epOut[num-1]
	if in {
		f = h.epIn[num-1]
	}
	if f == nil {
		return nil, nil, pkg.ErrNotConfigured
	}
	return f, h.closeCh, nil
}

func (h *HAL) createFIFO(name string) error {
	path := filepath.Join(h.deviceDir, name)
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return pkg.Wrapf(err, "mkfifo %s", name)
	}
	return nil
}

func (h *HAL) openFIFO(name string, flag int) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(h.deviceDir, name), flag, 0)
	if err != nil {
		return nil, pkg.Wrapf(err, "open %s", name)
	}
	return f, nil
}

// send writes one framed message. Payloads longer than MaxPacketSize are
// truncated.
func (h *HAL) send(ctx context.Context, f *os.File, msgType byte, data []byte) error {
	if f == nil {
		return pkg.ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	n := len(data)
	if n > MaxPacketSize {
		n = MaxPacketSize
	}
	h.writeBuf[0] = msgType
	binary.LittleEndian.PutUint16(h.writeBuf[1:3], uint16(n))
	copy(h.writeBuf[headerSize:], data[:n])

	_, err := f.Write(h.writeBuf[:headerSize+n])
	return err
}

// readMessage reads one framed message into buf and returns its type and
// payload.
func readMessage(ctx context.Context, closeCh <-chan struct{}, f *os.File, buf []byte) (byte, []byte, error) {
	if err := readFull(ctx, closeCh, f, buf[:headerSize]); err != nil {
		return 0, nil, err
	}
	msgType := buf[0]
	n := int(binary.LittleEndian.Uint16(buf[1:3]))
	if headerSize+n > len(buf) {
		return 0, nil, pkg.Wrapf(pkg.ErrProtocol, "message length %d", n)
	}
	payload := buf[headerSize : headerSize+n]
	if err := readFull(ctx, closeCh, f, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}

// readFull fills buf, retrying on read deadlines until ctx or closeCh ends
// the wait.
func readFull(ctx context.Context, closeCh <-chan struct{}, f *os.File, buf []byte) error {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-closeCh:
			return pkg.ErrCancelled
		default:
		}

		f.SetReadDeadline(time.Now().Add(pollTimeout))
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if err == io.EOF {
				return pkg.Wrap(io.ErrUnexpectedEOF, "fifo closed")
			}
			return err
		}
	}
	return nil
}

var _ hal.DeviceHAL = (*HAL)(nil)

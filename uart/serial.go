package uart

import (
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/pkg"
)

// SerialOptions configures a Serial line.
type SerialOptions struct {
	// Port is the device path, e.g. /dev/ttyUSB0.
	Port string

	// BaudRate defaults to firmware.BaudRate.
	BaudRate uint
}

// Serial is a firmware.Line on a serial port. Bytes written during a packet
// are queued. The first TXComplete poll hands them to the port in one write
// on a separate goroutine, and TXComplete reports false until that write
// has drained. BREAK and MARK toggle the port's break condition.
type Serial struct {
	port io.ReadWriteCloser
	name string

	mutex    sync.Mutex
	pending  []byte
	spare    []byte
	txc      bool
	inflight chan struct{}
	inBreak  bool
	deadline time.Time
	now      func() time.Time

	written uint64
	errors  uint64
}

// OpenSerial opens and configures a serial port for DMX-512: 250 kbit/s,
// 8 data bits, no parity, 2 stop bits.
func OpenSerial(opts SerialOptions) (*Serial, error) {
	if opts.Port == "" {
		return nil, pkg.Wrap(pkg.ErrInvalidParameter, "serial port name")
	}
	baud := opts.BaudRate
	if baud == 0 {
		baud = firmware.BaudRate
	}
	port, err := serial.Open(serial.OpenOptions{
		PortName:        opts.Port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        2,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, pkg.Wrapf(err, "open %s", opts.Port)
	}
	pkg.LogInfo(pkg.ComponentUART, "serial port opened",
		"port", opts.Port,
		"baud", baud)
	return newSerial(port, opts.Port), nil
}

func newSerial(port io.ReadWriteCloser, name string) *Serial {
	return &Serial{
		port:    port,
		name:    name,
		pending: make([]byte, 0, firmware.NumChannels+1),
		spare:   make([]byte, 0, firmware.NumChannels+1),
		now:     time.Now,
	}
}

// Close waits for a transmission in progress and releases the port.
func (s *Serial) Close() error {
	s.mutex.Lock()
	for s.inflight != nil {
		done := s.inflight
		s.mutex.Unlock()
		<-done
		s.mutex.Lock()
	}
	defer s.mutex.Unlock()
	if s.port == nil {
		return nil
	}
	if s.inBreak {
		s.setBreakLocked(false)
	}
	err := s.port.Close()
	s.port = nil
	pkg.LogInfo(pkg.ComponentUART, "serial port closed", "port", s.name)
	return err
}

// EnableTX implements firmware.Line.
func (s *Serial) EnableTX() {}

// DisableTX implements firmware.Line.
func (s *Serial) DisableTX() {}

// ClearTXComplete implements firmware.Line.
func (s *Serial) ClearTXComplete() {
	s.mutex.Lock()
	s.txc = false
	s.mutex.Unlock()
}

// DataRegisterEmpty implements firmware.Line. Bytes are queued, so the
// register is always free.
func (s *Serial) DataRegisterEmpty() bool {
	return true
}

// WriteByte implements firmware.Line.
func (s *Serial) WriteByte(b byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pending = append(s.pending, b)
	s.txc = false
	return nil
}

// TXComplete implements firmware.Line. It never blocks: the queued packet is
// written and drained in the background.
func (s *Serial) TXComplete() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.txc {
		return true
	}
	if s.inflight != nil {
		return false
	}
	if s.port == nil || len(s.pending) == 0 {
		s.pending = s.pending[:0]
		s.txc = true
		return true
	}

	buf := s.pending
	s.pending, s.spare = s.spare[:0], nil
	done := make(chan struct{})
	s.inflight = done
	go s.transmit(s.port, buf, done)
	return false
}

// transmit writes buf to port and waits for it to leave the wire.
func (s *Serial) transmit(port io.ReadWriteCloser, buf []byte, done chan struct{}) {
	defer close(done)

	n, err := port.Write(buf)
	if err != nil {
		pkg.LogWarn(pkg.ComponentUART, "write failed", "port", s.name, "error", err)
	} else if derr := drain(port); derr != nil && !pkg.Is(derr, pkg.ErrNotSupported) {
		pkg.LogWarn(pkg.ComponentUART, "drain failed", "port", s.name, "error", derr)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.written += uint64(n)
	if err != nil {
		s.errors++
	}
	s.spare = buf[:0]
	s.inflight = nil
	s.txc = len(s.pending) == 0
}

// Break implements firmware.Line.
func (s *Serial) Break() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.setBreakLocked(true)
}

// Mark implements firmware.Line.
func (s *Serial) Mark() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.setBreakLocked(false)
}

func (s *Serial) setBreakLocked(on bool) {
	s.inBreak = on
	if s.port == nil {
		return
	}
	if err := setBreak(s.port, on); err != nil && !pkg.Is(err, pkg.ErrNotSupported) {
		s.errors++
		pkg.LogDebug(pkg.ComponentUART, "break control failed", "on", on, "error", err)
	}
}

// ArmTimer implements firmware.Line.
func (s *Serial) ArmTimer(d time.Duration) {
	s.mutex.Lock()
	s.deadline = s.now().Add(d)
	s.mutex.Unlock()
}

// TimerExpired implements firmware.Line.
func (s *Serial) TimerExpired() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return !s.now().Before(s.deadline)
}

// Written returns the number of bytes handed to the port.
func (s *Serial) Written() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.written
}

// Errors returns the number of failed port operations.
func (s *Serial) Errors() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.errors
}

// fder is implemented by ports backed by a file descriptor.
type fder interface {
	Fd() uintptr
}

var _ firmware.Line = (*Serial)(nil)

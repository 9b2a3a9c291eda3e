package uart

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/pkg"
)

// fakePort records writes. It has no file descriptor, so break control and
// drain are unsupported on it. A non-zero byteTime makes Write take as long
// as the bytes would take on the wire.
type fakePort struct {
	mu       sync.Mutex
	writes   [][]byte
	err      error
	closed   bool
	byteTime time.Duration
}

func (p *fakePort) Read(b []byte) (int, error) { return 0, nil }

func (p *fakePort) Write(b []byte) (int, error) {
	time.Sleep(time.Duration(len(b)) * p.byteTime)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

func waitTXComplete(t *testing.T, line *Serial) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !line.TXComplete() {
		if time.Now().After(deadline) {
			t.Fatal("TXComplete() still false after 1s")
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func TestSerialFrames(t *testing.T) {
	c := firmware.NewContext()
	h := firmware.NewHandler(c, nil)
	h.SetChannel(1, 0x7F)

	port := &fakePort{}
	line := newSerial(port, "fake")
	seq := firmware.NewSequencer(c, line, nil)

	for i := 0; i < 1000 && len(port.written()) < 2; i++ {
		seq.Step()
		// The hosted timer runs on the wall clock.
		time.Sleep(10 * time.Microsecond)
	}
	writes := port.written()
	if len(writes) < 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	want := []byte{firmware.StartCode, 0, 0x7F}
	for i, w := range writes[:2] {
		if !bytes.Equal(w, want) {
			t.Errorf("write %d = % X, want % X", i, w, want)
		}
	}
	if line.Errors() != 0 {
		t.Errorf("Errors() = %d, want 0", line.Errors())
	}

	if err := line.Close(); err != nil || !port.closed {
		t.Errorf("Close() = %v, closed = %v", err, port.closed)
	}
	if line.Written() < 6 {
		t.Errorf("Written() after Close = %d, want at least 6", line.Written())
	}
	if err := line.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestSerialWriteError(t *testing.T) {
	port := &fakePort{err: errors.New("unplugged")}
	line := newSerial(port, "fake")
	line.WriteByte(0)
	waitTXComplete(t, line)
	if line.Errors() != 1 {
		t.Errorf("Errors() = %d, want 1", line.Errors())
	}
}

func TestSerialTimer(t *testing.T) {
	line := newSerial(&fakePort{}, "fake")
	now := time.Unix(0, 0)
	line.now = func() time.Time { return now }

	line.ArmTimer(firmware.BreakTime)
	if line.TimerExpired() {
		t.Error("timer expired immediately")
	}
	now = now.Add(firmware.BreakTime)
	if !line.TimerExpired() {
		t.Error("timer not expired after BreakTime")
	}
}

func TestOpenSerialErrors(t *testing.T) {
	if _, err := OpenSerial(SerialOptions{}); !pkg.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("OpenSerial() without port error = %v", err)
	}
	if _, err := OpenSerial(SerialOptions{Port: t.TempDir() + "/missing"}); err == nil {
		t.Error("OpenSerial() on a missing port succeeded")
	}
}

func TestSerialTXCompleteDoesNotBlock(t *testing.T) {
	port := &fakePort{byteTime: firmware.ByteTime}
	line := newSerial(port, "fake")
	for i := range firmware.NumChannels + 1 {
		line.WriteByte(byte(i))
	}

	start := time.Now()
	if line.TXComplete() {
		t.Fatal("TXComplete() = true before the frame left the port")
	}
	if d := time.Since(start); d > 5*time.Millisecond {
		t.Errorf("TXComplete() blocked for %v", d)
	}
	waitTXComplete(t, line)
	if n := line.Written(); n != firmware.NumChannels+1 {
		t.Errorf("Written() = %d, want %d", n, firmware.NumChannels+1)
	}
}

func TestSerialFrameDoesNotLockContext(t *testing.T) {
	c := firmware.NewContext()
	h := firmware.NewHandler(c, nil)
	for ch := range uint16(firmware.NumChannels) {
		h.SetChannel(ch, 1)
	}

	port := &fakePort{byteTime: firmware.ByteTime}
	line := newSerial(port, "fake")
	seq := firmware.NewSequencer(c, line, nil)
	// Reaching EndOfPacket hands the frame to the port.
	for c.DMXState() != firmware.DMXEndOfPacket {
		seq.Step()
	}

	start := time.Now()
	if err := h.SetChannel(0, 9); err != nil {
		t.Fatalf("SetChannel() = %v", err)
	}
	if d := time.Since(start); d > 5*time.Millisecond {
		t.Errorf("SetChannel() blocked for %v while the frame drained", d)
	}
	if err := line.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

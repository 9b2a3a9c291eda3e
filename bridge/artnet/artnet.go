// Package artnet mirrors the frames a uDMX puts on its DMX line to an
// Art-Net universe.
package artnet

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Haba1234/go-artnet"

	"github.com/ardnew/udmx/firmware"
	"github.com/ardnew/udmx/pkg"
)

// Options configures a Mirror.
type Options struct {
	// CIDR selects the local interface: the first IPv4 address inside it.
	CIDR string

	// Net and SubUni form the Art-Net port address of the universe.
	Net    uint8
	SubUni uint8

	// MaxFPS caps how often the universe is sent.
	MaxFPS int

	// LogLevel is passed to the Art-Net controller's logger.
	LogLevel string
}

// Mirror forwards the latest transmitted frame to an Art-Net controller at
// most MaxFPS times per second.
type Mirror struct {
	address artnet.Address
	period  time.Duration

	start func() error
	stop  func()
	send  func(dmx [512]byte, addr artnet.Address)

	mutex  sync.Mutex
	latest [512]byte
	dirty  bool
	sent   uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a mirror on the interface inside opts.CIDR.
func New(opts Options) (*Mirror, error) {
	ip, err := FindIP(opts.CIDR)
	if err != nil {
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, pkg.Wrap(err, "resolve hostname")
	}
	host = strings.ToLower(strings.Split(host, ".")[0])

	level := opts.LogLevel
	if level == "" {
		level = "info"
	}
	fps := opts.MaxFPS
	if fps <= 0 {
		fps = 40
	}
	ctrl := artnet.NewController(host, ip, artnet.NewDefaultLogger(level), artnet.MaxFPS(fps))

	pkg.LogInfo(pkg.ComponentArtNet, "using art-net interface",
		"ip", ip.String(),
		"host", host)

	return newMirror(
		artnet.Address{Net: opts.Net, SubUni: opts.SubUni},
		fps,
		ctrl.Start,
		func() { ctrl.Stop() },
		func(dmx [512]byte, addr artnet.Address) { ctrl.SendDMXToAddress(dmx, addr) },
	), nil
}

func newMirror(addr artnet.Address, fps int, start func() error, stop func(), send func([512]byte, artnet.Address)) *Mirror {
	return &Mirror{
		address: addr,
		period:  time.Second / time.Duration(fps),
		start:   start,
		stop:    stop,
		send:    send,
	}
}

// FindIP returns the first local IPv4 address inside cidr.
func FindIP(cidr string) (net.IP, error) {
	_, cidrNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, pkg.Wrapf(err, "art-net cidr %q", cidr)
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, pkg.Wrap(err, "list interface addresses")
	}
	if ip := matchIP(cidrNet, addrs); ip != nil {
		return ip, nil
	}
	return nil, pkg.Wrapf(pkg.ErrNotFound, "no interface inside %s", cidr)
}

func matchIP(cidrNet *net.IPNet, addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.To4() == nil {
			continue
		}
		if cidrNet.Contains(ipNet.IP) {
			return ipNet.IP
		}
	}
	return nil
}

// Address returns the Art-Net port address frames are sent to.
func (m *Mirror) Address() artnet.Address {
	return m.address
}

// Start starts the controller and the send loop.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.start(); err != nil {
		return pkg.Wrap(err, "start art-net controller")
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.sendLoop(ctx)
	return nil
}

// Stop ends the send loop and the controller.
func (m *Mirror) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
	m.stop()
}

// Frame records f as the latest universe. It is a firmware.Sequencer
// OnFrame hook and never blocks.
func (m *Mirror) Frame(f firmware.Frame) {
	if f.StartCode != firmware.StartCode {
		return
	}
	m.mutex.Lock()
	n := copy(m.latest[:], f.Data)
	for i := n; i < len(m.latest); i++ {
		m.latest[i] = 0
	}
	m.dirty = true
	m.mutex.Unlock()
}

// Sent returns the number of universes handed to the controller.
func (m *Mirror) Sent() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.sent
}

func (m *Mirror) sendLoop(ctx context.Context) {
	defer m.wg.Done()

	tick := time.NewTicker(m.period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.flush()
		}
	}
}

func (m *Mirror) flush() {
	m.mutex.Lock()
	if !m.dirty {
		m.mutex.Unlock()
		return
	}
	dmx := m.latest
	m.dirty = false
	m.sent++
	m.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentArtNet, "sending universe", "address", m.address.String())
	m.send(dmx, m.address)
}

package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ardnew/udmx/firmware"
)

// monitorChannels is how many channels the live view shows.
const monitorChannels = 32

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#fff"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	zeroStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
	greenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#0c0"))
	amberStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fa0"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tickMsg time.Time

// sample is what the monitor reads from the emulator on each tick.
type sample struct {
	snap     firmware.Snapshot
	channels [firmware.NumChannels]byte
	led      firmware.LEDState
	frames   uint64
	at       time.Time
}

func (e *emulator) sample() sample {
	return sample{
		snap:     e.runner.Context.Snapshot(),
		channels: e.runner.Context.Channels(),
		led:      e.leds.Get(),
		frames:   e.Frames(),
		at:       time.Now(),
	}
}

// monitor is the bubbletea model of the live view.
type monitor struct {
	read     func() sample
	interval time.Duration
	title    string

	cur, prev sample
	fps       float64
	quitting  bool
}

func newMonitor(e *emulator) monitor {
	return monitor{
		read:     e.sample,
		interval: 250 * time.Millisecond,
		title:    fmt.Sprintf("uDMX %s  %s", e.variant, e.cfg.Device.BusDir),
	}
}

func (m monitor) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m monitor) Init() tea.Cmd {
	return m.tick()
}

func (m monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		m.prev, m.cur = m.cur, m.read()
		m.fps = frameRate(m.prev, m.cur)
		return m, m.tick()
	}
	return m, nil
}

// frameRate is the number of frames per second between two samples.
func frameRate(prev, cur sample) float64 {
	if prev.at.IsZero() || !cur.at.After(prev.at) || cur.frames < prev.frames {
		return 0
	}
	return float64(cur.frames-prev.frames) / cur.at.Sub(prev.at).Seconds()
}

func ledView(l firmware.LEDState) string {
	green, amber := labelStyle.Render("○"), labelStyle.Render("○")
	if l == firmware.LEDGreen || l == firmware.LEDBoth {
		green = greenStyle.Render("●")
	}
	if l == firmware.LEDYellow || l == firmware.LEDBoth {
		amber = amberStyle.Render("●")
	}
	return green + " " + amber
}

func (m monitor) View() string {
	if m.quitting {
		return ""
	}
	s := m.cur.snap

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %-12s %s %-14s %s %s\n",
		labelStyle.Render("dmx"), s.DMXState,
		labelStyle.Render("usb"), s.USBState,
		labelStyle.Render("led"), ledView(m.cur.led))
	fmt.Fprintf(&b, "%s %-4d %s %-6d %s %-8d %s %.1f\n\n",
		labelStyle.Render("packet"), s.PacketLen,
		labelStyle.Render("keep-alive"), s.KeepAlive,
		labelStyle.Render("frames"), m.cur.frames,
		labelStyle.Render("fps"), m.fps)

	for row := 0; row < monitorChannels; row += 8 {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%3d ", row)))
		for ch := row; ch < row+8; ch++ {
			v := m.cur.channels[ch]
			cell := fmt.Sprintf(" %3d", v)
			if v == 0 {
				b.WriteString(zeroStyle.Render(cell))
			} else {
				b.WriteString(valueStyle.Render(cell))
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("\n" + labelStyle.Render("q to quit"))
	return boxStyle.Render(b.String()) + "\n"
}

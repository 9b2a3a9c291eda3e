// Package config loads the TOML configuration shared by the uDMX emulator
// and the command line tool.
package config

import (
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ardnew/udmx/pkg"
)

// Config is the complete configuration file.
type Config struct {
	Logger LogConf    `toml:"logger"`
	Device DeviceConf `toml:"device"`
	ArtNet ArtNetConf `toml:"artnet"`
	MQTT   MQTTConf   `toml:"mqtt"`
	Host   HostConf   `toml:"host"`
}

// LogConf configures logging.
type LogConf struct {
	Level  string `toml:"log-level"` // debug, info, warn, error
	Format string `toml:"format"`    // text or json
}

// DeviceConf configures the emulated interface.
type DeviceConf struct {
	Variant string   `toml:"variant"` // standard or midi
	Serial  string   `toml:"serial"`
	BusDir  string   `toml:"bus-dir"`
	Line    string   `toml:"line"` // sim or serial
	Port    string   `toml:"port"` // serial device for line = "serial"
	Tick    Duration `toml:"tick"` // main loop poll interval
}

// ArtNetConf configures the Art-Net mirror.
type ArtNetConf struct {
	Enabled bool   `toml:"enabled"`
	CIDR    string `toml:"cidr"`
	Net     uint8  `toml:"net"`
	SubUni  uint8  `toml:"subuni"`
	MaxFPS  int    `toml:"max-fps"`
}

// MQTTConf configures the MQTT bridge.
type MQTTConf struct {
	Enabled  bool   `toml:"enabled"`
	Server   string `toml:"server"`
	Port     string `toml:"port"`
	ClientID string `toml:"client-id"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Topic    string `toml:"topic"`
	QoS      byte   `toml:"qos"`
}

// HostConf configures the host-side client.
type HostConf struct {
	SpeedLim int    `toml:"speedlim"` // milliseconds between range writes
	Serial   string `toml:"serial"`   // bind to this unit
}

// Duration is a time.Duration written as a string such as "250us".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return pkg.Wrapf(err, "duration %q", text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultBusDir is where the named-pipe bus lives unless configured.
func DefaultBusDir() string {
	return filepath.Join(os.TempDir(), "udmx-bus")
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "warn", Format: "text"},
		Device: DeviceConf{
			Variant: "standard",
			BusDir:  DefaultBusDir(),
			Line:    "sim",
			Tick:    Duration{time.Millisecond},
		},
		ArtNet: ArtNetConf{
			CIDR:   "2.0.0.0/8",
			MaxFPS: 40,
		},
		MQTT: MQTTConf{
			Server:   "localhost",
			Port:     "1883",
			ClientID: "udmx",
			Topic:    "udmx",
		},
		Host: HostConf{SpeedLim: 10},
	}
}

// Load decodes path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, pkg.Wrapf(err, "config %s", path)
	}
	for _, key := range md.Undecoded() {
		pkg.LogWarn(pkg.ComponentCLI, "unknown config key", "key", key.String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, pkg.Wrapf(err, "config %s", path)
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "", "text", "json":
	default:
		return pkg.Wrapf(pkg.ErrInvalidParameter, "logger.format %q", c.Logger.Format)
	}
	switch c.Device.Variant {
	case "", "standard", "midi":
	default:
		return pkg.Wrapf(pkg.ErrInvalidParameter, "device.variant %q", c.Device.Variant)
	}
	switch c.Device.Line {
	case "", "sim":
	case "serial":
		if c.Device.Port == "" {
			return pkg.Wrap(pkg.ErrInvalidParameter, "device.port is required for a serial line")
		}
	default:
		return pkg.Wrapf(pkg.ErrInvalidParameter, "device.line %q", c.Device.Line)
	}
	if c.Device.Tick.Duration < 0 {
		return pkg.Wrapf(pkg.ErrInvalidParameter, "device.tick %v", c.Device.Tick)
	}
	if c.ArtNet.Enabled {
		if _, _, err := net.ParseCIDR(c.ArtNet.CIDR); err != nil {
			return pkg.Wrapf(pkg.ErrInvalidParameter, "artnet.cidr %q", c.ArtNet.CIDR)
		}
		if c.ArtNet.Net > 0x7F || c.ArtNet.MaxFPS <= 0 {
			return pkg.Wrap(pkg.ErrInvalidParameter, "artnet.net must be below 128 and artnet.max-fps positive")
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Server == "" || c.MQTT.Topic == "" {
			return pkg.Wrap(pkg.ErrInvalidParameter, "mqtt.server and mqtt.topic are required")
		}
		if c.MQTT.QoS > 2 {
			return pkg.Wrapf(pkg.ErrInvalidParameter, "mqtt.qos %d", c.MQTT.QoS)
		}
	}
	if c.Host.SpeedLim < 0 {
		return pkg.Wrapf(pkg.ErrInvalidParameter, "host.speedlim %d", c.Host.SpeedLim)
	}
	return nil
}

// Apply configures the default logger.
func (l LogConf) Apply() error {
	if l.Level != "" {
		if err := pkg.ParseLogLevel(l.Level); err != nil {
			return err
		}
	}
	if l.Format == "json" {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	} else {
		pkg.SetLogFormat(pkg.LogFormatText)
	}
	return nil
}

// SpeedLimit returns host.speedlim as a duration.
func (h HostConf) SpeedLimit() time.Duration {
	return time.Duration(h.SpeedLim) * time.Millisecond
}

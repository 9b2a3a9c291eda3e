// Command udmxd emulates a uDMX interface on the named-pipe bus.
//
// It runs the firmware main loop with a simulated DMX line or a real one
// on a serial port, and can mirror the transmitted frames to Art-Net and
// MQTT. Point the udmx tool at the same bus directory to drive it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli"
	"github.com/xlab/closer"

	"github.com/ardnew/udmx/config"
	"github.com/ardnew/udmx/pkg"
)

var version string

func init() {
	if version == "" {
		version = "unknown"
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "udmxd"
	app.HelpName = "udmxd"
	app.Version = version
	app.Usage = "Emulates a uDMX USB to DMX-512 interface"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "TOML configuration file",
		},
		cli.StringFlag{
			Name:  "bus, b",
			Usage: "Directory of the named-pipe bus",
		},
		cli.StringFlag{
			Name:  "variant",
			Usage: "Firmware variant (standard|midi)",
		},
		cli.StringFlag{
			Name:  "serial, s",
			Usage: "Serial number string",
		},
		cli.StringFlag{
			Name:  "port, p",
			Usage: "Drive a real DMX line on this serial port instead of the simulator",
		},
		cli.BoolFlag{
			Name:  "artnet",
			Usage: "Mirror frames to Art-Net",
		},
		cli.BoolFlag{
			Name:  "mqtt",
			Usage: "Publish state to MQTT",
		},
		cli.BoolFlag{
			Name:  "monitor, m",
			Usage: "Show a live view of the device",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "Write log messages to this file",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "Show debug messages",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the flags over it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("bus"); v != "" {
		cfg.Device.BusDir = v
	}
	if v := c.String("variant"); v != "" {
		cfg.Device.Variant = v
	}
	if v := c.String("serial"); v != "" {
		cfg.Device.Serial = v
	}
	if v := c.String("port"); v != "" {
		cfg.Device.Line, cfg.Device.Port = "serial", v
	}
	if c.Bool("artnet") {
		cfg.ArtNet.Enabled = true
	}
	if c.Bool("mqtt") {
		cfg.MQTT.Enabled = true
	}
	if c.Bool("debug") {
		cfg.Logger.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// setupLog applies the logger configuration. The live view owns the
// terminal, so logs go to the --log file or nowhere.
func setupLog(c *cli.Context, cfg *config.Config) error {
	if err := cfg.Logger.Apply(); err != nil {
		return err
	}
	if path := c.String("log"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return pkg.Wrapf(err, "log file %s", path)
		}
		closer.Bind(func() { f.Close() })
		pkg.SetLogOutput(f)
	} else if c.Bool("monitor") {
		pkg.SetLogOutput(io.Discard)
	}
	return nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := setupLog(c, cfg); err != nil {
		return cli.NewExitError(err, 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e, err := newEmulator(ctx, cfg)
	if err != nil {
		cancel()
		return cli.NewExitError(err, 1)
	}
	closer.Bind(func() {
		cancel()
		e.close()
		pkg.LogInfo(pkg.ComponentFirmware, "emulator stopped")
	})

	if err := e.startBridges(ctx); err != nil {
		pkg.LogError(pkg.ComponentFirmware, "bridge failed", "error", err)
		closer.Exit(1)
	}

	go func() {
		err := e.run(ctx)
		switch {
		case err == nil, ctx.Err() != nil:
			return
		case pkg.Is(err, pkg.ErrBootloader):
			pkg.LogInfo(pkg.ComponentFirmware, "device handed over to the bootloader")
			closer.Close()
		default:
			pkg.LogError(pkg.ComponentFirmware, "main loop failed", "error", err)
			closer.Exit(1)
		}
	}()

	if c.Bool("monitor") {
		if _, err := tea.NewProgram(newMonitor(e)).Run(); err != nil {
			pkg.LogError(pkg.ComponentCLI, "monitor failed", "error", err)
			closer.Exit(1)
		}
		closer.Close()
	}
	closer.Hold()
	return nil
}
